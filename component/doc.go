// Package component defines the lifecycle and discovery contracts shared by
// the long-running parts of the monitor.
//
// # Overview
//
// Every part that owns goroutines (the engine session, the HTTP gateway)
// implements LifecycleComponent:
//
//	Initialize() error                 // Setup only, NO context
//	Start(ctx context.Context) error   // Start with context passed through
//	Stop(timeout time.Duration) error  // Graceful shutdown with timeout
//
// and Discoverable, which exposes metadata, health and data flow to the
// /health endpoint and to the Manager.
//
// # Manager
//
// Manager starts components in registration order and stops them in
// reverse:
//
//	m := component.NewManager(logger)
//	_ = m.Add("session", session)
//	_ = m.Add("http", server)
//	if err := m.Start(ctx); err != nil {
//		return err
//	}
//	defer m.Stop(10 * time.Second)
//
// Each component gets a child context that is cancelled after its Stop.
// Transient start failures are retried briefly; invalid or fatal ones abort
// the start and roll back the components already running.
//
// # Testing
//
// StandardLifecycleTests checks the shared contract against any component:
//
//	func TestSession_StandardLifecycle(t *testing.T) {
//		component.StandardLifecycleTests(t, func() component.LifecycleComponent {
//			s, _ := engine.New(engine.DefaultConfig(), deps)
//			return s
//		})
//	}
package component
