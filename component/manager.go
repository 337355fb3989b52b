package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	stderrors "errors"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/pkg/retry"
)

// ManagedComponent tracks a component and its lifecycle state
type ManagedComponent struct {
	Name      string
	Component LifecycleComponent
	State     State
	// StartOrder is the position in the start sequence; stop runs in reverse.
	StartOrder int
	LastError  error

	// cancel cancels the child context passed to Start.
	cancel context.CancelFunc
}

// Manager starts components in registration order and stops them in
// reverse. Each component receives its own child context.
type Manager struct {
	logger *slog.Logger
	retry  retry.Config

	mu         sync.RWMutex
	components map[string]*ManagedComponent
	order      []string
	started    bool
}

// NewManager creates an empty manager. Start failures are retried with
// retry.Quick unless the error is invalid or fatal.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:     logger.With("component", "manager"),
		retry:      retry.Quick(),
		components: make(map[string]*ManagedComponent),
	}
}

// Add registers comp under name. Components cannot be added once the
// manager has started.
func (m *Manager) Add(name string, comp LifecycleComponent) error {
	if name == "" || comp == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Add", "validate component")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Add", "add component")
	}
	if _, exists := m.components[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("component %q is already registered", name),
			"Manager", "Add", "duplicate component check")
	}
	m.components[name] = &ManagedComponent{Name: name, Component: comp, State: StateCreated}
	m.order = append(m.order, name)
	return nil
}

// Start initializes and starts every component in order. On the first
// failure the components already started are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Start", "start components")
	}

	for i, name := range m.order {
		mc := m.components[name]
		if err := m.startOne(ctx, mc); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			m.logger.Error("Component failed to start", "name", name, "error", err)
			m.stopStarted(i-1, 5*time.Second)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("start %s", name))
		}
		mc.StartOrder = i
		m.logger.Info("Component started", "name", name, "type", mc.Component.Meta().Type)
	}
	m.started = true
	return nil
}

func (m *Manager) startOne(ctx context.Context, mc *ManagedComponent) error {
	if err := mc.Component.Initialize(); err != nil {
		return err
	}
	mc.State = StateInitialized

	childCtx, cancel := context.WithCancel(ctx)
	err := retry.Do(childCtx, m.retry, func() error {
		err := mc.Component.Start(childCtx)
		if err != nil && (errors.IsInvalid(err) || errors.IsFatal(err)) {
			return retry.NonRetryable(err)
		}
		if err != nil {
			m.logger.Debug("Component start attempt failed, will retry", "name", mc.Name, "error", err)
		}
		return err
	})
	if err != nil {
		cancel()
		var nre *retry.NonRetryableError
		if stderrors.As(err, &nre) {
			return nre.Unwrap()
		}
		return err
	}
	mc.cancel = cancel
	mc.State = StateStarted
	return nil
}

// Stop stops all started components in reverse order.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	m.started = false
	return m.stopStarted(len(m.order)-1, timeout)
}

// stopStarted stops components order[last] down to order[0].
// REQUIRES: m.mu held.
func (m *Manager) stopStarted(last int, timeout time.Duration) error {
	var errs []error
	for i := last; i >= 0; i-- {
		mc := m.components[m.order[i]]
		if mc.State != StateStarted {
			continue
		}
		if err := mc.Component.Stop(timeout); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			errs = append(errs, fmt.Errorf("component '%s': %w", mc.Name, err))
		} else {
			mc.State = StateStopped
			m.logger.Info("Component stopped", "name", mc.Name)
		}
		if mc.cancel != nil {
			mc.cancel()
			mc.cancel = nil
		}
	}
	return stderrors.Join(errs...)
}

// Components returns the managed components in start order.
func (m *Manager) Components() []Discoverable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Discoverable, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.components[name].Component)
	}
	return out
}

// State returns the lifecycle state of name.
func (m *Manager) State(name string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mc, ok := m.components[name]
	if !ok {
		return StateCreated, false
	}
	return mc.State, true
}

// ComponentHealth returns current health status for all managed components
func (m *Manager) ComponentHealth() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]HealthStatus, len(m.components))
	for name, mc := range m.components {
		result[name] = mc.Component.Health()
	}
	return result
}
