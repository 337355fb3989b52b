package component

import (
	"context"
	"time"
)

// State is where a component is in its lifecycle. The session moves
// Created → Initialized → Started → Stopped and never restarts; Failed marks
// a start the Manager gave up on.
type State int

// Lifecycle states.
const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateFailed
)

var stateNames = [...]string{"created", "initialized", "started", "stopped", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Done reports whether the component has stopped or failed for good.
func (s State) Done() bool {
	return s == StateStopped || s == StateFailed
}

// LifecycleComponent is a Discoverable that owns goroutines. Initialize
// prepares resources without a context, Start runs under ctx, and Stop
// waits at most timeout for the goroutines to exit. Stop is idempotent.
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}
