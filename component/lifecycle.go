package component

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent defines components that support full lifecycle management:
//   - Initialize() error                // Setup/create only, NO context
//   - Start(ctx context.Context) error  // Start with context passed through
//   - Stop(timeout time.Duration) error // Stop with timeout for graceful shutdown
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Stack manages an ordered set of components. Components are initialized
// and started in registration order and stopped in reverse, so consumers
// come up before producers and drain after them.
type Stack struct {
	comps   []LifecycleComponent
	started []LifecycleComponent
}

// Add appends a component to the stack. Call before Initialize.
func (s *Stack) Add(c LifecycleComponent) {
	s.comps = append(s.comps, c)
}

// Initialize runs Initialize on every component in order, aborting on the
// first failure.
func (s *Stack) Initialize() error {
	for _, c := range s.comps {
		if err := c.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", c.Meta().Name, err)
		}
	}
	return nil
}

// Start runs Start on every component in order. If a component fails to
// start, the ones already running are stopped in reverse order before the
// error is returned.
func (s *Stack) Start(ctx context.Context, stopTimeout time.Duration) error {
	for _, c := range s.comps {
		if err := c.Start(ctx); err != nil {
			stopErr := s.Stop(stopTimeout)
			return errors.Join(fmt.Errorf("start %s: %w", c.Meta().Name, err), stopErr)
		}
		s.started = append(s.started, c)
	}
	return nil
}

// Stop stops all started components in reverse order, collecting every
// error so one failed shutdown does not skip the rest.
func (s *Stack) Stop(timeout time.Duration) error {
	var errs []error
	for i := len(s.started) - 1; i >= 0; i-- {
		c := s.started[i]
		if err := c.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Meta().Name, err))
		}
	}
	s.started = nil
	return errors.Join(errs...)
}

// Components returns the registered components in start order.
func (s *Stack) Components() []LifecycleComponent {
	out := make([]LifecycleComponent, len(s.comps))
	copy(out, s.comps)
	return out
}

// IsLifecycleComponent checks if a component supports lifecycle management
func IsLifecycleComponent(comp Discoverable) bool {
	_, ok := comp.(LifecycleComponent)
	return ok
}

// AsLifecycleComponent safely casts a component to LifecycleComponent
func AsLifecycleComponent(comp Discoverable) (LifecycleComponent, bool) {
	lc, ok := comp.(LifecycleComponent)
	return lc, ok
}
