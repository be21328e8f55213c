// Package component defines the lifecycle contract shared by every
// long-running piece of the streaming subsystem (broker, pollers,
// transports). The bootstrap constructs components explicitly, starts them
// in order, and stops them in reverse order with a timeout.
package component

import (
	"context"
	"encoding/json"
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

// MarshalJSON renders the state as its string form
func (cs State) MarshalJSON() ([]byte, error) {
	return json.Marshal(cs.String())
}

// Lifecycle defines components that support full lifecycle management:
//   - Initialize() error                  // Setup/validate only, NO context
//   - Start(ctx context.Context) error    // Start with context passed through
//   - Stop(timeout time.Duration) error   // Graceful shutdown with timeout
//
// Components never store the context they receive; it is a parameter that
// bounds background work started by Start.
type Lifecycle interface {
	Name() string
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// HealthStatus describes the observable health of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	State      State         `json:"state"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// HealthReporter is implemented by components that expose health status
type HealthReporter interface {
	Health() HealthStatus
}
