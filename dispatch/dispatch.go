// Package dispatch routes named commands and queries from transport clients
// to store operations. Commands mutate state and require the write
// permission; queries are read-only and require read. A successful command
// may additionally broadcast a notification event to every connected
// client, bypassing filtered delivery.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/metric"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/store"
)

// PermRead allows queries; PermWrite allows commands
const (
	PermRead  = "read"
	PermWrite = "write"
)

// Caller is the identity a transport resolved for a connection. Both
// fields are opaque inputs supplied at accept time.
type Caller struct {
	UserID      string
	Permissions []string
}

// Can reports whether the caller holds a permission
func (c Caller) Can(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Broadcaster delivers an event to every connected client regardless of
// their subscription filters.
type Broadcaster interface {
	Broadcast(*event.StreamEvent)
}

// ClientError carries a message safe to surface in an error frame. Errors
// without a ClientError in their chain are reported to clients as a
// generic internal error.
type ClientError struct {
	Msg string
	Err error
}

func (e *ClientError) Error() string { return e.Msg }

// Unwrap returns the underlying error
func (e *ClientError) Unwrap() error { return e.Err }

func clientErr(sentinel error, format string, args ...any) error {
	return &ClientError{Msg: fmt.Sprintf(format, args...), Err: sentinel}
}

// ClientMessage extracts the client-safe message from an error chain
func ClientMessage(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClientError
	if stderrors.As(err, &ce) {
		return ce.Msg
	}
	return "Internal error"
}

// handler executes one operation. A non-nil returned event is broadcast
// to all connected clients after a successful command.
type handler func(ctx context.Context, caller Caller, args map[string]any) (any, *event.StreamEvent, error)

// Config holds construction parameters for the Dispatcher
type Config struct {
	Store       store.Store
	Broadcaster Broadcaster // nil disables command broadcasts
	Logger      *slog.Logger
	Metrics     *metric.Metrics
}

// Dispatcher routes command and query names to their handlers
type Dispatcher struct {
	store     store.Store
	broadcast Broadcaster
	logger    *slog.Logger
	metrics   *metric.Metrics
	commands  map[string]handler
	queries   map[string]handler
}

// New creates a Dispatcher with the full command and query set registered
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Dispatcher", "New", "store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher{
		store:     cfg.Store,
		broadcast: cfg.Broadcaster,
		logger:    cfg.Logger.With("component", "dispatcher"),
		metrics:   cfg.Metrics,
	}
	d.commands = map[string]handler{
		"acknowledgeAlert":      d.acknowledgeAlert,
		"updateEquipmentStatus": d.updateEquipmentStatus,
		"createAnnotation":      d.createAnnotation,
	}
	d.queries = map[string]handler{
		"currentOEE":      d.currentOEE,
		"activeAlerts":    d.activeAlerts,
		"equipmentStatus": d.equipmentStatus,
		"productionRate":  d.productionRate,
	}
	return d, nil
}

// Command executes a named mutating command. The caller needs the write
// permission; without it no state change occurs.
func (d *Dispatcher) Command(ctx context.Context, caller Caller, name string, args map[string]any) (any, error) {
	if !caller.Can(PermWrite) {
		d.countError("command", "permission")
		return nil, clientErr(errors.ErrPermissionDenied, "Permission denied: %s requires write access", name)
	}

	h, ok := d.commands[name]
	if !ok {
		d.countError("command", "unknown")
		return nil, clientErr(errors.ErrUnknownOperation, "Unknown command: %s", name)
	}

	start := time.Now()
	result, notice, err := h(ctx, caller, args)
	d.observe("command", name, start)
	if err != nil {
		d.countError("command", "handler")
		d.logger.Warn("command failed", "command", name, "user_id", caller.UserID,
			"error", errors.Wrap(err, "Dispatcher", "Command", "execute "+name))
		return nil, err
	}

	if notice != nil && d.broadcast != nil {
		d.broadcast.Broadcast(notice)
	}
	d.logger.Debug("command executed", "command", name, "user_id", caller.UserID)
	return result, nil
}

// Query executes a named read-only lookup. The caller needs the read
// permission.
func (d *Dispatcher) Query(ctx context.Context, caller Caller, name string, args map[string]any) (any, error) {
	if !caller.Can(PermRead) {
		d.countError("query", "permission")
		return nil, clientErr(errors.ErrPermissionDenied, "Permission denied: %s requires read access", name)
	}

	h, ok := d.queries[name]
	if !ok {
		d.countError("query", "unknown")
		return nil, clientErr(errors.ErrUnknownOperation, "Unknown query: %s", name)
	}

	start := time.Now()
	result, _, err := h(ctx, caller, args)
	d.observe("query", name, start)
	if err != nil {
		d.countError("query", "handler")
		d.logger.Warn("query failed", "query", name, "user_id", caller.UserID,
			"error", errors.Wrap(err, "Dispatcher", "Query", "execute "+name))
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) observe(kind, op string, start time.Time) {
	if d.metrics != nil {
		d.metrics.DispatchDuration.WithLabelValues(kind, op).Observe(time.Since(start).Seconds())
	}
}

func (d *Dispatcher) countError(kind, reason string) {
	if d.metrics != nil {
		d.metrics.DispatchErrors.WithLabelValues(kind, reason).Inc()
	}
}
