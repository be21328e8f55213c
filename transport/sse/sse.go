// Package sse serves the read-only event stream over Server-Sent Events.
// One HTTP response stream maps to exactly one broker subscription; when
// the client goes away the subscription is removed with it.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/metric"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/stream"
)

// Subscriber is the broker surface the handler needs
type Subscriber interface {
	Subscribe(filter event.Filter, fn stream.Callback, userID string) (string, error)
	Unsubscribe(id string)
}

// Handler streams events to SSE clients
type Handler struct {
	broker    Subscriber
	logger    *slog.Logger
	metrics   *metric.Metrics
	queueSize int

	mu      sync.RWMutex
	streams map[string]chan *event.StreamEvent
}

// NewHandler creates an SSE handler over the broker
func NewHandler(broker Subscriber, logger *slog.Logger, metrics *metric.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		broker:    broker,
		logger:    logger.With("component", "sse"),
		metrics:   metrics,
		queueSize: 64,
		streams:   make(map[string]chan *event.StreamEvent),
	}
}

// Broadcast queues ev to every open stream directly, bypassing the
// streams' subscription filters. Implements dispatch.Broadcaster for
// command side-effect notifications; the WebSocket server handles its own
// connections, so a notification reaches each client exactly once.
func (h *Handler) Broadcast(ev *event.StreamEvent) {
	if ev == nil {
		return
	}

	h.mu.RLock()
	queues := make([]chan *event.StreamEvent, 0, len(h.streams))
	for _, q := range h.streams {
		queues = append(queues, q)
	}
	h.mu.RUnlock()

	for _, q := range queues {
		select {
		case q <- ev:
		default:
			h.logger.Warn("sse stream queue full, dropping broadcast", "event_id", ev.ID)
		}
	}
}

func (h *Handler) register(subID string, queue chan *event.StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[subID] = queue
}

func (h *Handler) unregister(subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, subID)
}

// Streams returns the number of open SSE streams
func (h *Handler) Streams() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

// ServeHTTP implements http.Handler. The stream stays open until the
// client disconnects or the server shuts down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter := parseFilter(r)
	userID := r.URL.Query().Get("userId")

	// The callback only hands the event to this goroutine; all response
	// writes happen here. A full queue drops the event rather than
	// blocking broker dispatch.
	queue := make(chan *event.StreamEvent, h.queueSize)
	subID, err := h.broker.Subscribe(filter, func(ev *event.StreamEvent) error {
		select {
		case queue <- ev:
			return nil
		default:
			return fmt.Errorf("sse queue full, dropping event %s", ev.ID)
		}
	}, userID)
	if err != nil {
		http.Error(w, "subscription unavailable", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(subID)

	h.register(subID, queue)
	defer h.unregister(subID)

	if h.metrics != nil {
		h.metrics.ConnectionsActive.Inc()
		h.metrics.ConnectionsTotal.WithLabelValues("sse").Inc()
		defer func() {
			h.metrics.ConnectionsActive.Dec()
			h.metrics.DisconnectionsTotal.WithLabelValues("sse", "closed").Inc()
		}()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: {\"subscriptionId\":%q}\n\n", subID)
	flusher.Flush()

	h.logger.Debug("sse stream opened", "subscription_id", subID, "user_id", userID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("sse stream closed", "subscription_id", subID)
			return
		case ev := <-queue:
			if err := writeFrame(w, ev); err != nil {
				h.logger.Debug("sse write failed", "subscription_id", subID, "error", err)
				return
			}
			flusher.Flush()
			if h.metrics != nil {
				h.metrics.MessagesSent.WithLabelValues("event").Inc()
			}
		}
	}
}

// writeFrame emits one event in SSE wire format:
// id: <id>\nevent: <type>\ndata: <json>\n\n
func writeFrame(w http.ResponseWriter, ev *event.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, payload)
	return err
}

// parseFilter builds a subscription filter from query parameters:
// types, equipment, severity (comma separated), start/end (RFC 3339).
func parseFilter(r *http.Request) event.Filter {
	q := r.URL.Query()
	var f event.Filter

	for _, raw := range splitList(q.Get("types")) {
		t := event.Type(raw)
		if t.Valid() {
			f.Types = append(f.Types, t)
		}
	}
	f.Equipment = splitList(q.Get("equipment"))
	for _, raw := range splitList(q.Get("severity")) {
		f.Severities = append(f.Severities, event.Severity(raw))
	}

	start, startErr := time.Parse(time.RFC3339, q.Get("start"))
	end, endErr := time.Parse(time.RFC3339, q.Get("end"))
	if startErr == nil && endErr == nil {
		f.TimeRange = &event.TimeRange{Start: start, End: end}
	}

	return f
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
