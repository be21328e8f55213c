// Package websocket is the bidirectional transport: it streams events to
// clients and accepts subscribe/unsubscribe, command, query, and ping
// envelopes back. One socket maps to one connection with at most one
// broker subscription; a heartbeat loop terminates dead peers.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/component"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/dispatch"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/metric"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/stream"
)

// Broker is the pub/sub surface the transport needs
type Broker interface {
	Subscribe(filter event.Filter, fn stream.Callback, userID string) (string, error)
	Unsubscribe(id string)
}

// Dispatcher routes command and query envelopes
type Dispatcher interface {
	Command(ctx context.Context, caller dispatch.Caller, name string, args map[string]any) (any, error)
	Query(ctx context.Context, caller dispatch.Caller, name string, args map[string]any) (any, error)
}

// IdentityResolver supplies the user id and permission set for a new
// connection at accept time. Both are opaque to this package.
type IdentityResolver interface {
	Resolve(r *http.Request) (dispatch.Caller, error)
}

// IdentityResolverFunc adapts a function to IdentityResolver
type IdentityResolverFunc func(r *http.Request) (dispatch.Caller, error)

// Resolve implements IdentityResolver
func (f IdentityResolverFunc) Resolve(r *http.Request) (dispatch.Caller, error) {
	return f(r)
}

// PermissiveIdentity grants read and write to every connection, taking the
// user id from the userId query parameter. Suitable for development only.
func PermissiveIdentity() IdentityResolver {
	return IdentityResolverFunc(func(r *http.Request) (dispatch.Caller, error) {
		return dispatch.Caller{
			UserID:      r.URL.Query().Get("userId"),
			Permissions: []string{dispatch.PermRead, dispatch.PermWrite},
		}, nil
	})
}

// Config holds construction parameters for the Server
type Config struct {
	Path              string        // Upgrade path; any other path is refused (default /ws)
	HeartbeatInterval time.Duration // Liveness tick (default 30s)
	RateLimit         rate.Limit    // Inbound messages per second per connection (default 20)
	RateBurst         int           // Burst allowance (default 40)
	Logger            *slog.Logger
	Metrics           *metric.Metrics
}

// Server accepts WebSocket clients and bridges them to the broker and
// dispatcher.
type Server struct {
	cfg        Config
	broker     Broker
	dispatcher Dispatcher
	identity   IdentityResolver
	logger     *slog.Logger
	metrics    *metric.Metrics
	upgrader   websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*connection

	lifecycleMu sync.Mutex
	state       component.State
	running     bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
	startTime   time.Time
}

var _ component.Lifecycle = (*Server)(nil)
var _ component.HealthReporter = (*Server)(nil)
var _ dispatch.Broadcaster = (*Server)(nil)

// NewServer creates a WebSocket server over the broker and dispatcher
func NewServer(cfg Config, broker Broker, dispatcher Dispatcher, identity IdentityResolver) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 40
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if identity == nil {
		identity = PermissiveIdentity()
	}

	return &Server{
		cfg:        cfg,
		broker:     broker,
		dispatcher: dispatcher,
		identity:   identity,
		logger:     cfg.Logger.With("component", "websocket"),
		metrics:    cfg.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*connection),
	}
}

// Name implements component.Lifecycle
func (s *Server) Name() string { return "websocket-server" }

// Initialize validates dependencies
func (s *Server) Initialize() error {
	if s.broker == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize", "broker is required")
	}
	if s.dispatcher == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize", "dispatcher is required")
	}
	s.lifecycleMu.Lock()
	s.state = component.StateInitialized
	s.lifecycleMu.Unlock()
	return nil
}

// Start launches the heartbeat loop
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start heartbeat loop")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Start", "context cannot be nil")
	}

	s.shutdown = make(chan struct{})
	s.running = true
	s.state = component.StateStarted
	s.startTime = time.Now()

	s.wg.Add(1)
	go s.heartbeat(ctx)

	s.logger.Info("websocket server started",
		"path", s.cfg.Path, "heartbeat_interval", s.cfg.HeartbeatInterval)
	return nil
}

// Stop closes every connection and halts the heartbeat loop
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.state = component.StateStopped
	close(s.shutdown)

	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		s.teardown(c, "server_shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("websocket goroutines did not exit within timeout", "timeout", timeout)
	}

	s.logger.Info("websocket server stopped")
	return nil
}

// ServeHTTP upgrades requests on the configured path; any other path is
// refused without a handshake.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.cfg.Path {
		http.NotFound(w, r)
		return
	}

	s.lifecycleMu.Lock()
	running := s.running
	s.lifecycleMu.Unlock()
	if !running {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	caller, err := s.identity.Resolve(r)
	if err != nil {
		s.logger.Warn("identity resolution failed", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	conn := newConnection(event.NewID(), caller, sock,
		rate.NewLimiter(s.cfg.RateLimit, s.cfg.RateBurst))
	sock.SetPongHandler(func(string) error {
		conn.touch()
		return nil
	})

	s.mu.Lock()
	s.conns[conn.id] = conn
	total := len(s.conns)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ConnectionsActive.Set(float64(total))
		s.metrics.ConnectionsTotal.WithLabelValues("websocket").Inc()
	}
	s.logger.Info("client connected", "connection_id", conn.id, "user_id", caller.UserID)

	conn.send(eventFrame(map[string]any{
		"message":      "Connected to manufacturing event stream",
		"connectionId": conn.id,
		"capabilities": []string{"streaming", "commands", "queries"},
	}))

	s.readLoop(r.Context(), conn)
}

// readLoop drains inbound messages until the socket dies. Per-message
// failures answer with an error frame; the connection stays open.
func (s *Server) readLoop(ctx context.Context, conn *connection) {
	defer s.teardown(conn, "closed")

	for {
		_, payload, err := conn.sock.ReadMessage()
		if err != nil {
			return
		}
		conn.touch()

		if !conn.limiter.Allow() {
			conn.send(errorFrame("", "Rate limited"))
			if s.metrics != nil {
				s.metrics.MessagesReceived.WithLabelValues("rate_limited").Inc()
			}
			s.logger.Debug("inbound message throttled", "connection_id", conn.id,
				"error", errors.WrapTransient(errors.ErrRateLimited, "Server", "readLoop", "accept message"))
			continue
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			conn.send(errorFrame("", "Invalid message format"))
			if s.metrics != nil {
				s.metrics.MessagesReceived.WithLabelValues("malformed").Inc()
			}
			continue
		}

		if s.metrics != nil {
			s.metrics.MessagesReceived.WithLabelValues(msg.Type).Inc()
		}
		s.handleMessage(ctx, conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *connection, msg Message) {
	switch msg.Type {
	case msgSubscribe:
		s.handleSubscribe(conn, msg)
	case msgUnsubscribe:
		s.handleUnsubscribe(conn, msg)
	case msgCommand:
		s.handleOperation(ctx, conn, msg, "command")
	case msgQuery:
		s.handleOperation(ctx, conn, msg, "query")
	case msgPing:
		s.reply(conn, pongFrame(msg.ID))
	default:
		s.reply(conn, errorFrame(msg.ID, "Unknown message type"))
	}
}

// handleSubscribe replaces the connection's subscription: any prior one is
// removed before the new one registers, so the two never overlap and the
// old filter cannot deliver into the gap.
func (s *Server) handleSubscribe(conn *connection, msg Message) {
	var req struct {
		Filters event.Filter `json:"filters"`
	}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.reply(conn, errorFrame(msg.ID, "Invalid message format"))
			return
		}
	}

	if prev := conn.swapSubscription(""); prev != "" {
		s.broker.Unsubscribe(prev)
	}

	subID, err := s.broker.Subscribe(req.Filters, func(ev *event.StreamEvent) error {
		return conn.send(eventFrame(ev))
	}, conn.caller.UserID)
	if err != nil {
		s.reply(conn, errorFrame(msg.ID, "Subscription unavailable"))
		return
	}
	conn.swapSubscription(subID)

	s.reply(conn, responseFrame(msg.ID, map[string]any{
		"subscribed":     true,
		"subscriptionId": subID,
		"filters":        req.Filters,
	}))
	s.logger.Debug("client subscribed", "connection_id", conn.id, "subscription_id", subID)
}

func (s *Server) handleUnsubscribe(conn *connection, msg Message) {
	if prev := conn.swapSubscription(""); prev != "" {
		s.broker.Unsubscribe(prev)
	}
	s.reply(conn, responseFrame(msg.ID, map[string]any{"unsubscribed": true}))
}

// handleOperation routes a command or query to the dispatcher, correlating
// the response by the inbound message id.
func (s *Server) handleOperation(ctx context.Context, conn *connection, msg Message, kind string) {
	var args map[string]any
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &args); err != nil {
			s.reply(conn, errorFrame(msg.ID, "Invalid message format"))
			return
		}
	}

	name, _ := args[kind].(string)
	if name == "" {
		s.reply(conn, errorFrame(msg.ID, "Missing "+kind+" name"))
		return
	}
	delete(args, kind)

	var (
		result any
		err    error
	)
	if kind == "command" {
		result, err = s.dispatcher.Command(ctx, conn.caller, name, args)
	} else {
		result, err = s.dispatcher.Query(ctx, conn.caller, name, args)
	}
	if err != nil {
		s.reply(conn, errorFrame(msg.ID, dispatch.ClientMessage(err)))
		return
	}
	s.reply(conn, responseFrame(msg.ID, result))
}

func (s *Server) reply(conn *connection, f Frame) {
	if err := conn.send(f); err != nil {
		s.logger.Debug("write failed", "connection_id", conn.id, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.MessagesSent.WithLabelValues(f.Type).Inc()
	}
}

// Broadcast sends an event frame to every connected client directly,
// independent of their subscription filters. Implements
// dispatch.Broadcaster for command side-effect notifications.
func (s *Server) Broadcast(ev *event.StreamEvent) {
	if ev == nil {
		return
	}

	s.mu.RLock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.send(eventFrame(ev)); err != nil {
			s.logger.Debug("broadcast write failed", "connection_id", c.id, "error", err)
		}
	}
}

// heartbeat terminates connections that have gone silent for a full
// interval and pings the rest. Dead peers are detected within two
// intervals.
func (s *Server) heartbeat(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.mu.RLock()
			conns := make([]*connection, 0, len(s.conns))
			for _, c := range s.conns {
				conns = append(conns, c)
			}
			s.mu.RUnlock()

			for _, c := range conns {
				if c.silentFor() > s.cfg.HeartbeatInterval {
					s.logger.Info("terminating unresponsive connection",
						"connection_id", c.id, "silent_for", c.silentFor(),
						"error", errors.WrapTransient(errors.ErrConnectionDead, "Server", "heartbeat", "liveness check"))
					if s.metrics != nil {
						s.metrics.HeartbeatTerminations.Inc()
					}
					s.teardown(c, "heartbeat")
					continue
				}
				if err := c.ping(); err != nil {
					s.teardown(c, "ping_failed")
				}
			}
		}
	}
}

// teardown removes a connection: always unsubscribes first so no
// subscription outlives its socket, then closes and unregisters.
func (s *Server) teardown(conn *connection, reason string) {
	if prev := conn.swapSubscription(""); prev != "" {
		s.broker.Unsubscribe(prev)
	}
	conn.close()

	s.mu.Lock()
	_, present := s.conns[conn.id]
	delete(s.conns, conn.id)
	total := len(s.conns)
	s.mu.Unlock()
	if !present {
		return
	}

	if s.metrics != nil {
		s.metrics.ConnectionsActive.Set(float64(total))
		s.metrics.DisconnectionsTotal.WithLabelValues("websocket", reason).Inc()
	}
	s.logger.Info("client disconnected", "connection_id", conn.id, "reason", reason)
}

// Connections returns the number of live connections
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Health implements component.HealthReporter
func (s *Server) Health() component.HealthStatus {
	s.lifecycleMu.Lock()
	state := s.state
	running := s.running
	started := s.startTime
	s.lifecycleMu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}
	return component.HealthStatus{
		Healthy:   running,
		State:     state,
		LastCheck: time.Now(),
		Uptime:    uptime,
	}
}
