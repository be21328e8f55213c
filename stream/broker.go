// Package stream implements the pub/sub core of the streaming subsystem:
// a subscription registry, filter matching, a bounded replay ring buffer,
// and publish fan-out with per-subscriber isolation.
//
// Fan-out is channel-based: each subscription owns a bounded queue drained
// by a dedicated goroutine. A full queue drops the oldest queued event,
// mirroring the ring buffer's eviction policy, so a slow consumer risks
// missing events but never slows producers or other subscribers.
package stream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/component"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/metric"
)

// Callback delivers one event to a subscriber. A returned error (or a
// panic) is logged and counted but never affects delivery to other
// subscribers.
type Callback func(*event.StreamEvent) error

// Config holds construction parameters for the Broker
type Config struct {
	BufferCapacity  int           // Ring buffer capacity (default 1000)
	MaxEventAge     time.Duration // Purge buffered events older than this (default 5m)
	PurgeInterval   time.Duration // Maintenance cadence (default 60s)
	SubscriberQueue int           // Per-subscriber queue capacity (default 256)
	Logger          *slog.Logger
	Metrics         *metric.Metrics // nil disables metric collection
}

// DefaultConfig returns sensible defaults for Broker construction
func DefaultConfig() Config {
	return Config{
		BufferCapacity:  1000,
		MaxEventAge:     5 * time.Minute,
		PurgeInterval:   60 * time.Second,
		SubscriberQueue: 256,
	}
}

// subscription is owned exclusively by the Broker. The closed flag is the
// cancellation point: once set, the dispatch goroutine drains the queue
// without delivering, so no event published after Unsubscribe ever reaches
// the callback.
type subscription struct {
	id          string
	userID      string
	filter      event.Filter
	fn          Callback
	ch          chan *event.StreamEvent
	done        chan struct{}
	closed      atomic.Bool
	lastEventID atomic.Value // string
}

// enqueue adds ev to the subscription queue, dropping the oldest queued
// event when full. Returns the number of events dropped to make room.
func (s *subscription) enqueue(ev *event.StreamEvent) int {
	dropped := 0
	for {
		select {
		case s.ch <- ev:
			return dropped
		default:
			select {
			case <-s.ch:
				dropped++
			default:
			}
		}
	}
}

// Broker is the pub/sub core. It owns the only two shared mutable
// resources in the subsystem: the subscription registry and the ring
// buffer. Transports and pollers interact with them only through
// Subscribe, Unsubscribe, and Publish.
type Broker struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	ring *Ring

	mu   sync.RWMutex
	subs map[string]*subscription

	lifecycleMu sync.Mutex
	state       component.State
	running     bool
	stopped     atomic.Bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
	startTime   time.Time
	errorCount  atomic.Int64
}

var _ component.Lifecycle = (*Broker)(nil)
var _ component.HealthReporter = (*Broker)(nil)

// NewBroker creates a Broker from cfg, filling zero fields with defaults
func NewBroker(cfg Config) *Broker {
	def := DefaultConfig()
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = def.BufferCapacity
	}
	if cfg.MaxEventAge <= 0 {
		cfg.MaxEventAge = def.MaxEventAge
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = def.PurgeInterval
	}
	if cfg.SubscriberQueue <= 0 {
		cfg.SubscriberQueue = def.SubscriberQueue
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Broker{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "broker"),
		metrics: cfg.Metrics,
		ring:    NewRing(cfg.BufferCapacity),
		subs:    make(map[string]*subscription),
	}
}

// Name implements component.Lifecycle
func (b *Broker) Name() string { return "broker" }

// Initialize validates construction state
func (b *Broker) Initialize() error {
	if b.ring == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Broker", "Initialize", "ring buffer missing")
	}
	b.lifecycleMu.Lock()
	b.state = component.StateInitialized
	b.lifecycleMu.Unlock()
	return nil
}

// Start launches the maintenance loop. Subscribe and Publish work without
// Start; Start only adds the periodic age-based purge.
func (b *Broker) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Broker", "Start", "start maintenance loop")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Broker", "Start", "context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Broker", "Start", "context already cancelled")
	}

	b.shutdown = make(chan struct{})
	b.running = true
	b.state = component.StateStarted
	b.stopped.Store(false)
	b.startTime = time.Now()

	b.wg.Add(1)
	go b.maintain(ctx)

	b.logger.Info("broker started",
		"buffer_capacity", b.cfg.BufferCapacity,
		"max_event_age", b.cfg.MaxEventAge,
		"purge_interval", b.cfg.PurgeInterval)
	return nil
}

// Stop removes all subscriptions and waits for dispatch goroutines to
// exit, bounded by timeout.
func (b *Broker) Stop(timeout time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.running {
		return nil
	}
	b.running = false
	b.state = component.StateStopped
	b.stopped.Store(true)
	close(b.shutdown)

	b.mu.Lock()
	for id, sub := range b.subs {
		sub.closed.Store(true)
		close(sub.done)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.SubscriptionsActive.Set(0)
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		b.logger.Warn("broker goroutines did not exit within timeout", "timeout", timeout)
	}

	b.logger.Info("broker stopped")
	return nil
}

// Subscribe registers a delivery callback for events matching filter and
// returns the subscription id. When filter.TimeRange is set, every
// buffered event matching the filter is queued ahead of any live event, in
// ascending timestamp order, before Subscribe returns.
func (b *Broker) Subscribe(filter event.Filter, fn Callback, userID string) (string, error) {
	if fn == nil {
		return "", errors.WrapInvalid(errors.ErrInvalidConfig, "Broker", "Subscribe", "callback cannot be nil")
	}
	if b.stopped.Load() {
		return "", errors.WrapInvalid(errors.ErrShuttingDown, "Broker", "Subscribe", "register subscription")
	}

	// Replay and registration happen under the write lock so no live
	// publish can interleave ahead of the replayed events.
	b.mu.Lock()
	if b.stopped.Load() {
		b.mu.Unlock()
		return "", errors.WrapInvalid(errors.ErrShuttingDown, "Broker", "Subscribe", "register subscription")
	}

	var replay []*event.StreamEvent
	if filter.TimeRange != nil {
		for _, ev := range b.ring.Snapshot() {
			if filter.Matches(ev) {
				replay = append(replay, ev)
			}
		}
		sort.SliceStable(replay, func(i, j int) bool {
			return replay[i].Timestamp.Before(replay[j].Timestamp)
		})
	}

	// The queue is sized to hold the entire replay plus the configured
	// live headroom: replay is a completeness guarantee, so it must never
	// be subject to the drop-oldest overflow policy.
	sub := &subscription{
		id:     event.NewID(),
		userID: userID,
		filter: filter,
		fn:     fn,
		ch:     make(chan *event.StreamEvent, len(replay)+b.cfg.SubscriberQueue),
		done:   make(chan struct{}),
	}
	for _, ev := range replay {
		sub.ch <- ev
	}
	b.subs[sub.id] = sub
	count := len(b.subs)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.dispatch(sub)

	if b.metrics != nil {
		b.metrics.SubscriptionsActive.Set(float64(count))
	}
	b.logger.Debug("subscription added", "subscription_id", sub.id, "user_id", userID)
	return sub.id, nil
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	count := len(b.subs)
	b.mu.Unlock()

	if !ok {
		return
	}

	sub.closed.Store(true)
	close(sub.done)

	if b.metrics != nil {
		b.metrics.SubscriptionsActive.Set(float64(count))
	}
	b.logger.Debug("subscription removed", "subscription_id", id)
}

// Publish appends ev to the ring buffer, evicting the oldest event when
// full, then queues it to every live subscription whose filter matches.
// Failures inside one subscriber never affect the others.
func (b *Broker) Publish(ev *event.StreamEvent) {
	if ev == nil {
		return
	}

	evicted := b.ring.Append(ev)

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
		if evicted > 0 {
			b.metrics.BufferEvictions.Add(float64(evicted))
		}
		b.metrics.BufferSize.Set(float64(b.ring.Len()))
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if sub.closed.Load() {
			continue
		}
		if !sub.filter.Matches(ev) {
			continue
		}
		if dropped := sub.enqueue(ev); dropped > 0 {
			b.errorCount.Add(int64(dropped))
			if b.metrics != nil {
				b.metrics.EventsDropped.WithLabelValues("queue_full").Add(float64(dropped))
			}
			b.logger.Warn("slow subscriber dropped events",
				"subscription_id", sub.id, "dropped", dropped,
				"error", errors.WrapTransient(errors.ErrBufferOverflow, "Broker", "Publish", "enqueue event"))
		}
	}
}

// dispatch drains one subscription's queue, invoking the callback for each
// event until the subscription is removed.
func (b *Broker) dispatch(sub *subscription) {
	defer b.wg.Done()

	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.ch:
			if sub.closed.Load() {
				continue
			}
			b.deliver(sub, ev)
		}
	}
}

// deliver invokes the callback with panic isolation
func (b *Broker) deliver(sub *subscription, ev *event.StreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.errorCount.Add(1)
			if b.metrics != nil {
				b.metrics.DeliveryErrors.Inc()
			}
			b.logger.Error("subscriber callback panicked",
				"subscription_id", sub.id, "event_id", ev.ID, "panic", r,
				"error", errors.Wrap(errors.ErrDelivery, "Broker", "deliver", "invoke callback"))
		}
	}()

	if err := sub.fn(ev); err != nil {
		b.errorCount.Add(1)
		if b.metrics != nil {
			b.metrics.DeliveryErrors.Inc()
		}
		b.logger.Warn("subscriber callback failed",
			"subscription_id", sub.id, "event_id", ev.ID,
			"error", errors.Wrap(err, "Broker", "deliver", "invoke callback"))
		return
	}
	sub.lastEventID.Store(ev.ID)
}

// maintain purges aged events on a fixed cadence, independent of
// subscriber activity.
func (b *Broker) maintain(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.shutdown:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-b.cfg.MaxEventAge)
			if purged := b.ring.PurgeOlderThan(cutoff); purged > 0 {
				if b.metrics != nil {
					b.metrics.BufferEvictions.Add(float64(purged))
					b.metrics.BufferSize.Set(float64(b.ring.Len()))
				}
				b.logger.Debug("purged aged events", "purged", purged)
			}
		}
	}
}

// Subscriptions returns the number of live subscriptions
func (b *Broker) Subscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// BufferLen returns the current ring buffer occupancy
func (b *Broker) BufferLen() int {
	return b.ring.Len()
}

// Health implements component.HealthReporter
func (b *Broker) Health() component.HealthStatus {
	b.lifecycleMu.Lock()
	state := b.state
	running := b.running
	started := b.startTime
	b.lifecycleMu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}
	return component.HealthStatus{
		Healthy:    running,
		State:      state,
		LastCheck:  time.Now(),
		ErrorCount: int(b.errorCount.Load()),
		Uptime:     uptime,
	}
}
