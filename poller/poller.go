// Package poller implements the per-category store pollers. Each category
// runs on its own timer with its own watermark, so a slow or failing
// category never delays another. The watermark advances only after a
// successful poll; a failed poll retries the same window on the next tick.
//
// Known limitation, preserved from the original design: each poll fetches
// at most FetchLimit rows with only a timestamp watermark as the resume
// cursor. If more rows than the cap arrive within one interval, the excess
// is silently skipped once the watermark advances past them.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/component"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/metric"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/store"
)

// Category identifies one polled record kind
type Category string

const (
	// CategoryMetric polls performance metric samples
	CategoryMetric Category = "metric"
	// CategoryAlert polls alerts
	CategoryAlert Category = "alert"
	// CategoryQuality polls quality readings
	CategoryQuality Category = "quality"
	// CategoryEquipment polls equipment state changes
	CategoryEquipment Category = "equipment"
)

// Publisher is where polled events go; satisfied by stream.Broker
type Publisher interface {
	Publish(*event.StreamEvent)
}

// Config holds construction parameters for the poller Set
type Config struct {
	InitialDelay      time.Duration // Delay before each category's first poll
	MetricInterval    time.Duration
	AlertInterval     time.Duration
	QualityInterval   time.Duration
	EquipmentInterval time.Duration
	FetchLimit        int // Per-poll row cap
	Logger            *slog.Logger
	Metrics           *metric.Metrics // nil disables metric collection
}

// DefaultConfig returns the production polling cadence
func DefaultConfig() Config {
	return Config{
		InitialDelay:      3 * time.Second,
		MetricInterval:    5 * time.Second,
		AlertInterval:     3 * time.Second,
		QualityInterval:   10 * time.Second,
		EquipmentInterval: 15 * time.Second,
		FetchLimit:        10,
	}
}

// Set runs one poller goroutine per category against the store
type Set struct {
	cfg     Config
	store   store.Store
	pub     Publisher
	logger  *slog.Logger
	metrics *metric.Metrics

	mu         sync.Mutex
	watermarks map[Category]time.Time

	lifecycleMu sync.Mutex
	state       component.State
	running     bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
	startTime   time.Time
	errorCount  int64
}

var _ component.Lifecycle = (*Set)(nil)
var _ component.HealthReporter = (*Set)(nil)

// NewSet creates a poller set over st publishing to pub
func NewSet(cfg Config, st store.Store, pub Publisher) *Set {
	def := DefaultConfig()
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = def.MetricInterval
	}
	if cfg.AlertInterval <= 0 {
		cfg.AlertInterval = def.AlertInterval
	}
	if cfg.QualityInterval <= 0 {
		cfg.QualityInterval = def.QualityInterval
	}
	if cfg.EquipmentInterval <= 0 {
		cfg.EquipmentInterval = def.EquipmentInterval
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = def.FetchLimit
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Set{
		cfg:        cfg,
		store:      st,
		pub:        pub,
		logger:     cfg.Logger.With("component", "poller"),
		metrics:    cfg.Metrics,
		watermarks: make(map[Category]time.Time),
	}
}

// Name implements component.Lifecycle
func (s *Set) Name() string { return "poller-set" }

// Initialize validates dependencies
func (s *Set) Initialize() error {
	if s.store == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Set", "Initialize", "store is required")
	}
	if s.pub == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Set", "Initialize", "publisher is required")
	}
	s.lifecycleMu.Lock()
	s.state = component.StateInitialized
	s.lifecycleMu.Unlock()
	return nil
}

// Start launches one polling goroutine per category. Watermarks begin at
// the start instant: only rows newer than startup are streamed.
func (s *Set) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Set", "Start", "launch pollers")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Set", "Start", "context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Set", "Start", "context already cancelled")
	}

	now := time.Now()
	s.mu.Lock()
	for _, cat := range []Category{CategoryMetric, CategoryAlert, CategoryQuality, CategoryEquipment} {
		s.watermarks[cat] = now
	}
	s.mu.Unlock()

	s.shutdown = make(chan struct{})
	s.running = true
	s.state = component.StateStarted
	s.startTime = now

	for cat, interval := range map[Category]time.Duration{
		CategoryMetric:    s.cfg.MetricInterval,
		CategoryAlert:     s.cfg.AlertInterval,
		CategoryQuality:   s.cfg.QualityInterval,
		CategoryEquipment: s.cfg.EquipmentInterval,
	} {
		s.wg.Add(1)
		go s.run(ctx, cat, interval)
	}

	s.logger.Info("pollers started",
		"metric_interval", s.cfg.MetricInterval,
		"alert_interval", s.cfg.AlertInterval,
		"quality_interval", s.cfg.QualityInterval,
		"equipment_interval", s.cfg.EquipmentInterval,
		"fetch_limit", s.cfg.FetchLimit)
	return nil
}

// Stop halts all pollers, waiting up to timeout
func (s *Set) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.state = component.StateStopped
	close(s.shutdown)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("poller goroutines did not exit within timeout", "timeout", timeout)
	}

	s.logger.Info("pollers stopped")
	return nil
}

// run is the per-category loop: initial delay, then a fixed-interval tick.
// Nothing a single poll does can unwind out of this loop.
func (s *Set) run(ctx context.Context, cat Category, interval time.Duration) {
	defer s.wg.Done()

	if s.cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-time.After(s.cfg.InitialDelay):
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pollOnce(ctx, cat, interval)
		}
	}
}

// pollOnce runs one poll cycle for a category. On store failure the
// watermark stays put so the same window is retried next tick.
func (s *Set) pollOnce(ctx context.Context, cat Category, interval time.Duration) {
	pollCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	since := s.Watermark(cat)

	events, newest, err := s.fetch(pollCtx, cat, since)
	if err != nil {
		s.lifecycleMu.Lock()
		s.errorCount++
		s.lifecycleMu.Unlock()
		if s.metrics != nil {
			s.metrics.PollErrors.WithLabelValues(string(cat)).Inc()
		}
		s.logger.Warn("poll cycle failed",
			"category", cat,
			"error", errors.WrapTransient(err, "Set", "pollOnce", "fetch "+string(cat)+" rows"))
		return
	}

	// Publish in store-fetch order (newest first); this is best-effort
	// ordering within the category, not a total order across categories.
	for _, ev := range events {
		s.pub.Publish(ev)
	}

	if s.metrics != nil {
		s.metrics.PollRows.WithLabelValues(string(cat)).Add(float64(len(events)))
	}

	if len(events) > 0 {
		s.setWatermark(cat, newest)
		s.logger.Debug("poll cycle published events", "category", cat, "count", len(events))
	}
}

// fetch pulls rows newer than since and maps them to events. Returns the
// newest row timestamp for watermark advancement.
func (s *Set) fetch(ctx context.Context, cat Category, since time.Time) ([]*event.StreamEvent, time.Time, error) {
	var newest time.Time

	switch cat {
	case CategoryMetric:
		rows, err := s.store.MetricsSince(ctx, since, s.cfg.FetchLimit)
		if err != nil {
			return nil, newest, err
		}
		events := make([]*event.StreamEvent, len(rows))
		for i, row := range rows {
			events[i] = mapMetric(row)
			if row.Timestamp.After(newest) {
				newest = row.Timestamp
			}
		}
		return events, newest, nil

	case CategoryAlert:
		rows, err := s.store.AlertsSince(ctx, since, s.cfg.FetchLimit)
		if err != nil {
			return nil, newest, err
		}
		events := make([]*event.StreamEvent, len(rows))
		for i, row := range rows {
			events[i] = mapAlert(row)
			if row.Timestamp.After(newest) {
				newest = row.Timestamp
			}
		}
		return events, newest, nil

	case CategoryQuality:
		rows, err := s.store.QualitySince(ctx, since, s.cfg.FetchLimit)
		if err != nil {
			return nil, newest, err
		}
		events := make([]*event.StreamEvent, len(rows))
		for i, row := range rows {
			events[i] = mapQuality(row)
			if row.Timestamp.After(newest) {
				newest = row.Timestamp
			}
		}
		return events, newest, nil

	case CategoryEquipment:
		rows, err := s.store.EquipmentSince(ctx, since, s.cfg.FetchLimit)
		if err != nil {
			return nil, newest, err
		}
		events := make([]*event.StreamEvent, len(rows))
		for i, row := range rows {
			events[i] = mapEquipment(row)
			if row.UpdatedAt.After(newest) {
				newest = row.UpdatedAt
			}
		}
		return events, newest, nil
	}

	return nil, newest, errors.WrapInvalid(errors.ErrInvalidConfig, "Set", "fetch", "unknown category "+string(cat))
}

// Watermark returns the current watermark for a category
func (s *Set) Watermark(cat Category) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[cat]
}

func (s *Set) setWatermark(cat Category, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.After(s.watermarks[cat]) {
		s.watermarks[cat] = ts
	}
}

// Health implements component.HealthReporter
func (s *Set) Health() component.HealthStatus {
	s.lifecycleMu.Lock()
	state := s.state
	running := s.running
	started := s.startTime
	errCount := s.errorCount
	s.lifecycleMu.Unlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}
	return component.HealthStatus{
		Healthy:    running,
		State:      state,
		LastCheck:  time.Now(),
		ErrorCount: int(errCount),
		Uptime:     uptime,
	}
}
