package poller

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/component"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/store"
)

type capture struct {
	mu     sync.Mutex
	events []*event.StreamEvent
}

func (c *capture) Publish(ev *event.StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capture) byType(t event.Type) []*event.StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*event.StreamEvent, 0)
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// flakyStore fails AlertsSince while leaving other categories working
type flakyStore struct {
	*store.Memory
	mu       sync.Mutex
	failing  bool
	alertErr int
}

func (f *flakyStore) AlertsSince(ctx context.Context, since time.Time, limit int) ([]store.AlertRow, error) {
	f.mu.Lock()
	failing := f.failing
	if failing {
		f.alertErr++
	}
	f.mu.Unlock()
	if failing {
		return nil, errors.ErrStoreUnavailable
	}
	return f.Memory.AlertsSince(ctx, since, limit)
}

func fastConfig() Config {
	return Config{
		InitialDelay:      0,
		MetricInterval:    10 * time.Millisecond,
		AlertInterval:     10 * time.Millisecond,
		QualityInterval:   10 * time.Millisecond,
		EquipmentInterval: 10 * time.Millisecond,
		FetchLimit:        10,
	}
}

func TestPollerPublishesNewRows(t *testing.T) {
	mem := store.NewMemory()
	pub := &capture{}
	set := NewSet(fastConfig(), mem, pub)
	require.NoError(t, set.Initialize())
	require.NoError(t, set.Start(context.Background()))
	defer set.Stop(time.Second)

	// Rows newer than the start-time watermark are streamed
	mem.AddMetric(store.MetricRow{EquipmentID: "eq-1", Name: "temp", Value: 71.2, Timestamp: time.Now().Add(time.Millisecond)})
	mem.AddAlert(store.AlertRow{ID: "al-1", EquipmentID: "eq-1", Severity: "error", Message: "overheat", Timestamp: time.Now().Add(time.Millisecond)})

	require.Eventually(t, func() bool {
		return len(pub.byType(event.TypeMetric)) >= 1 && len(pub.byType(event.TypeAlert)) >= 1
	}, time.Second, 5*time.Millisecond)

	m := pub.byType(event.TypeMetric)[0]
	assert.Equal(t, "poller:metric", m.Source)
	assert.Equal(t, "eq-1", m.Data["equipmentId"])
}

func TestPollerIgnoresRowsBeforeStart(t *testing.T) {
	mem := store.NewMemory()
	mem.AddMetric(store.MetricRow{EquipmentID: "eq-old", Name: "temp", Value: 1, Timestamp: time.Now().Add(-time.Minute)})

	pub := &capture{}
	set := NewSet(fastConfig(), mem, pub)
	require.NoError(t, set.Initialize())
	require.NoError(t, set.Start(context.Background()))
	defer set.Stop(time.Second)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, pub.byType(event.TypeMetric), "pre-existing rows are not replayed")
}

func TestPollerNoDuplicatesAcrossCycles(t *testing.T) {
	mem := store.NewMemory()
	pub := &capture{}
	set := NewSet(fastConfig(), mem, pub)
	require.NoError(t, set.Initialize())
	require.NoError(t, set.Start(context.Background()))
	defer set.Stop(time.Second)

	mem.AddQuality(store.QualityRow{ID: "q-1", EquipmentID: "eq-1", Parameter: "width", Actual: 10, Target: 10, Tolerance: 1, Timestamp: time.Now().Add(time.Millisecond)})

	require.Eventually(t, func() bool {
		return len(pub.byType(event.TypeQuality)) >= 1
	}, time.Second, 5*time.Millisecond)

	// Several more cycles pass; the watermark has advanced past the row
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, pub.byType(event.TypeQuality), 1)
}

func TestPollerWatermarkHoldsOnError(t *testing.T) {
	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem, failing: true}
	pub := &capture{}
	set := NewSet(fastConfig(), flaky, pub)
	require.NoError(t, set.Initialize())
	require.NoError(t, set.Start(context.Background()))
	defer set.Stop(time.Second)

	mem.AddAlert(store.AlertRow{ID: "al-1", Severity: "warning", Message: "x", Timestamp: time.Now().Add(time.Millisecond)})

	// Errors accumulate, nothing is published, watermark does not move
	before := set.Watermark(CategoryAlert)
	require.Eventually(t, func() bool {
		flaky.mu.Lock()
		defer flaky.mu.Unlock()
		return flaky.alertErr >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, pub.byType(event.TypeAlert))
	assert.Equal(t, before, set.Watermark(CategoryAlert))

	// Recovery: the held watermark re-covers the missed row
	flaky.mu.Lock()
	flaky.failing = false
	flaky.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(pub.byType(event.TypeAlert)) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestPollerCategoryFailureIsContained(t *testing.T) {
	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem, failing: true}
	pub := &capture{}
	set := NewSet(fastConfig(), flaky, pub)
	require.NoError(t, set.Initialize())
	require.NoError(t, set.Start(context.Background()))
	defer set.Stop(time.Second)

	mem.AddMetric(store.MetricRow{EquipmentID: "eq-1", Name: "temp", Value: 2, Timestamp: time.Now().Add(time.Millisecond)})

	// Metric polling keeps working while alert polling fails
	require.Eventually(t, func() bool {
		return len(pub.byType(event.TypeMetric)) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestPollerInitialDelayDefersFirstPoll(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = 80 * time.Millisecond

	mem := store.NewMemory()
	pub := &capture{}
	set := NewSet(cfg, mem, pub)
	require.NoError(t, set.Initialize())
	require.NoError(t, set.Start(context.Background()))
	defer set.Stop(time.Second)

	mem.AddMetric(store.MetricRow{EquipmentID: "eq-1", Name: "temp", Value: 3, Timestamp: time.Now().Add(time.Millisecond)})

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, pub.byType(event.TypeMetric), "no poll before the initial delay elapses")

	require.Eventually(t, func() bool {
		return len(pub.byType(event.TypeMetric)) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestPollerLifecycle(t *testing.T) {
	set := NewSet(fastConfig(), store.NewMemory(), &capture{})
	require.NoError(t, set.Initialize())

	h := set.Health()
	assert.False(t, h.Healthy)
	assert.Equal(t, component.StateInitialized, h.State)

	require.NoError(t, set.Start(context.Background()))
	err := set.Start(context.Background())
	require.Error(t, err, "second start is rejected")
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyStarted))

	h = set.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, component.StateStarted, h.State)

	require.NoError(t, set.Stop(time.Second))
	require.NoError(t, set.Stop(time.Second), "second stop is a no-op")

	h = set.Health()
	assert.False(t, h.Healthy)
	assert.Equal(t, component.StateStopped, h.State)
}

func TestPollerInitializeRequiresDependencies(t *testing.T) {
	assert.Error(t, NewSet(fastConfig(), nil, &capture{}).Initialize())
	assert.Error(t, NewSet(fastConfig(), store.NewMemory(), nil).Initialize())
}
