package stream

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/component"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/errors"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
)

// collector accumulates delivered events for assertions
type collector struct {
	mu     sync.Mutex
	events []*event.StreamEvent
}

func (c *collector) callback(ev *event.StreamEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.ID
	}
	return out
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func testBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker(Config{BufferCapacity: 1000})
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(time.Second) })
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := testBroker(t)
	c := &collector{}

	_, err := b.Subscribe(event.Filter{}, c.callback, "")
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 20; i++ {
		b.Publish(&event.StreamEvent{
			ID:        fmt.Sprintf("ev-%d", i),
			Type:      event.TypeMetric,
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	waitFor(t, func() bool { return c.count() == 20 })
	ids := c.ids()
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("ev-%d", i), id)
	}
}

func TestTypeFilteredSubscriberOnlySeesMatchingEvents(t *testing.T) {
	b := testBroker(t)
	c := &collector{}

	_, err := b.Subscribe(event.Filter{Types: []event.Type{event.TypeAlert}}, c.callback, "")
	require.NoError(t, err)

	now := time.Now()
	b.Publish(&event.StreamEvent{ID: "m1", Type: event.TypeMetric, Timestamp: now})
	b.Publish(&event.StreamEvent{ID: "a1", Type: event.TypeAlert, Timestamp: now})
	b.Publish(&event.StreamEvent{ID: "q1", Type: event.TypeQuality, Timestamp: now})
	b.Publish(&event.StreamEvent{ID: "a2", Type: event.TypeAlert, Timestamp: now})

	waitFor(t, func() bool { return c.count() == 2 })
	assert.Equal(t, []string{"a1", "a2"}, c.ids())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := testBroker(t)
	c := &collector{}

	id, err := b.Subscribe(event.Filter{}, c.callback, "")
	require.NoError(t, err)

	b.Publish(&event.StreamEvent{ID: "before", Type: event.TypeMetric, Timestamp: time.Now()})
	waitFor(t, func() bool { return c.count() == 1 })

	b.Unsubscribe(id)
	b.Publish(&event.StreamEvent{ID: "after", Type: event.TypeMetric, Timestamp: time.Now()})

	// Delivery is async; give any erroneous delivery a chance to land
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"before"}, c.ids())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := testBroker(t)

	id, err := b.Subscribe(event.Filter{}, func(*event.StreamEvent) error { return nil }, "")
	require.NoError(t, err)

	b.Unsubscribe(id)
	b.Unsubscribe(id)
	b.Unsubscribe("never-existed")
	assert.Equal(t, 0, b.Subscriptions())
}

func TestDeliveryIsolation(t *testing.T) {
	b := testBroker(t)
	good := &collector{}

	_, err := b.Subscribe(event.Filter{}, func(*event.StreamEvent) error {
		panic("subscriber bug")
	}, "")
	require.NoError(t, err)

	_, err = b.Subscribe(event.Filter{}, good.callback, "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		b.Publish(&event.StreamEvent{ID: fmt.Sprintf("ev-%d", i), Type: event.TypeAlert, Timestamp: time.Now()})
	}

	waitFor(t, func() bool { return good.count() == 5 })
}

func TestErroringCallbackDoesNotStopOwnFutureDeliveries(t *testing.T) {
	b := testBroker(t)
	c := &collector{}

	_, err := b.Subscribe(event.Filter{}, func(ev *event.StreamEvent) error {
		_ = c.callback(ev)
		return fmt.Errorf("downstream write failed")
	}, "")
	require.NoError(t, err)

	b.Publish(&event.StreamEvent{ID: "e1", Type: event.TypeMetric, Timestamp: time.Now()})
	b.Publish(&event.StreamEvent{ID: "e2", Type: event.TypeMetric, Timestamp: time.Now()})

	waitFor(t, func() bool { return c.count() == 2 })
}

func TestTimeRangeSubscribeReplaysBufferedEventsAscending(t *testing.T) {
	b := testBroker(t)

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	// Publish out of timestamp order to prove replay sorts ascending
	for _, n := range []int{3, 1, 4, 0, 2} {
		b.Publish(&event.StreamEvent{
			ID:        fmt.Sprintf("ev-%d", n),
			Type:      event.TypeMetric,
			Timestamp: base.Add(time.Duration(n) * time.Minute),
		})
	}

	c := &collector{}
	_, err := b.Subscribe(event.Filter{
		TimeRange: &event.TimeRange{Start: base, End: base.Add(3 * time.Minute)},
	}, c.callback, "")
	require.NoError(t, err)

	waitFor(t, func() bool { return c.count() == 4 })
	assert.Equal(t, []string{"ev-0", "ev-1", "ev-2", "ev-3"}, c.ids())
}

func TestTimeRangeReplayLargerThanQueueIsComplete(t *testing.T) {
	// Default subscriber queue is 256; a replay of 400 must still arrive
	// in full, oldest first.
	b := testBroker(t)

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 400; i++ {
		b.Publish(&event.StreamEvent{
			ID:        fmt.Sprintf("ev-%d", i),
			Type:      event.TypeMetric,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	c := &collector{}
	_, err := b.Subscribe(event.Filter{
		TimeRange: &event.TimeRange{Start: base, End: base.Add(time.Hour)},
	}, c.callback, "")
	require.NoError(t, err)

	waitFor(t, func() bool { return c.count() == 400 })
	ids := c.ids()
	assert.Equal(t, "ev-0", ids[0])
	assert.Equal(t, "ev-399", ids[399])
}

func TestTimeRangeReplayPrecedesLiveEvents(t *testing.T) {
	b := testBroker(t)

	base := time.Now().Add(-time.Minute)
	b.Publish(&event.StreamEvent{ID: "buffered", Type: event.TypeMetric, Timestamp: base})

	c := &collector{}
	_, err := b.Subscribe(event.Filter{
		TimeRange: &event.TimeRange{Start: base.Add(-time.Hour), End: base.Add(time.Hour)},
	}, c.callback, "")
	require.NoError(t, err)

	b.Publish(&event.StreamEvent{ID: "live", Type: event.TypeMetric, Timestamp: time.Now()})

	waitFor(t, func() bool { return c.count() == 2 })
	assert.Equal(t, []string{"buffered", "live"}, c.ids())
}

func TestSlowSubscriberDropsOldestNotNewest(t *testing.T) {
	b := NewBroker(Config{BufferCapacity: 100, SubscriberQueue: 4})
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(time.Second) })

	release := make(chan struct{})
	c := &collector{}
	first := make(chan struct{})
	var once sync.Once

	_, err := b.Subscribe(event.Filter{}, func(ev *event.StreamEvent) error {
		once.Do(func() { close(first) })
		<-release
		return c.callback(ev)
	}, "")
	require.NoError(t, err)

	b.Publish(&event.StreamEvent{ID: "ev-0", Type: event.TypeMetric, Timestamp: time.Now()})
	<-first // dispatcher now blocked inside the callback

	// Queue capacity is 4: ev-1..ev-4 fill it, ev-5..ev-6 evict the oldest
	for i := 1; i <= 6; i++ {
		b.Publish(&event.StreamEvent{ID: fmt.Sprintf("ev-%d", i), Type: event.TypeMetric, Timestamp: time.Now()})
	}
	close(release)

	waitFor(t, func() bool { return c.count() == 5 })
	time.Sleep(20 * time.Millisecond)

	ids := c.ids()
	assert.Equal(t, "ev-0", ids[0])
	assert.Equal(t, "ev-6", ids[len(ids)-1], "newest event survives drop-oldest policy")
	assert.NotContains(t, ids, "ev-1")
	assert.NotContains(t, ids, "ev-2")
}

func TestSubscribeAfterStopFails(t *testing.T) {
	b := NewBroker(Config{})
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Stop(time.Second))

	_, err := b.Subscribe(event.Filter{}, func(*event.StreamEvent) error { return nil }, "")
	assert.Error(t, err)
}

func TestBufferCapacityScenario(t *testing.T) {
	b := testBroker(t)
	now := time.Now()

	for i := 0; i < 1001; i++ {
		b.Publish(&event.StreamEvent{
			ID:        fmt.Sprintf("ev-%d", i),
			Type:      event.TypeMetric,
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	assert.Equal(t, 1000, b.BufferLen())
	assert.False(t, b.ring.Contains("ev-0"))
	assert.True(t, b.ring.Contains("ev-1000"))
}

func TestHealthReflectsLifecycle(t *testing.T) {
	b := NewBroker(Config{})
	require.NoError(t, b.Initialize())
	assert.False(t, b.Health().Healthy)
	assert.Equal(t, component.StateInitialized, b.Health().State)

	require.NoError(t, b.Start(context.Background()))
	assert.True(t, b.Health().Healthy)
	assert.Equal(t, component.StateStarted, b.Health().State)

	err := b.Start(context.Background())
	require.Error(t, err, "second start is rejected")
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyStarted))

	require.NoError(t, b.Stop(time.Second))
	assert.False(t, b.Health().Healthy)
	assert.Equal(t, component.StateStopped, b.Health().State)
}
