package stream

import (
	"sync"
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/event"
)

// Ring is a thread-safe bounded FIFO buffer of the most recent stream
// events, used for late-subscriber replay. When full, appending evicts the
// oldest event; eviction order is strictly oldest-first. Events are also
// time-boxed: the broker periodically purges entries older than its
// configured maximum age.
type Ring struct {
	mu       sync.RWMutex
	items    []*event.StreamEvent
	capacity int
	size     int
	head     int // next write position
	tail     int // oldest item position
}

// NewRing creates a ring buffer with the given capacity. Capacities below
// one are clamped to one.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		items:    make([]*event.StreamEvent, capacity),
		capacity: capacity,
	}
}

// Append adds an event, evicting the oldest if the buffer is full.
// Returns the number of events evicted (0 or 1).
func (r *Ring) Append(ev *event.StreamEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	if r.size == r.capacity {
		r.items[r.tail] = nil
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		evicted = 1
	}

	r.items[r.head] = ev
	r.head = (r.head + 1) % r.capacity
	r.size++
	return evicted
}

// Snapshot returns the buffered events in insertion order, oldest first.
func (r *Ring) Snapshot() []*event.StreamEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*event.StreamEvent, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.tail+i)%r.capacity])
	}
	return out
}

// PurgeOlderThan removes all events with a timestamp before cutoff and
// returns how many were removed. Events are stored in arrival order, but
// arrival order is only best-effort timestamp order across categories, so
// the purge walks from the oldest end and stops at the first survivor it
// cannot justify removing by age alone.
func (r *Ring) PurgeOlderThan(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for r.size > 0 {
		oldest := r.items[r.tail]
		if !oldest.Timestamp.Before(cutoff) {
			break
		}
		r.items[r.tail] = nil
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		purged++
	}
	return purged
}

// Len returns the current number of buffered events
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the buffer capacity
func (r *Ring) Cap() int {
	return r.capacity
}

// Contains reports whether an event with the given id is buffered.
// Intended for tests and diagnostics; O(n).
func (r *Ring) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := 0; i < r.size; i++ {
		if r.items[(r.tail+i)%r.capacity].ID == id {
			return true
		}
	}
	return false
}
