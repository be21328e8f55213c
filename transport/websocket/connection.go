package websocket

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub011/dispatch"
)

// connection is the per-socket state. One socket holds at most one broker
// subscription; re-subscribing replaces the prior one.
type connection struct {
	id     string
	caller dispatch.Caller
	sock   *websocket.Conn

	writeMu sync.Mutex
	closed  atomic.Bool

	subMu          sync.Mutex
	subscriptionID string

	// Unix nanoseconds of the last inbound traffic. The heartbeat loop
	// terminates a connection that has been silent for a full interval.
	lastSeen atomic.Int64

	limiter *rate.Limiter
}

func newConnection(id string, caller dispatch.Caller, sock *websocket.Conn, limiter *rate.Limiter) *connection {
	c := &connection{
		id:      id,
		caller:  caller,
		sock:    sock,
		limiter: limiter,
	}
	c.touch()
	return c
}

// touch records inbound traffic for the liveness check
func (c *connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// silentFor reports how long the connection has gone without any inbound
// traffic.
func (c *connection) silentFor() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

// send marshals and writes one frame. Gorilla sockets allow a single
// writer at a time, so all writes funnel through writeMu.
func (c *connection) send(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.sock.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.sock.WriteMessage(websocket.TextMessage, payload)
}

// ping sends a protocol-level ping under the write lock
func (c *connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// swapSubscription installs a new subscription id and returns the prior
// one, or "" if none was held.
func (c *connection) swapSubscription(id string) string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	prev := c.subscriptionID
	c.subscriptionID = id
	return prev
}

// close shuts the socket once; later calls are no-ops
func (c *connection) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.sock.Close()
	}
}
