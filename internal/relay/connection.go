package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"conchat/internal/backend"
)

// Connection is one client socket held by the relay
type Connection struct {
	ID     string
	Conn   *websocket.Conn
	Health *Health

	send   chan []byte
	mu     sync.Mutex
	closed bool
	subs   map[uint64]backend.Subscription
}

// NewConnection wraps conn with a send buffer of size buffer
func NewConnection(conn *websocket.Conn, buffer int) *Connection {
	return &Connection{
		ID:     uuid.NewString(),
		Conn:   conn,
		Health: NewHealth(),
		send:   make(chan []byte, buffer),
		subs:   make(map[uint64]backend.Subscription),
	}
}

// SendFrame queues f for the write loop. It reports false when the
// connection is closed or its buffer is full.
func (c *Connection) SendFrame(f *Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		glog.Errorf("❌ Failed to encode %s frame for %s: %v", f.Op, c.ID, err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// addSubscription records sub under the client's id, replacing and
// stopping any previous one.
func (c *Connection) addSubscription(id uint64, sub backend.Subscription) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Unsubscribe()
		return false
	}
	prev := c.subs[id]
	c.subs[id] = sub
	c.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}
	return true
}

func (c *Connection) removeSubscription(id uint64) {
	c.mu.Lock()
	sub := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Subscriptions returns the number of live subscriptions
func (c *Connection) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// close stops every subscription and the write loop. It is safe to call
// more than once.
func (c *Connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	close(c.send)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// writeLoop sends queued frames and pings until the connection closes
func (c *Connection) writeLoop(heartbeat, writeTimeout time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				glog.Warningf("❌ Failed to write to %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Warningf("❌ Failed to ping %s: %v", c.ID, err)
				return
			}
			c.Health.RecordPing()
		}
	}
}
