package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"conchat/internal/backend"
)

// Client is a backend.Backend served by a relay
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[uint64]chan *Frame
	subs    map[uint64]*clientSubscription
	nextID  atomic.Uint64
	nextSub atomic.Uint64
	done    chan struct{}
	closed  atomic.Bool
}

var _ backend.Backend = (*Client)(nil)

// Dial connects to the relay websocket at url
func Dial(ctx context.Context, url string, writeTimeout time.Duration) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, backend.Wrap("dial", url, err)
	}

	c := &Client{
		conn:    conn,
		timeout: writeTimeout,
		pending: make(map[uint64]chan *Frame),
		subs:    make(map[uint64]*clientSubscription),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	glog.Infof("🔗 Connected to relay %s", url)
	return c, nil
}

func (c *Client) readLoop() {
	defer c.shutdown()

	// Pings from the relay are answered by the default ping handler.
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				glog.Warningf("❌ Relay connection lost: %v", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			glog.Warningf("⚠️ Dropping relay frame: %v", err)
			continue
		}

		if f.Op == OpSnapshot {
			c.mu.Lock()
			sub := c.subs[f.Sub]
			c.mu.Unlock()
			if sub != nil {
				sub.deliver(f.Children)
			}
			continue
		}

		c.mu.Lock()
		ch := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- &f
		}
	}
}

// shutdown fails pending calls and stops subscriptions
func (c *Client) shutdown() {
	c.closed.Store(true)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return
	default:
	}
	close(c.done)
	subs := c.subs
	c.subs = make(map[uint64]*clientSubscription)
	c.pending = make(map[uint64]chan *Frame)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	c.conn.Close()
}

func (c *Client) write(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// call sends req and waits for its response
func (c *Client) call(ctx context.Context, req *Frame) (*Frame, error) {
	if c.closed.Load() {
		return nil, backend.Wrap(req.Op, req.Path, backend.ErrClosed)
	}

	req.ID = c.nextID.Add(1)
	ch := make(chan *Frame, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	if err := c.write(req); err != nil {
		forget()
		return nil, backend.Wrap(req.Op, req.Path, err)
	}

	select {
	case resp := <-ch:
		if err := frameError(resp); err != nil {
			return nil, err
		}
		return resp, nil
	case <-ctx.Done():
		forget()
		return nil, backend.Wrap(req.Op, req.Path, ctx.Err())
	case <-c.done:
		return nil, backend.Wrap(req.Op, req.Path, backend.ErrClosed)
	}
}

func (c *Client) Write(ctx context.Context, path string, value []byte) error {
	_, err := c.call(ctx, &Frame{Op: OpWrite, Path: path, Data: value})
	return err
}

func (c *Client) Read(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.call(ctx, &Frame{Op: OpRead, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) Push(ctx context.Context, collection string, value []byte) (string, error) {
	resp, err := c.call(ctx, &Frame{Op: OpPush, Path: collection, Data: value})
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (c *Client) Children(ctx context.Context, collection string) (map[string][]byte, error) {
	resp, err := c.call(ctx, &Frame{Op: OpChildren, Path: collection})
	if err != nil {
		return nil, err
	}
	return orEmpty(resp.Children), nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.call(ctx, &Frame{Op: OpDelete, Path: path})
	return err
}

func (c *Client) FindWhere(ctx context.Context, collection, field, value string) (map[string][]byte, error) {
	resp, err := c.call(ctx, &Frame{Op: OpFind, Path: collection, Field: field, Value: value})
	if err != nil {
		return nil, err
	}
	return orEmpty(resp.Children), nil
}

// Subscribe registers the subscription locally before asking the relay, so
// snapshots that overtake the response are not lost.
func (c *Client) Subscribe(ctx context.Context, collection string, fn backend.SnapshotFunc) (backend.Subscription, error) {
	sub := &clientSubscription{
		id:     c.nextSub.Add(1),
		path:   collection,
		fn:     fn,
		client: c,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, backend.Wrap("subscribe", collection, backend.ErrClosed)
	default:
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()
	go sub.run()

	if _, err := c.call(ctx, &Frame{Op: OpSubscribe, Path: collection, Sub: sub.id}); err != nil {
		c.dropSubscription(sub.id)
		sub.stop()
		return nil, err
	}
	return sub, nil
}

func (c *Client) dropSubscription(id uint64) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// Close disconnects from the relay
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}

// clientSubscription keeps only the latest snapshot so a slow handler
// never blocks the read loop.
type clientSubscription struct {
	id     uint64
	path   string
	fn     backend.SnapshotFunc
	client *Client

	mu       sync.Mutex
	latest   map[string][]byte
	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *clientSubscription) deliver(children map[string][]byte) {
	s.mu.Lock()
	s.latest = orEmpty(children)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *clientSubscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			s.mu.Lock()
			children := s.latest
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(children)
		}
	}
}

func (s *clientSubscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Unsubscribe stops delivery at once; the relay is told in the background.
func (s *clientSubscription) Unsubscribe() error {
	s.client.dropSubscription(s.id)
	s.stop()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.client.timeout)
		defer cancel()
		if _, err := s.client.call(ctx, &Frame{Op: OpUnsubscribe, Sub: s.id}); err != nil && !s.client.closed.Load() {
			glog.Warningf("⚠️ Failed to unsubscribe %s on relay: %v", s.path, err)
		}
	}()
	return nil
}

func (s *clientSubscription) Path() string {
	return s.path
}

func orEmpty(children map[string][]byte) map[string][]byte {
	if children == nil {
		return map[string][]byte{}
	}
	return children
}
