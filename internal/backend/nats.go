package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
)

// NATSConfig holds the NATS backend settings.
type NATSConfig struct {
	URL     string        `json:"url" yaml:"url"`
	Name    string        `json:"name" yaml:"name"`
	Bucket  string        `json:"bucket" yaml:"bucket"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		URL:     nats.DefaultURL,
		Name:    "conchat",
		Bucket:  "conchat",
		Timeout: 5 * time.Second,
	}
}

// NATS is a Backend over a JetStream key-value bucket. Record paths map to
// dotted keys, so rooms/r1 is stored as rooms.r1.
type NATS struct {
	conn    *nats.Conn
	kv      jetstream.KeyValue
	timeout time.Duration

	mu     sync.Mutex
	subs   map[*natsSubscription]struct{}
	closed bool
}

// NewNATS connects to NATS and opens, or creates, the bucket.
func NewNATS(ctx context.Context, config *NATSConfig) (*NATS, error) {
	if config == nil {
		config = DefaultNATSConfig()
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	conn, err := nats.Connect(config.URL,
		nats.Name(config.Name),
		nats.Timeout(config.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: "conchat rooms, users and message logs",
		History:     1,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open bucket %s: %w", config.Bucket, err)
	}
	glog.Infof("✅ Connected to NATS: %s bucket=%s", config.URL, config.Bucket)

	return &NATS{
		conn:    conn,
		kv:      kv,
		timeout: config.Timeout,
		subs:    make(map[*natsSubscription]struct{}),
	}, nil
}

func toKey(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

func toPath(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}

func (n *NATS) Write(ctx context.Context, path string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	_, err := n.kv.Put(ctx, toKey(path), value)
	return Wrap("write", path, err)
}

func (n *NATS) Read(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	entry, err := n.kv.Get(ctx, toKey(path))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Wrap("read", path, err)
	}
	return entry.Value(), nil
}

func (n *NATS) Push(ctx context.Context, collection string, value []byte) (string, error) {
	key := ulid.Make().String()
	if err := n.Write(ctx, Join(collection, key), value); err != nil {
		return "", Wrap("push", collection, err)
	}
	return key, nil
}

// scan returns the current entries matching filter. The watcher sends a
// nil entry once all initial values have been delivered.
func (n *NATS) scan(ctx context.Context, filter string) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	watcher, err := n.kv.Watch(ctx, filter, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, err
	}
	defer watcher.Stop()

	out := make(map[string][]byte)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-watcher.Updates():
			if !ok || entry == nil {
				return out, nil
			}
			out[toPath(entry.Key())] = entry.Value()
		}
	}
}

func (n *NATS) Children(ctx context.Context, collection string) (map[string][]byte, error) {
	entries, err := n.scan(ctx, toKey(collection)+".*")
	if err != nil {
		return nil, Wrap("children", collection, err)
	}
	out := make(map[string][]byte, len(entries))
	for path, value := range entries {
		_, key := Split(path)
		out[key] = value
	}
	return out, nil
}

func (n *NATS) FindWhere(ctx context.Context, collection, field, value string) (map[string][]byte, error) {
	children, err := n.Children(ctx, collection)
	if err != nil {
		return nil, Wrap("find", collection, err)
	}
	for k, doc := range children {
		if !FieldEquals(doc, field, value) {
			delete(children, k)
		}
	}
	return children, nil
}

func (n *NATS) Delete(ctx context.Context, path string) error {
	nested, err := n.scan(ctx, toKey(path)+".>")
	if err != nil {
		return Wrap("delete", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	for p := range nested {
		if err := n.kv.Delete(ctx, toKey(p)); err != nil {
			return Wrap("delete", p, err)
		}
	}
	if err := n.kv.Delete(ctx, toKey(path)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return Wrap("delete", path, err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (Subscription, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, Wrap("subscribe", collection, ErrClosed)
	}
	n.mu.Unlock()

	watchCtx, cancel := context.WithCancel(context.Background())
	watcher, err := n.kv.Watch(watchCtx, toKey(collection)+".*")
	if err != nil {
		cancel()
		return nil, Wrap("subscribe", collection, err)
	}

	sub := &natsSubscription{path: collection, watcher: watcher, cancel: cancel}

	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()

	go n.watch(watchCtx, sub, fn)
	return sub, nil
}

// watch keeps a local copy of the collection and delivers it once the
// initial values are in and then whenever no further updates are pending.
func (n *NATS) watch(ctx context.Context, sub *natsSubscription, fn SnapshotFunc) {
	defer func() {
		n.mu.Lock()
		delete(n.subs, sub)
		n.mu.Unlock()
	}()

	children := make(map[string][]byte)
	snapshot := func() map[string][]byte {
		out := make(map[string][]byte, len(children))
		for k, v := range children {
			out[k] = clone(v)
		}
		return out
	}

	initialized := false
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-sub.watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				initialized = true
				fn(snapshot())
				continue
			}

			_, key := Split(toPath(entry.Key()))
			switch entry.Operation() {
			case jetstream.KeyValuePut:
				children[key] = entry.Value()
			default:
				delete(children, key)
			}

			if initialized && entry.Delta() == 0 && ctx.Err() == nil {
				fn(snapshot())
			}
		}
	}
}

func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := make([]*natsSubscription, 0, len(n.subs))
	for sub := range n.subs {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if err := n.conn.Drain(); err != nil {
		glog.Warningf("⚠️ NATS drain failed: %v", err)
		n.conn.Close()
	}
	return nil
}

type natsSubscription struct {
	path    string
	watcher jetstream.KeyWatcher
	cancel  context.CancelFunc
	once    sync.Once
}

func (s *natsSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.watcher.Stop()
	})
	return err
}

func (s *natsSubscription) Path() string {
	return s.path
}
