package backend

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// Memory is an in-process Backend. It backs the relay server and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
	subs    map[uint64]*memorySubscription
	nextSub atomic.Uint64
	closed  atomic.Bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string][]byte),
		subs:    make(map[uint64]*memorySubscription),
	}
}

func (m *Memory) Write(ctx context.Context, path string, value []byte) error {
	if m.closed.Load() {
		return Wrap("write", path, ErrClosed)
	}

	m.mu.Lock()
	m.records[path] = clone(value)
	m.mu.Unlock()

	m.notify(path)
	return nil
}

func (m *Memory) Read(ctx context.Context, path string) ([]byte, error) {
	if m.closed.Load() {
		return nil, Wrap("read", path, ErrClosed)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.records[path]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(value), nil
}

func (m *Memory) Push(ctx context.Context, collection string, value []byte) (string, error) {
	if m.closed.Load() {
		return "", Wrap("push", collection, ErrClosed)
	}

	// ulid.Make is monotonic within the process, so keys sort in push order.
	key := ulid.Make().String()
	path := Join(collection, key)

	m.mu.Lock()
	m.records[path] = clone(value)
	m.mu.Unlock()

	m.notify(path)
	return key, nil
}

func (m *Memory) Children(ctx context.Context, collection string) (map[string][]byte, error) {
	if m.closed.Load() {
		return nil, Wrap("children", collection, ErrClosed)
	}
	return m.children(collection), nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if m.closed.Load() {
		return Wrap("delete", path, ErrClosed)
	}

	m.mu.Lock()
	removed := 0
	for p := range m.records {
		if IsWithin(p, path) {
			delete(m.records, p)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.notify(path)
	}
	return nil
}

func (m *Memory) FindWhere(ctx context.Context, collection, field, value string) (map[string][]byte, error) {
	if m.closed.Load() {
		return nil, Wrap("find", collection, ErrClosed)
	}

	matches := make(map[string][]byte)
	for key, doc := range m.children(collection) {
		if FieldEquals(doc, field, value) {
			matches[key] = doc
		}
	}
	return matches, nil
}

func (m *Memory) Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (Subscription, error) {
	if m.closed.Load() {
		return nil, Wrap("subscribe", collection, ErrClosed)
	}

	sub := &memorySubscription{
		id:     m.nextSub.Add(1),
		path:   collection,
		fn:     fn,
		mem:    m,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.subs[sub.id] = sub
	m.mu.Unlock()

	go sub.run()
	sub.signal()

	return sub, nil
}

// Close stops every subscription. Further calls fail with ErrClosed.
func (m *Memory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[uint64]*memorySubscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func (m *Memory) children(collection string) map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte)
	for path, value := range m.records {
		if IsChildOf(path, collection) {
			_, key := Split(path)
			out[key] = clone(value)
		}
	}
	return out
}

// notify wakes every subscription whose collection is affected by a change
// at path: a change beneath it or the removal of one of its ancestors.
func (m *Memory) notify(path string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs {
		if IsWithin(path, sub.path) || IsWithin(sub.path, path) {
			sub.signal()
		}
	}
}

func (m *Memory) unsubscribe(id uint64) {
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
}

// memorySubscription coalesces change signals: a burst of writes results
// in at least one delivery reading the latest state.
type memorySubscription struct {
	id       uint64
	path     string
	fn       SnapshotFunc
	mem      *Memory
	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (s *memorySubscription) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			children := s.mem.children(s.path)
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(children)
		}
	}
}

func (s *memorySubscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *memorySubscription) Unsubscribe() error {
	s.mem.unsubscribe(s.id)
	s.stop()
	return nil
}

func (s *memorySubscription) Path() string {
	return s.path
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
