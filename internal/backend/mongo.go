package backend

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"conchat/internal/database"
)

// recordDocument is one record path stored in MongoDB. String valued top
// level fields are copied into Fields so FindWhere can run server side.
type recordDocument struct {
	Path      string            `bson:"_id"`
	Parent    string            `bson:"parent"`
	Value     []byte            `bson:"value"`
	Fields    map[string]string `bson:"fields,omitempty"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

func newRecordDocument(path string, value []byte) *recordDocument {
	parent, _ := Split(path)
	doc := &recordDocument{
		Path:      path,
		Parent:    parent,
		Value:     clone(value),
		UpdatedAt: time.Now(),
	}

	var top map[string]any
	if err := json.Unmarshal(value, &top); err == nil {
		for k, v := range top {
			if s, ok := v.(string); ok {
				if doc.Fields == nil {
					doc.Fields = make(map[string]string)
				}
				doc.Fields[k] = s
			}
		}
	}
	return doc
}

// Mongo is a Backend over a single MongoDB collection. Subscriptions use
// change streams, which need a replica set.
type Mongo struct {
	collection *mongo.Collection
	timeout    time.Duration

	mu     sync.Mutex
	subs   map[*mongoSubscription]struct{}
	closed bool
}

// NewMongo creates a Mongo backend over the records collection of db.
func NewMongo(db *database.MongoDB, timeout time.Duration) *Mongo {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Mongo{
		collection: db.Records(),
		timeout:    timeout,
		subs:       make(map[*mongoSubscription]struct{}),
	}
}

func (m *Mongo) Write(ctx context.Context, path string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	doc := newRecordDocument(path, value)
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": path}, doc, options.Replace().SetUpsert(true))
	return Wrap("write", path, err)
}

func (m *Mongo) Read(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var doc recordDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": path}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Wrap("read", path, err)
	}
	return doc.Value, nil
}

func (m *Mongo) Push(ctx context.Context, collection string, value []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	key := primitive.NewObjectID().Hex()
	path := Join(collection, key)
	if _, err := m.collection.InsertOne(ctx, newRecordDocument(path, value)); err != nil {
		return "", Wrap("push", collection, err)
	}
	return key, nil
}

func (m *Mongo) Children(ctx context.Context, collection string) (map[string][]byte, error) {
	return m.find(ctx, "children", collection, bson.M{"parent": collection})
}

func (m *Mongo) FindWhere(ctx context.Context, collection, field, value string) (map[string][]byte, error) {
	return m.find(ctx, "find", collection, bson.M{"parent": collection, "fields." + field: value})
}

func (m *Mongo) find(ctx context.Context, op, collection string, filter bson.M) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cursor, err := m.collection.Find(ctx, filter)
	if err != nil {
		return nil, Wrap(op, collection, err)
	}
	defer cursor.Close(ctx)

	out := make(map[string][]byte)
	for cursor.Next(ctx) {
		var doc recordDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, Wrap(op, collection, err)
		}
		_, key := Split(doc.Path)
		out[key] = doc.Value
	}
	if err := cursor.Err(); err != nil {
		return nil, Wrap(op, collection, err)
	}
	return out, nil
}

func (m *Mongo) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	filter := bson.M{"$or": bson.A{
		bson.M{"_id": path},
		bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(path+"/")}},
	}}
	_, err := m.collection.DeleteMany(ctx, filter)
	return Wrap("delete", path, err)
}

func (m *Mongo) Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (Subscription, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, Wrap("subscribe", collection, ErrClosed)
	}
	m.mu.Unlock()

	watchCtx, cancel := context.WithCancel(context.Background())
	stream, err := m.collection.Watch(watchCtx, mongo.Pipeline{}, options.ChangeStream())
	if err != nil {
		cancel()
		return nil, Wrap("subscribe", collection, err)
	}

	sub := &mongoSubscription{path: collection, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go m.watch(watchCtx, sub, stream, fn)
	return sub, nil
}

// watch delivers the initial children and then re-reads the collection
// after every change event touching it.
func (m *Mongo) watch(ctx context.Context, sub *mongoSubscription, stream *mongo.ChangeStream, fn SnapshotFunc) {
	defer close(sub.done)
	defer stream.Close(context.Background())
	defer func() {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
	}()

	deliver := func() bool {
		children, err := m.Children(ctx, sub.path)
		if err != nil {
			if ctx.Err() == nil {
				glog.Errorf("❌ Failed to read %s for subscription: %v", sub.path, err)
			}
			return ctx.Err() == nil
		}
		if ctx.Err() != nil {
			return false
		}
		fn(children)
		return true
	}

	if !deliver() {
		return
	}

	for stream.Next(ctx) {
		var event struct {
			DocumentKey struct {
				ID string `bson:"_id"`
			} `bson:"documentKey"`
		}
		if err := stream.Decode(&event); err != nil {
			glog.Warningf("⚠️ Undecodable change event on %s: %v", sub.path, err)
			continue
		}
		if !IsWithin(event.DocumentKey.ID, sub.path) && !IsWithin(sub.path, event.DocumentKey.ID) {
			continue
		}
		// Drain events already buffered so a burst results in one read.
		for stream.RemainingBatchLength() > 0 && stream.Next(ctx) {
		}
		if !deliver() {
			return
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		glog.Errorf("❌ Change stream for %s ended: %v", sub.path, err)
	}
}

func (m *Mongo) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*mongoSubscription, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

type mongoSubscription struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *mongoSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (s *mongoSubscription) Path() string {
	return s.path
}
