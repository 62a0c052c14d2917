package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis backend settings.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	Prefix   string        `json:"prefix" yaml:"prefix"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:    "localhost:6379",
		Prefix:  "conchat",
		Timeout: 5 * time.Second,
	}
}

// Redis is a Backend storing every collection as a hash. Each change is
// announced on a pub/sub channel carrying the changed path.
type Redis struct {
	rdb     *redis.Client
	prefix  string
	timeout time.Duration

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, config *RedisConfig) (*Redis, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if _, err := rdb.Ping(pingCtx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis: %w", err)
	}
	glog.Infof("✅ Connected to Redis: %s", config.Addr)

	return newRedis(rdb, config), nil
}

func newRedis(rdb *redis.Client, config *RedisConfig) *Redis {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Redis{
		rdb:     rdb,
		prefix:  config.Prefix,
		timeout: timeout,
		subs:    make(map[*redisSubscription]struct{}),
	}
}

func (r *Redis) hash(collection string) string {
	return r.prefix + ":" + collection
}

func (r *Redis) channel() string {
	return r.prefix + ":changes"
}

func (r *Redis) Write(ctx context.Context, path string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	parent, key := Split(path)
	if err := r.rdb.HSet(ctx, r.hash(parent), key, value).Err(); err != nil {
		return Wrap("write", path, err)
	}
	r.publish(ctx, path)
	return nil
}

func (r *Redis) Read(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	parent, key := Split(path)
	value, err := r.rdb.HGet(ctx, r.hash(parent), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Wrap("read", path, err)
	}
	return value, nil
}

func (r *Redis) Push(ctx context.Context, collection string, value []byte) (string, error) {
	key := ulid.Make().String()
	if err := r.Write(ctx, Join(collection, key), value); err != nil {
		return "", Wrap("push", collection, err)
	}
	return key, nil
}

func (r *Redis) Children(ctx context.Context, collection string) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	all, err := r.rdb.HGetAll(ctx, r.hash(collection)).Result()
	if err != nil {
		return nil, Wrap("children", collection, err)
	}
	out := make(map[string][]byte, len(all))
	for k, v := range all {
		out[k] = []byte(v)
	}
	return out, nil
}

func (r *Redis) FindWhere(ctx context.Context, collection, field, value string) (map[string][]byte, error) {
	children, err := r.Children(ctx, collection)
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

// Delete removes the record at path, the hash holding its children and
// every hash nested beneath it.
func (r *Redis) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	parent, key := Split(path)
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, r.hash(parent), key)
	pipe.Del(ctx, r.hash(path))

	iter := r.rdb.Scan(ctx, 0, r.hash(path)+"/*", 100).Iterator()
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return Wrap("delete", path, err)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return Wrap("delete", path, err)
	}
	r.publish(ctx, path)
	return nil
}

func (r *Redis) publish(ctx context.Context, path string) {
	if err := r.rdb.Publish(ctx, r.channel(), path).Err(); err != nil {
		glog.Warningf("⚠️ Error publishing change for %s: %v", path, err)
	}
}

func (r *Redis) Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, Wrap("subscribe", collection, ErrClosed)
	}
	r.mu.Unlock()

	watchCtx, cancel := context.WithCancel(context.Background())
	pubsub := r.rdb.Subscribe(watchCtx, r.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, Wrap("subscribe", collection, err)
	}

	sub := &redisSubscription{path: collection, pubsub: pubsub, cancel: cancel}

	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go r.watch(watchCtx, sub, fn)
	return sub, nil
}

func (r *Redis) watch(ctx context.Context, sub *redisSubscription, fn SnapshotFunc) {
	defer func() {
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
	}()

	deliver := func() {
		children, err := r.Children(ctx, sub.path)
		if err != nil {
			if ctx.Err() == nil {
				glog.Errorf("❌ Failed to read %s for subscription: %v", sub.path, err)
			}
			return
		}
		if ctx.Err() == nil {
			fn(children)
		}
	}

	deliver()

	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !IsWithin(msg.Payload, sub.path) && !IsWithin(sub.path, msg.Payload) {
				continue
			}
			drain(ch)
			deliver()
		}
	}
}

func drain(ch <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSubscription, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return r.rdb.Close()
}

type redisSubscription struct {
	path   string
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) Path() string {
	return s.path
}
