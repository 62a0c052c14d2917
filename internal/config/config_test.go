package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	l := NewLoader("")
	l.getenv = envFrom(nil)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "public", cfg.PublicRoomID)
	assert.Equal(t, "아무개", cfg.DefaultDisplayName)
	assert.Equal(t, "js", cfg.Language)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: redis
redis:
  addr: cache:6379
message_retention: 200
rate_limit_window: 30s
`), 0o644))

	l := NewLoader(path)
	l.getenv = envFrom(map[string]string{
		"CONCHAT_REDIS_DB":          "3",
		"CONCHAT_LANGUAGE":          "react",
		"CONCHAT_ENABLE_RATE_LIMIT": "false",
	})

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 200, cfg.MessageRetention)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, "react", cfg.Language)
	assert.False(t, cfg.EnableRateLimit)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conchat.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backend":"nats","nats":{"bucket":"dbg"}}`), 0o644))

	l := NewLoader(path)
	l.getenv = envFrom(nil)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, BackendNATS, cfg.Backend)
	assert.Equal(t, "dbg", cfg.NATS.Bucket)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"backend", map[string]string{"CONCHAT_BACKEND": "sqlite"}},
		{"language", map[string]string{"CONCHAT_LANGUAGE": "vue"}},
		{"retention", map[string]string{"CONCHAT_MESSAGE_RETENTION": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader("")
			l.getenv = envFrom(tt.env)
			_, err := l.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	l.getenv = envFrom(nil)
	_, err := l.Load()
	assert.Error(t, err)
}

func TestManagerReloadNotifiesCallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("message_retention: 5\n"), 0o644))

	loader := NewLoader(path)
	loader.getenv = envFrom(nil)
	m := newManager(loader)
	require.NoError(t, m.Initialize())
	assert.Equal(t, 5, m.Get().MessageRetention)

	var seen atomic.Int64
	m.OnChange(func(c *Config) { seen.Store(int64(c.MessageRetention)) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("message_retention: 9\n"), 0o644))

	assert.Eventually(t, func() bool { return seen.Load() == 9 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 9, m.Get().MessageRetention)
}

func TestManagerReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("message_retention: 5\n"), 0o644))

	loader := NewLoader(path)
	loader.getenv = envFrom(nil)
	m := newManager(loader)
	require.NoError(t, m.Initialize())

	require.NoError(t, os.WriteFile(path, []byte("backend: bogus\n"), 0o644))
	assert.Error(t, m.Reload())
	assert.Equal(t, 5, m.Get().MessageRetention)
}

func TestManagerReloadCallsEveryCallbackWithACopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("message_retention: 5\n"), 0o644))

	loader := NewLoader(path)
	loader.getenv = envFrom(nil)
	m := newManager(loader)
	require.NoError(t, m.Initialize())

	var got []int
	m.OnChange(func(c *Config) {
		got = append(got, c.MessageRetention)
		c.MessageRetention = 100
	})
	m.OnChange(func(c *Config) { got = append(got, c.MessageRetention) })

	require.NoError(t, os.WriteFile(path, []byte("message_retention: 7\n"), 0o644))
	require.NoError(t, m.Reload())

	assert.Equal(t, []int{7, 7}, got)
	assert.Equal(t, 7, m.Get().MessageRetention)
}
