package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conchat/internal/backend"
)

func newTestStore(t *testing.T, retention int) (Store, *backend.Memory) {
	t.Helper()
	mem := backend.NewMemory()
	t.Cleanup(func() { mem.Close() })
	return NewStore(NewBackendRepository(mem), retention), mem
}

func text(t *testing.T, body string) *Message {
	t.Helper()
	msg, err := New(TypeText, "kim", "u1", TextContent{Text: body})
	require.NoError(t, err)
	return msg
}

func TestSortByTimestampThenKey(t *testing.T) {
	msgs := []*Message{
		{Key: "b", Timestamp: 5},
		{Key: "a", Timestamp: 3},
		{Key: "c", Timestamp: 5},
	}
	Sort(msgs)

	var order []string
	for _, m := range msgs {
		order = append(order, m.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestAfter(t *testing.T) {
	m := &Message{Key: "b", Timestamp: 5}
	assert.True(t, m.After(4, "z"))
	assert.True(t, m.After(5, "a"))
	assert.False(t, m.After(5, "b"))
	assert.False(t, m.After(6, ""))
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(Type("shout"), "kim", "u1", TextContent{Text: "hi"})
	assert.Error(t, err)
}

func TestAppendStoresOneRecordWithKey(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStore(t, 0)

	msg := text(t, "hello")
	key, err := s.Append(ctx, "r1", msg)
	require.NoError(t, err)
	assert.Equal(t, key, msg.Key)

	children, err := mem.Children(ctx, "messages/r1")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Contains(t, children, key)

	history, err := s.History(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, history, 1)

	var content TextContent
	require.NoError(t, history[0].Decode(&content))
	assert.Equal(t, "hello", content.Text)
	assert.Equal(t, key, history[0].Key)
	assert.Equal(t, "u1", history[0].SenderID)
}

func TestAppendRejectsEmptyUsername(t *testing.T) {
	s, _ := newTestStore(t, 0)
	msg := text(t, "x")
	msg.Username = ""
	_, err := s.Append(context.Background(), "r1", msg)
	assert.Error(t, err)
}

func TestSubscribeDeliversFullLog(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 0)

	var mu sync.Mutex
	var lastRoom string
	var last []*Message
	handle, err := s.Subscribe(ctx, "r1", func(roomID string, msgs []*Message) {
		mu.Lock()
		defer mu.Unlock()
		lastRoom = roomID
		last = msgs
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", handle.RoomID)

	for _, body := range []string{"one", "two", "three"} {
		_, err := s.Append(ctx, "r1", text(t, body))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastRoom == "r1" && len(last) == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Unsubscribe(handle))
	require.NoError(t, s.Unsubscribe(nil))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 0)

	_, err := s.Append(ctx, "public", text(t, "old"))
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx, "public"))

	history, err := s.History(ctx, "public")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRetentionPrunesOldest(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 2)

	var keys []string
	for i, body := range []string{"a", "b", "c", "d"} {
		msg := text(t, body)
		msg.Timestamp = int64(100 + i)
		key, err := s.Append(ctx, "r1", msg)
		require.NoError(t, err)
		keys = append(keys, key)
	}

	history, err := s.History(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, keys[2], history[0].Key)
	assert.Equal(t, keys[3], history[1].Key)

	s.SetRetention(0)
	_, err = s.Append(ctx, "r1", text(t, "e"))
	require.NoError(t, err)
	history, err = s.History(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestPruneExplicit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 0)

	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, "r1", text(t, "x"))
		require.NoError(t, err)
	}
	removed, err := s.Prune(ctx, "r1", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = s.Prune(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestTypeClassification(t *testing.T) {
	assert.True(t, TypeStyleChange.IsEdit())
	assert.False(t, TypeText.IsEdit())
	assert.True(t, TypeTreeSnapshot.IsTreeSharing())
	assert.False(t, TypeEnterRoom.IsTreeSharing())
}
