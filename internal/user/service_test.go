package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conchat/internal/backend"
)

func newTestDirectory(t *testing.T) (Directory, *backend.Memory) {
	t.Helper()
	mem := backend.NewMemory()
	t.Cleanup(func() { mem.Close() })
	return NewDirectory(NewBackendRepository(mem)), mem
}

func TestRegisterWritesRecord(t *testing.T) {
	ctx := context.Background()
	dir, mem := newTestDirectory(t)

	u, err := dir.Register(ctx, "아무개", "public")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	data, err := mem.Read(ctx, "users/"+u.ID)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"displayName":"아무개"`)

	got, err := dir.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "public", got.CurrentRoomID)
}

func TestDefaultNamesMayRepeat(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	a, err := dir.Register(ctx, "아무개", "public")
	require.NoError(t, err)
	b, err := dir.Register(ctx, "아무개", "public")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestRenameChecksUniquenessCaseSensitively(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	a, err := dir.Register(ctx, "anon", "public")
	require.NoError(t, err)
	b, err := dir.Register(ctx, "anon", "public")
	require.NoError(t, err)

	require.NoError(t, dir.Rename(ctx, a.ID, "Kim"))

	err = dir.Rename(ctx, b.ID, "Kim")
	assert.ErrorIs(t, err, ErrNameTaken)

	require.NoError(t, dir.Rename(ctx, b.ID, "kim"))

	taken, err := dir.IsNameTaken(ctx, "Kim")
	require.NoError(t, err)
	assert.True(t, taken)
}

func TestSetCurrentRoomAndDelete(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(t)

	u, err := dir.Register(ctx, "anon", "public")
	require.NoError(t, err)

	require.NoError(t, dir.SetCurrentRoom(ctx, u.ID, "r1"))
	got, err := dir.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "r1", got.CurrentRoomID)

	require.NoError(t, dir.Delete(ctx, u.ID))
	_, err = dir.Get(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenameMissingUser(t *testing.T) {
	dir, _ := newTestDirectory(t)
	err := dir.Rename(context.Background(), "nope", "Kim")
	assert.ErrorIs(t, err, ErrNotFound)
}
