package room

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
	d := NewDirectory(NewBackendRepository(mem), "public", "public")
	require.NoError(t, d.EnsurePublic(context.Background()))
	return d, mem
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	created, err := d.Create(ctx, "bugs", "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"u1"}, created.MemberIDs)

	found, err := d.FindByName(ctx, "bugs")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.True(t, found.HasMember("u1"))

	_, err = d.FindByName(ctx, "Bugs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicateNameLeavesDirectoryUnchanged(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	first, err := d.Create(ctx, "R", "u1")
	require.NoError(t, err)

	_, err = d.Create(ctx, "R", "u2")
	assert.ErrorIs(t, err, ErrNameTaken)

	rooms, err := d.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, first.ID, rooms[0].ID)
	assert.Equal(t, []string{"u1"}, rooms[0].MemberIDs)
}

func TestPublicNameIsReserved(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	taken, err := d.IsNameTaken(ctx, "public")
	require.NoError(t, err)
	assert.True(t, taken)

	_, err = d.Create(ctx, "public", "u1")
	assert.ErrorIs(t, err, ErrNameTaken)

	_, err = d.FindByName(ctx, "public")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	r, err := d.Create(ctx, "R", "u1")
	require.NoError(t, err)

	_, err = d.Authorize(ctx, "R", "wrong")
	assert.ErrorIs(t, err, ErrKeyMismatch)

	_, err = d.Authorize(ctx, "missing", r.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := d.Authorize(ctx, "R", r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestMembershipIsAddedOnce(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	require.NoError(t, d.AddMember(ctx, "public", "u1"))
	require.NoError(t, d.AddMember(ctx, "public", "u1"))
	require.NoError(t, d.AddMember(ctx, "public", "u2"))

	pub, err := d.Get(ctx, "public")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, pub.MemberIDs)

	require.NoError(t, d.RemoveMember(ctx, "public", "u1"))
	require.NoError(t, d.RemoveMember(ctx, "missing-room", "u1"))

	pub, err = d.Get(ctx, "public")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, pub.MemberIDs)
}

func TestDeleteIfEmpty(t *testing.T) {
	ctx := context.Background()
	d, mem := newTestDirectory(t)

	r, err := d.Create(ctx, "R", "u1")
	require.NoError(t, err)
	_, err = mem.Push(ctx, "messages/"+r.ID, []byte(`{}`))
	require.NoError(t, err)

	deleted, err := d.DeleteIfEmpty(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, d.RemoveMember(ctx, r.ID, "u1"))
	deleted, err = d.DeleteIfEmpty(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = d.FindByName(ctx, "R")
	assert.ErrorIs(t, err, ErrNotFound)

	log, err := mem.Children(ctx, "messages/"+r.ID)
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestPublicRoomIsNeverDeleted(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	deleted, err := d.DeleteIfEmpty(ctx, "public")
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.ErrorIs(t, d.Delete(ctx, "public"), ErrPublicRoom)

	_, err = d.Get(ctx, "public")
	assert.NoError(t, err)
}

func TestListExcludesPublicAndSorts(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := d.Create(ctx, name, "u1")
		require.NoError(t, err)
	}

	names, err := d.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestEnsurePublicKeepsMembers(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	require.NoError(t, d.AddMember(ctx, "public", "u1"))
	require.NoError(t, d.EnsurePublic(ctx))

	pub, err := d.Get(ctx, "public")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, pub.MemberIDs)
}
