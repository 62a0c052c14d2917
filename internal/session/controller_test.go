package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conchat/internal/backend"
	"conchat/internal/config"
	"conchat/internal/dom"
	"conchat/internal/message"
	"conchat/internal/room"
	"conchat/internal/user"
)

const (
	wait = 2 * time.Second
	tick = 10 * time.Millisecond
)

func page(count int) string {
	return `<html><head><title>app</title></head><body>
<div id="app" data-component="App" data-state='{"count":` + strconv.Itoa(count) + `}'>
<ul><li>a</li><li>b</li></ul>
<p data-component="Label" data-props='{"text":"hi"}'>hi</p>
</div>
</body></html>`
}

type recorder struct {
	mu    sync.Mutex
	lines []string
	chats []ChatLine
}

func (r *recorder) Chat(line ChatLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, line)
}

func (r *recorder) Info(text string) { r.add(text) }
func (r *recorder) Warn(text string) { r.add(text) }

func (r *recorder) Block(title, body string) { r.add(title + "\n" + body) }

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, s)
}

func (r *recorder) has(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

func (r *recorder) chatted(from, text string, self bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chats {
		if c.Username == from && c.Text == text && c.Self == self {
			return true
		}
	}
	return false
}

func (r *recorder) chatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats)
}

type env struct {
	cfg   *config.Config
	rooms room.Directory
	users user.Directory
	store message.Store
}

func newEnv(t *testing.T, tweak ...func(*config.Config)) *env {
	t.Helper()
	mem := backend.NewMemory()
	t.Cleanup(func() { mem.Close() })

	cfg := config.DefaultConfig()
	cfg.OperationTimeout = wait
	cfg.EnableRateLimit = false
	for _, fn := range tweak {
		fn(cfg)
	}

	return &env{
		cfg:   cfg,
		rooms: room.NewDirectory(room.NewBackendRepository(mem), cfg.PublicRoomID, cfg.PublicRoomName),
		users: user.NewDirectory(user.NewBackendRepository(mem)),
		store: message.NewStore(message.NewBackendRepository(mem), 0),
	}
}

func (e *env) client(t *testing.T, html string) (*Controller, *recorder) {
	t.Helper()
	doc, err := dom.Parse(html)
	require.NoError(t, err)

	rec := &recorder{}
	c := New(e.cfg, Deps{Rooms: e.rooms, Users: e.users, Store: e.store, Document: doc, Printer: rec})
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, rec
}

// named starts a client and confirms its display name
func (e *env) named(t *testing.T, name string, html string) (*Controller, *recorder) {
	t.Helper()
	c, rec := e.client(t, html)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.SetDisplayName(context.Background(), name))
	return c, rec
}

// assertOnlyMemberOf checks that userID appears exactly once across all
// rooms, in roomID.
func (e *env) assertOnlyMemberOf(t *testing.T, userID, roomID string) {
	t.Helper()
	ctx := context.Background()

	rooms, err := e.rooms.List(ctx)
	require.NoError(t, err)
	public, err := e.rooms.Get(ctx, e.cfg.PublicRoomID)
	require.NoError(t, err)

	count := 0
	in := ""
	for _, r := range append(rooms, public) {
		for _, m := range r.MemberIDs {
			if m == userID {
				count++
				in = r.ID
			}
		}
	}
	assert.Equal(t, 1, count, "membership count of %s", userID)
	assert.Equal(t, roomID, in)
}

func TestStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, rec := e.client(t, page(1))

	require.NoError(t, a.Start(ctx))
	st := a.State()
	assert.Equal(t, Started, st.Phase)
	assert.Equal(t, "아무개", st.DisplayName)
	assert.False(t, st.NameConfirmed)
	assert.Equal(t, "public", st.RoomID)
	assert.Equal(t, "js", st.Language)
	assert.True(t, rec.has("Guide"))

	require.NoError(t, a.Start(ctx))
	assert.Equal(t, st.UserID, a.State().UserID)

	e.assertOnlyMemberOf(t, st.UserID, "public")
	u, err := e.users.Get(ctx, st.UserID)
	require.NoError(t, err)
	assert.Equal(t, "public", u.CurrentRoomID)
}

func TestOperationsRequireStart(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, _ := e.client(t, page(1))

	ops := map[string]func() error{
		"stop":     func() error { return a.Stop(ctx) },
		"language": func() error { return a.SetLanguage("js") },
		"name":     func() error { return a.SetDisplayName(ctx, "kim") },
		"create":   func() error { _, err := a.CreateRoom(ctx, "r"); return err },
		"enter":    func() error { return a.EnterRoom(ctx, "r", "k") },
		"leave":    func() error { return a.LeaveRoom(ctx) },
		"rooms":    func() error { _, err := a.ListRooms(ctx); return err },
		"speak":    func() error { return a.Speak(ctx, "hi") },
		"select":   func() error { _, err := a.Select("li"); return err },
		"style":    func() error { return a.ChangeStyle(ctx, "color: red") },
		"text":     func() error { return a.ChangeText(ctx, "x") },
		"attr":     func() error { return a.SetAttribute(ctx, "title", "x") },
		"insert":   func() error { return a.InsertElement(ctx, "afterend", "<p></p>") },
		"remove":   func() error { return a.RemoveElement(ctx) },
		"reset":    func() error { return a.ResetEdits() },
		"tree":     func() error { _, err := a.ShowTree(ctx, ""); return err },
		"diff":     func() error { return a.RequestTreeDiff(ctx, "lee", "") },
		"guide":    func() error { return a.Guide() },
	}
	for name, op := range ops {
		assert.ErrorIs(t, op(), ErrNotStarted, name)
	}
}

func TestSetDisplayName(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, rec := e.client(t, page(1))
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.SetDisplayName(ctx, "kim"))
	assert.True(t, rec.has("Hello, kim"))
	assert.True(t, a.State().NameConfirmed)
	assert.ErrorIs(t, a.SetDisplayName(ctx, "kimchi"), ErrNameAlreadySet)

	b, _ := e.client(t, page(1))
	require.NoError(t, b.Start(ctx))
	assert.ErrorIs(t, b.SetDisplayName(ctx, "kim"), user.ErrNameTaken)
	assert.ErrorIs(t, b.SetDisplayName(ctx, "two words"), ErrInvalidInput)
	assert.False(t, b.State().NameConfirmed)
	require.NoError(t, b.SetDisplayName(ctx, "Kim"))
}

func TestSetLanguage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, rec := e.client(t, page(1))
	require.NoError(t, a.Start(ctx))

	require.NoError(t, a.SetLanguage(" React "))
	assert.Equal(t, LanguageReact, a.State().Language)
	assert.True(t, rec.has("Language set to react"))
	assert.ErrorIs(t, a.SetLanguage("python"), ErrInvalidLanguage)
	assert.Equal(t, LanguageReact, a.State().Language)
}

func TestCreateRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, _ := e.client(t, page(1))
	require.NoError(t, a.Start(ctx))
	_, err := a.CreateRoom(ctx, "bugs")
	assert.ErrorIs(t, err, ErrNameNotSet)

	require.NoError(t, a.SetDisplayName(ctx, "kim"))
	_, err = a.CreateRoom(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	key, err := a.CreateRoom(ctx, "bugs")
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	st := a.State()
	assert.Equal(t, key, st.RoomID)
	assert.Equal(t, "bugs", st.RoomName)
	e.assertOnlyMemberOf(t, st.UserID, key)

	b, _ := e.named(t, "lee", page(1))
	_, err = b.CreateRoom(ctx, "bugs")
	assert.ErrorIs(t, err, room.ErrNameTaken)
	_, err = b.CreateRoom(ctx, "public")
	assert.ErrorIs(t, err, room.ErrNameTaken)

	rooms, err := e.rooms.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, []string{st.UserID}, rooms[0].MemberIDs)
	e.assertOnlyMemberOf(t, b.State().UserID, "public")
}

func TestCreatingAnotherRoomDeletesTheVacatedOne(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, _ := e.named(t, "kim", page(1))

	_, err := a.CreateRoom(ctx, "one")
	require.NoError(t, err)
	two, err := a.CreateRoom(ctx, "two")
	require.NoError(t, err)

	_, err = e.rooms.FindByName(ctx, "one")
	assert.ErrorIs(t, err, room.ErrNotFound)
	e.assertOnlyMemberOf(t, a.State().UserID, two)

	names, err := a.ListRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, names)
}

func TestEnterRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, recA := e.named(t, "kim", page(1))
	b, _ := e.named(t, "lee", page(1))

	key, err := a.CreateRoom(ctx, "bugs")
	require.NoError(t, err)

	assert.ErrorIs(t, b.EnterRoom(ctx, "bugs", "wrong"), room.ErrKeyMismatch)
	assert.ErrorIs(t, b.EnterRoom(ctx, "nope", key), room.ErrNotFound)
	assert.ErrorIs(t, b.EnterRoom(ctx, "bugs", " "), ErrInvalidInput)
	e.assertOnlyMemberOf(t, b.State().UserID, "public")
	bugs, err := e.rooms.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{a.State().UserID}, bugs.MemberIDs)

	require.NoError(t, b.EnterRoom(ctx, "bugs", key))
	assert.Equal(t, key, b.State().RoomID)
	e.assertOnlyMemberOf(t, b.State().UserID, key)
	assert.Eventually(t, func() bool { return recA.has("lee entered the room") }, wait, tick)

	assert.ErrorIs(t, b.EnterRoom(ctx, "bugs", key), ErrAlreadyInRoom)
}

func TestLeaveRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, recA := e.named(t, "kim", page(1))
	b, _ := e.named(t, "lee", page(1))

	assert.ErrorIs(t, a.LeaveRoom(ctx), ErrNotInDebugRoom)

	key, err := a.CreateRoom(ctx, "bugs")
	require.NoError(t, err)
	require.NoError(t, b.EnterRoom(ctx, "bugs", key))

	require.NoError(t, b.LeaveRoom(ctx))
	assert.Equal(t, "public", b.State().RoomID)
	e.assertOnlyMemberOf(t, b.State().UserID, "public")
	assert.Eventually(t, func() bool { return recA.has("lee left the room") }, wait, tick)

	_, err = e.rooms.FindByName(ctx, "bugs")
	require.NoError(t, err)

	require.NoError(t, a.LeaveRoom(ctx))
	_, err = e.rooms.FindByName(ctx, "bugs")
	assert.ErrorIs(t, err, room.ErrNotFound)
	e.assertOnlyMemberOf(t, a.State().UserID, "public")
}

func TestMembershipStaysUniqueAcrossSequences(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, _ := e.named(t, "kim", page(1))
	b, _ := e.named(t, "lee", page(1))
	id := b.State().UserID

	first, err := a.CreateRoom(ctx, "first")
	require.NoError(t, err)
	second, err := a.CreateRoom(ctx, "second")
	require.NoError(t, err)
	_, err = e.rooms.Get(ctx, first)
	assert.ErrorIs(t, err, room.ErrNotFound)

	require.NoError(t, b.EnterRoom(ctx, "second", second))
	e.assertOnlyMemberOf(t, id, second)

	third, err := b.CreateRoom(ctx, "third")
	require.NoError(t, err)
	e.assertOnlyMemberOf(t, id, third)

	require.NoError(t, b.EnterRoom(ctx, "second", second))
	e.assertOnlyMemberOf(t, id, second)
	_, err = e.rooms.Get(ctx, third)
	assert.ErrorIs(t, err, room.ErrNotFound)

	require.NoError(t, b.LeaveRoom(ctx))
	e.assertOnlyMemberOf(t, id, "public")
}

func TestSpeak(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, recA := e.named(t, "kim", page(1))
	_, recB := e.named(t, "lee", page(1))

	require.NoError(t, a.Speak(ctx, "  hello   there "))
	assert.Eventually(t, func() bool { return recB.chatted("kim", "hello there", false) }, wait, tick)
	assert.Eventually(t, func() bool { return recA.chatted("kim", "hello there", true) }, wait, tick)

	assert.ErrorIs(t, a.Speak(ctx, " "), ErrInvalidInput)

	require.NoError(t, a.Speak(ctx, "second"))
	assert.Eventually(t, func() bool { return recB.chatCount() == 2 }, wait, tick)
	assert.Never(t, func() bool { return recB.chatCount() > 2 }, 100*time.Millisecond, tick)
}

func TestSpeakIsRateLimited(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, func(cfg *config.Config) {
		cfg.EnableRateLimit = true
		cfg.RateLimitMessages = 2
		cfg.RateLimitWindow = time.Hour
	})
	a, _ := e.named(t, "kim", page(1))

	require.NoError(t, a.Speak(ctx, "one"))
	require.NoError(t, a.Speak(ctx, "two"))
	assert.ErrorIs(t, a.Speak(ctx, "three"), ErrRateLimited)

	relaxed := *e.cfg
	relaxed.EnableRateLimit = false
	a.ApplyConfig(&relaxed)
	assert.NoError(t, a.Speak(ctx, "three"))
}

func TestEditPreconditions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, _ := e.named(t, "kim", page(1))

	_, err := a.Select("#app li")
	require.NoError(t, err)
	assert.ErrorIs(t, a.ChangeStyle(ctx, "color: red"), ErrNotInDebugRoom)

	_, err = a.CreateRoom(ctx, "bugs")
	require.NoError(t, err)

	require.NoError(t, a.ResetEdits())
	assert.ErrorIs(t, a.ChangeStyle(ctx, "color: red"), ErrElementNotSelected)

	_, err = a.Select("p[")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = a.Select("table")
	assert.ErrorIs(t, err, ErrElementInvalid)

	_, err = a.Select("#app li:nth-child(2)")
	require.NoError(t, err)
	assert.ErrorIs(t, a.ChangeStyle(ctx, "bogus: 1"), ErrInvalidStyle)
	assert.ErrorIs(t, a.InsertElement(ctx, "inside", "<b>x</b>"), ErrInvalidPosition)
	assert.ErrorIs(t, a.InsertElement(ctx, "afterend", " "), ErrInvalidInput)
	assert.ErrorIs(t, a.SetAttribute(ctx, "style", "color: red"), ErrInvalidInput)
	assert.ErrorIs(t, a.ChangeText(ctx, ""), ErrInvalidInput)

	_, err = a.Select("body")
	require.NoError(t, err)
	assert.ErrorIs(t, a.RemoveElement(ctx), ErrElementInvalid)
	require.NoError(t, a.SetLanguage("react"))
	assert.ErrorIs(t, a.ChangeStyle(ctx, "color: red"), ErrFrameworkMode)
}

func TestStyleChangeRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, _ := e.named(t, "kim", page(1))
	b, recB := e.named(t, "lee", page(1))

	key, err := a.CreateRoom(ctx, "bugs")
	require.NoError(t, err)
	require.NoError(t, b.EnterRoom(ctx, "bugs", key))

	path, err := a.Select("#app li:nth-child(2)")
	require.NoError(t, err)
	require.NoError(t, a.ChangeStyle(ctx, "color: red;"))

	for _, doc := range []*dom.Document{a.Document(), b.Document()} {
		assert.Eventually(t, func() bool {
			style, ok := doc.Attr(path, "style")
			return ok && style == "color: red;"
		}, wait, tick)

		again, err := doc.Resolve(path)
		require.NoError(t, err)
		assert.Equal(t, path, again)
		text, err := doc.Text(again)
		require.NoError(t, err)
		assert.Equal(t, "b", text)
	}
	assert.Eventually(t, func() bool { return recB.has("kim changed the style of " + path) }, wait, tick)
}

func TestStructuralEditsReplicate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, _ := e.named(t, "kim", page(1))
	b, _ := e.named(t, "lee", page(1))

	key, err := a.CreateRoom(ctx, "bugs")
	require.NoError(t, err)
	require.NoError(t, b.EnterRoom(ctx, "bugs", key))
	peer := b.Document()

	list, err := a.Select("#app ul")
	require.NoError(t, err)
	assert.Equal(t, `id("app")/UL[1]`, list)
	require.NoError(t, a.InsertElement(ctx, "BeforeEnd", "<li>c</li>"))
	assert.Eventually(t, func() bool {
		text, _ := peer.Text(list)
		return text == "abc"
	}, wait, tick)

	item, err := a.Select(`id("app")/UL[1]/LI[1]`)
	require.NoError(t, err)
	require.NoError(t, a.SetAttribute(ctx, "data-x", "1"))
	assert.Eventually(t, func() bool {
		v, ok := peer.Attr(item, "data-x")
		return ok && v == "1"
	}, wait, tick)

	require.NoError(t, a.ChangeText(ctx, "z"))
	assert.Eventually(t, func() bool {
		text, _ := peer.Text(item)
		return text == "z"
	}, wait, tick)

	require.NoError(t, a.RemoveElement(ctx))
	assert.Empty(t, a.State().Selected)
	assert.Eventually(t, func() bool {
		text, _ := peer.Text(list)
		return text == "bc"
	}, wait, tick)

	require.NoError(t, b.ResetEdits())
	text, err := peer.Text(list)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestLateJoinerReplaysEdits(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, _ := e.named(t, "kim", page(1))
	b, _ := e.named(t, "lee", page(1))

	key, err := a.CreateRoom(ctx, "bugs")
	require.NoError(t, err)
	path, err := a.Select("#app p")
	require.NoError(t, err)
	require.NoError(t, a.ChangeText(ctx, "late"))

	require.NoError(t, b.EnterRoom(ctx, "bugs", key))
	assert.Eventually(t, func() bool {
		text, _ := b.Document().Text(path)
		return text == "late"
	}, wait, tick)
}

func TestReenteringRoomDoesNotReplayHandledMessages(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, recA := e.named(t, "kim", page(1))
	b, _ := e.named(t, "lee", page(1))

	key, err := b.CreateRoom(ctx, "bugs")
	require.NoError(t, err)
	require.NoError(t, a.EnterRoom(ctx, "bugs", key))

	require.NoError(t, b.Speak(ctx, "hi"))
	assert.Eventually(t, func() bool { return recA.chatted("lee", "hi", false) }, wait, tick)

	list := `id("app")/UL[1]`
	_, err = a.Select(`id("app")/UL[1]/LI[1]`)
	require.NoError(t, err)
	require.NoError(t, a.RemoveElement(ctx))
	assert.Eventually(t, func() bool {
		text, _ := a.Document().Text(list)
		return text == "b"
	}, wait, tick)
	chats := recA.chatCount()

	require.NoError(t, a.LeaveRoom(ctx))
	require.NoError(t, a.EnterRoom(ctx, "bugs", key))

	// a message sent after re-entry shows the log has been read again
	require.NoError(t, b.Speak(ctx, "back"))
	assert.Eventually(t, func() bool { return recA.chatted("lee", "back", false) }, wait, tick)

	text, err := a.Document().Text(list)
	require.NoError(t, err)
	assert.Equal(t, "b", text)
	assert.Equal(t, chats+1, recA.chatCount())
}

func TestReenteringRoomCatchesUpOnMissedEdits(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, _ := e.named(t, "kim", page(1))
	b, _ := e.named(t, "lee", page(1))

	key, err := b.CreateRoom(ctx, "bugs")
	require.NoError(t, err)
	require.NoError(t, a.EnterRoom(ctx, "bugs", key))
	require.NoError(t, a.LeaveRoom(ctx))

	path, err := b.Select("#app p")
	require.NoError(t, err)
	require.NoError(t, b.ChangeText(ctx, "missed"))

	require.NoError(t, a.EnterRoom(ctx, "bugs", key))
	assert.Eventually(t, func() bool {
		text, _ := a.Document().Text(path)
		return text == "missed"
	}, wait, tick)
}

func TestTreeDiffBetweenClients(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, recA := e.named(t, "kim", page(1))
	b, recB := e.named(t, "lee", page(2))

	assert.ErrorIs(t, a.RequestTreeDiff(ctx, "lee", ""), ErrReactOnly)
	require.NoError(t, a.SetLanguage("react"))
	require.NoError(t, b.SetLanguage("react"))
	assert.ErrorIs(t, a.RequestTreeDiff(ctx, "lee", ""), ErrNotInDebugRoom)

	key, err := a.CreateRoom(ctx, "bugs")
	require.NoError(t, err)
	require.NoError(t, b.EnterRoom(ctx, "bugs", key))

	assert.ErrorIs(t, a.RequestTreeDiff(ctx, "kim", ""), ErrInvalidInput)

	require.NoError(t, a.RequestTreeDiff(ctx, "lee", ""))
	assert.Eventually(t, func() bool { return recB.has("Shared your tree with kim") }, wait, tick)
	assert.Eventually(t, func() bool { return recA.has("state.count: 1 -> 2") }, wait, tick)
	assert.True(t, recA.has("kim vs lee (1 differences)"))

	require.NoError(t, a.RequestTreeDiff(ctx, "lee", "Label"))
	assert.Eventually(t, func() bool { return recA.has("kim vs lee (0 differences)") }, wait, tick)

	require.NoError(t, a.RequestTreeDiff(ctx, "lee", "Nope"))
	assert.Eventually(t, func() bool { return recA.has(`lee has no component "Nope"`) }, wait, tick)
}

func TestShowTree(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, rec := e.named(t, "kim", page(1))

	_, err := a.ShowTree(ctx, "")
	assert.ErrorIs(t, err, ErrReactOnly)
	require.NoError(t, a.SetLanguage("react"))

	root, err := a.ShowTree(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "App", root.Component)
	assert.Equal(t, map[string]any{"count": float64(1)}, root.State)

	label, err := a.ShowTree(ctx, "Label")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hi"}, label.Props)
	assert.True(t, rec.has(`"text": "hi"`))

	_, err = a.ShowTree(ctx, "Nope")
	assert.ErrorIs(t, err, ErrComponentNotFound)
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a, _ := e.named(t, "kim", page(1))
	b, recB := e.named(t, "lee", page(1))
	idA := a.State().UserID

	key, err := a.CreateRoom(ctx, "bugs")
	require.NoError(t, err)
	require.NoError(t, b.EnterRoom(ctx, "bugs", key))

	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, Closed, a.State().Phase)
	_, err = e.users.Get(ctx, idA)
	assert.ErrorIs(t, err, user.ErrNotFound)
	assert.Eventually(t, func() bool { return recB.has("kim left the room") }, wait, tick)

	bugs, err := e.rooms.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{b.State().UserID}, bugs.MemberIDs)

	require.NoError(t, a.Stop(ctx))
	assert.ErrorIs(t, a.Speak(ctx, "hi"), ErrNotStarted)

	require.NoError(t, b.Stop(ctx))
	_, err = e.rooms.Get(ctx, key)
	assert.ErrorIs(t, err, room.ErrNotFound)

	public, err := e.rooms.Get(ctx, "public")
	require.NoError(t, err)
	assert.Empty(t, public.MemberIDs)
}
