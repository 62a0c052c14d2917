package console

import (
	"bytes"
	"context"
	"errors"
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
	"conchat/internal/session"
	"conchat/internal/user"
)

const page = `<html><body>
<div id="app" data-component="App" data-state='{"count":1}'><p>hello</p></div>
</body></html>`

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type lines []string

func (l *lines) ReadLine() (string, error) {
	if len(*l) == 0 {
		return "", errors.New("unexpected read")
	}
	line := (*l)[0]
	*l = (*l)[1:]
	return line, nil
}

func newConsole(t *testing.T) (*Console, *session.Controller, *syncBuffer) {
	t.Helper()
	mem := backend.NewMemory()
	t.Cleanup(func() { mem.Close() })

	cfg := config.DefaultConfig()
	cfg.OperationTimeout = 2 * time.Second
	cfg.EnableRateLimit = false

	doc, err := dom.Parse(page)
	require.NoError(t, err)

	out := &syncBuffer{}
	printer := NewPrinter(out)
	ctrl := session.New(cfg, session.Deps{
		Rooms:    room.NewDirectory(room.NewBackendRepository(mem), cfg.PublicRoomID, cfg.PublicRoomName),
		Users:    user.NewDirectory(user.NewBackendRepository(mem)),
		Store:    message.NewStore(message.NewBackendRepository(mem), 0),
		Document: doc,
		Printer:  printer,
	})
	t.Cleanup(func() { _ = ctrl.Stop(context.Background()) })
	return New(ctrl, printer), ctrl, out
}

func TestHelpListsCommands(t *testing.T) {
	c, _, out := newConsole(t)

	require.NoError(t, c.Execute(context.Background(), "/help"))

	text := out.String()
	assert.Contains(t, text, "Available Commands")
	for _, cmd := range c.Commands() {
		assert.Contains(t, text, cmd.Usage)
	}
}

func TestUnknownCommand(t *testing.T) {
	c, _, _ := newConsole(t)

	err := c.Execute(context.Background(), "/dance now")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: /dance")
}

func TestMissingArguments(t *testing.T) {
	c, _, _ := newConsole(t)
	ctx := context.Background()

	for _, line := range []string{"/name", "/enter lab", "/insert beforeend", "/diff"} {
		err := c.Execute(ctx, line)
		assert.ErrorIs(t, err, ErrUsage, line)
	}
}

func TestBlankLineIsIgnored(t *testing.T) {
	c, _, _ := newConsole(t)
	assert.NoError(t, c.Execute(context.Background(), "   "))
}

func TestPlainLineIsChat(t *testing.T) {
	c, ctrl, out := newConsole(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/start"))
	require.NoError(t, c.Execute(ctx, "/name kim"))
	require.NoError(t, c.Execute(ctx, "hello there"))

	assert.Equal(t, "kim", ctrl.State().DisplayName)
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "kim: hello there")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatBeforeStartFails(t *testing.T) {
	c, _, _ := newConsole(t)
	assert.ErrorIs(t, c.Execute(context.Background(), "hi"), session.ErrNotStarted)
}

func TestCreateAndEnterKeepSpacesInRoomName(t *testing.T) {
	c, ctrl, out := newConsole(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/start"))
	require.NoError(t, c.Execute(ctx, "/name kim"))
	require.NoError(t, c.Execute(ctx, "/create bug hunt"))
	assert.Equal(t, "bug hunt", ctrl.State().RoomName)
	assert.Contains(t, out.String(), "Room 'bug hunt' created")

	assert.ErrorIs(t, c.Execute(ctx, "/enter bug hunt not-the-key"), room.ErrKeyMismatch)
}

func TestEditCommands(t *testing.T) {
	c, ctrl, _ := newConsole(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "/start"))
	require.NoError(t, c.Execute(ctx, "/name kim"))
	require.NoError(t, c.Execute(ctx, "/create lab"))
	require.NoError(t, c.Execute(ctx, "/select #app > p"))
	require.NoError(t, c.Execute(ctx, "/attr title hello world"))
	require.NoError(t, c.Execute(ctx, "/insert afterend <span>new</span>"))

	assert.Eventually(t, func() bool {
		html := ctrl.Document().HTML()
		return strings.Contains(html, `title="hello world"`) && strings.Contains(html, "<span>new</span>")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunStopsAtClose(t *testing.T) {
	c, ctrl, out := newConsole(t)

	input := lines{"/start", "/nope", "/close", "never read"}
	require.NoError(t, c.Run(context.Background(), &input))

	assert.True(t, c.Done())
	assert.Equal(t, session.Closed, ctrl.State().Phase)
	assert.Equal(t, lines{"never read"}, input)
	assert.Contains(t, out.String(), "unknown command: /nope")
	assert.Contains(t, out.String(), "conchat closed")
}

func TestRunEndsAtEOF(t *testing.T) {
	c, _, _ := newConsole(t)

	err := c.Run(context.Background(), NewLineReader(strings.NewReader("/help\n")))
	assert.NoError(t, err)
	assert.False(t, c.Done())
}
