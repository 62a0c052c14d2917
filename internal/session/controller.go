// Package session drives one console user's shared debugging session:
// identity, room membership, outgoing messages and the replay of incoming
// ones onto the local page.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"

	"conchat/internal/config"
	"conchat/internal/dom"
	"conchat/internal/message"
	"conchat/internal/replicator"
	"conchat/internal/room"
	"conchat/internal/security"
	"conchat/internal/tree"
	"conchat/internal/user"
)

// Phase is the lifecycle stage of a session
type Phase int

const (
	Idle Phase = iota
	Started
	Closed
)

func (p Phase) String() string {
	switch p {
	case Started:
		return "started"
	case Closed:
		return "closed"
	}
	return "idle"
}

// Languages selectable with SetLanguage
const (
	LanguageJS    = "js"
	LanguageReact = "react"
)

// Status is a copy of the session state
type Status struct {
	Phase         Phase
	UserID        string
	DisplayName   string
	NameConfirmed bool
	RoomID        string
	RoomName      string
	Language      string
	Selected      string
}

// InPublicRoom reports whether the session is in the public room
func (s Status) InPublicRoom(publicID string) bool {
	return s.RoomID == publicID
}

// Deps are the collaborators a Controller works with. Capturer defaults
// to reading components from Document, Printer to discarding output.
type Deps struct {
	Rooms    room.Directory
	Users    user.Directory
	Store    message.Store
	Document *dom.Document
	Capturer tree.Capturer
	Printer  Printer
}

// Controller is one session. Operations are serialised; replication
// handlers run concurrently with them and only touch state under mu.
type Controller struct {
	rooms    room.Directory
	users    user.Directory
	store    message.Store
	repl     *replicator.Replicator
	doc      *dom.Document
	capturer tree.Capturer
	printer  Printer

	publicID    string
	publicName  string
	defaultName string
	timeout     time.Duration

	op sync.Mutex

	mu        sync.Mutex
	status    Status
	validator *security.InputValidator
	limiter   *rate.Limiter
}

// New creates an idle session
func New(cfg *config.Config, deps Deps) *Controller {
	c := &Controller{
		rooms:       deps.Rooms,
		users:       deps.Users,
		store:       deps.Store,
		repl:        replicator.New(deps.Store),
		doc:         deps.Document,
		capturer:    deps.Capturer,
		printer:     deps.Printer,
		publicID:    cfg.PublicRoomID,
		publicName:  cfg.PublicRoomName,
		defaultName: cfg.DefaultDisplayName,
		timeout:     cfg.OperationTimeout,
		status:      Status{Phase: Idle, Language: cfg.Language},
	}
	if c.doc == nil {
		c.doc = dom.Blank()
	}
	if c.capturer == nil {
		c.capturer = tree.NewDOMCapturer(c.doc)
	}
	if c.printer == nil {
		c.printer = discard{}
	}
	c.ApplyConfig(cfg)
	c.registerHandlers()
	return c
}

// ApplyConfig updates the settings that can change while running
func (c *Controller) ApplyConfig(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.validator = security.NewInputValidator(cfg)
	if !cfg.EnableRateLimit || cfg.RateLimitMessages <= 0 {
		c.limiter = nil
	} else {
		every := rate.Every(cfg.RateLimitWindow / time.Duration(cfg.RateLimitMessages))
		if c.limiter == nil {
			c.limiter = rate.NewLimiter(every, cfg.RateLimitMessages)
		} else {
			c.limiter.SetLimit(every)
			c.limiter.SetBurst(cfg.RateLimitMessages)
		}
	}
	c.store.SetRetention(cfg.MessageRetention)
}

// State returns a copy of the session state
func (c *Controller) State() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Document returns the local page
func (c *Controller) Document() *dom.Document {
	return c.doc
}

func (c *Controller) update(fn func(s *Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
}

func (c *Controller) input() *security.InputValidator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validator
}

func (c *Controller) allow() bool {
	c.mu.Lock()
	limiter := c.limiter
	c.mu.Unlock()
	return limiter == nil || limiter.Allow()
}

func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// started returns the state, failing when the session is not running
func (c *Controller) started() (Status, error) {
	st := c.State()
	if st.Phase != Started {
		return st, ErrNotStarted
	}
	return st, nil
}

// Start registers the user under the default name in the public room and
// follows its log. Starting a running session does nothing.
func (c *Controller) Start(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	if c.State().Phase == Started {
		return nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.rooms.EnsurePublic(ctx); err != nil {
		return fmt.Errorf("failed to prepare public room: %w", err)
	}
	if err := c.store.Clear(ctx, c.publicID); err != nil {
		glog.Warningf("⚠️ Failed to clear public room log: %v", err)
	}

	u, err := c.users.Register(ctx, c.defaultName, c.publicID)
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	if err := c.rooms.AddMember(ctx, c.publicID, u.ID); err != nil {
		glog.Warningf("⚠️ Failed to add %s to the public room: %v", u.ID, err)
	}

	c.update(func(s *Status) {
		s.Phase = Started
		s.UserID = u.ID
		s.DisplayName = u.DisplayName
		s.NameConfirmed = false
		s.RoomID = c.publicID
		s.RoomName = c.publicName
		s.Selected = ""
	})

	if err := c.repl.Subscribe(ctx, c.publicID); err != nil {
		return fmt.Errorf("failed to follow the public room: %w", err)
	}

	glog.Infof("🚀 Session started for %s", u.ID)
	c.printer.Info("🌽 conchat started! You are in the public room as " + u.DisplayName + ".")
	c.printGuide()
	return nil
}

// Stop leaves the current room, removes the user record and stops
// following the log. Stopping a closed session does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	st := c.State()
	switch st.Phase {
	case Idle:
		return ErrNotStarted
	case Closed:
		return nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if !st.InPublicRoom(c.publicID) {
		if err := c.publish(ctx, st, message.TypeLeaveRoom, message.Presence{RoomName: st.RoomName}, false); err != nil {
			glog.Warningf("⚠️ Failed to announce leaving %s: %v", st.RoomName, err)
		}
	}
	if err := c.repl.Unsubscribe(); err != nil {
		glog.Warningf("⚠️ Failed to stop following %s: %v", st.RoomID, err)
	}
	c.vacate(ctx, st.RoomID, st.UserID)
	if err := c.users.Delete(ctx, st.UserID); err != nil {
		glog.Warningf("⚠️ Failed to remove user %s: %v", st.UserID, err)
	}

	c.update(func(s *Status) {
		s.Phase = Closed
		s.RoomID = ""
		s.RoomName = ""
		s.Selected = ""
	})

	glog.Infof("🛑 Session closed for %s", st.UserID)
	c.printer.Info("👋 conchat closed.")
	return nil
}

// SetLanguage selects how edits and component trees are interpreted
func (c *Controller) SetLanguage(lang string) error {
	if _, err := c.started(); err != nil {
		return err
	}

	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang != LanguageJS && lang != LanguageReact {
		return ErrInvalidLanguage
	}
	c.update(func(s *Status) { s.Language = lang })

	c.printer.Info("💁🏻 Language set to " + lang + ".")
	return nil
}

// SetDisplayName confirms the user's name once. The uniqueness check and
// the rename are separate backend calls.
func (c *Controller) SetDisplayName(ctx context.Context, name string) error {
	c.op.Lock()
	defer c.op.Unlock()

	st, err := c.started()
	if err != nil {
		return err
	}
	if st.NameConfirmed {
		return ErrNameAlreadySet
	}
	name, err = c.input().ValidateDisplayName(name)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.users.Rename(ctx, st.UserID, name); err != nil {
		return err
	}
	c.update(func(s *Status) {
		s.DisplayName = name
		s.NameConfirmed = true
	})

	c.printer.Info("💁🏻 Hello, " + name + "!")
	return nil
}

// Guide prints the command guide
func (c *Controller) Guide() error {
	if _, err := c.started(); err != nil {
		return err
	}
	c.printGuide()
	return nil
}

func (c *Controller) printGuide() {
	c.printer.Block("📖 Guide", guide)
}

const guide = `/name <name>             set your display name (once)
/lang js|react           choose how the page is edited
/create <room>           create a debug room and print its key
/enter <room> <key>      enter a debug room
/leave                   go back to the public room
/rooms                   list debug rooms
/say <text>              send a chat message (plain lines work too)
/select <selector|path>  choose the element to edit
/style <css>             merge CSS into the selected element
/text <text>             replace the selected element's text
/attr <name> <value>     set an attribute on the selected element
/insert <position> <html>  insert HTML (beforebegin, afterbegin, beforeend, afterend)
/remove                  remove the selected element
/reset                   discard every edit on your page
/tree [component]        show your component tree (react)
/diff <user> [component] compare your tree with another user's (react)
/guide                   show this guide
/close                   end the session`

// publish appends a message to the current room as the local user
func (c *Controller) publish(ctx context.Context, st Status, typ message.Type, payload any, limited bool) error {
	if limited && !c.allow() {
		return ErrRateLimited
	}
	msg, err := message.New(typ, st.DisplayName, st.UserID, payload)
	if err != nil {
		return err
	}
	if _, err := c.store.Append(ctx, st.RoomID, msg); err != nil {
		return err
	}
	return nil
}

// Speak sends a chat message to the current room
func (c *Controller) Speak(ctx context.Context, text string) error {
	st, err := c.started()
	if err != nil {
		return err
	}
	text, err = c.input().ValidateMessage(text)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.publish(ctx, st, message.TypeText, message.TextContent{Text: text}, true)
}
