package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"conchat/internal/message"
	"conchat/internal/room"
)

// CreateRoom creates a debug room, moves the user into it and returns the
// room key other users need to enter.
func (c *Controller) CreateRoom(ctx context.Context, name string) (string, error) {
	c.op.Lock()
	defer c.op.Unlock()

	st, err := c.started()
	if err != nil {
		return "", err
	}
	if !st.NameConfirmed {
		return "", ErrNameNotSet
	}
	name, err = c.input().ValidateRoomName(name)
	if err != nil {
		return "", err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	created, err := c.rooms.Create(ctx, name, st.UserID)
	if err != nil {
		return "", err
	}
	if err := c.moveTo(ctx, st, created, false); err != nil {
		return created.ID, err
	}

	c.printer.Info(fmt.Sprintf("🏠 Room '%s' created. Share this key to invite others: %s", created.Name, created.ID))
	return created.ID, nil
}

// EnterRoom moves the user into the room called name when key matches it
// and announces the arrival there.
func (c *Controller) EnterRoom(ctx context.Context, name, key string) error {
	c.op.Lock()
	defer c.op.Unlock()

	st, err := c.started()
	if err != nil {
		return err
	}
	if !st.NameConfirmed {
		return ErrNameNotSet
	}
	v := c.input()
	if name, err = v.ValidateRoomName(name); err != nil {
		return err
	}
	if key, err = v.ValidateRoomKey(key); err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	target, err := c.rooms.Authorize(ctx, name, key)
	if err != nil {
		return err
	}
	if target.ID == st.RoomID {
		return ErrAlreadyInRoom
	}
	if err := c.moveTo(ctx, st, target, true); err != nil {
		return err
	}

	entered := c.State()
	if err := c.publish(ctx, entered, message.TypeEnterRoom, message.Presence{RoomName: target.Name}, false); err != nil {
		glog.Warningf("⚠️ Failed to announce entering %s: %v", target.Name, err)
	}
	c.printer.Info(fmt.Sprintf("🚪 Entered room '%s'.", target.Name))
	return nil
}

// LeaveRoom announces the departure and moves the user back to the
// public room.
func (c *Controller) LeaveRoom(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	st, err := c.started()
	if err != nil {
		return err
	}
	if st.InPublicRoom(c.publicID) {
		return ErrNotInDebugRoom
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.publish(ctx, st, message.TypeLeaveRoom, message.Presence{RoomName: st.RoomName}, false); err != nil {
		glog.Warningf("⚠️ Failed to announce leaving %s: %v", st.RoomName, err)
	}

	public := &room.Room{ID: c.publicID, Name: c.publicName}
	if err := c.moveTo(ctx, st, public, true); err != nil {
		return err
	}

	c.printer.Info(fmt.Sprintf("🚪 Left room '%s'. Back in the public room.", st.RoomName))
	return nil
}

// ListRooms returns the debug room names. The public room is not listed.
func (c *Controller) ListRooms(ctx context.Context) ([]string, error) {
	if _, err := c.started(); err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	names, err := c.rooms.Names(ctx)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		c.printer.Info("🏠 No debug rooms yet.")
	} else {
		c.printer.Block(fmt.Sprintf("🏠 Debug rooms (%d)", len(names)), strings.Join(names, "\n"))
	}
	return names, nil
}

// moveTo transfers membership from the current room to target and follows
// target's log. Only joining target is required; leaving the previous
// room is best effort.
func (c *Controller) moveTo(ctx context.Context, st Status, target *room.Room, join bool) error {
	if join {
		if err := c.rooms.AddMember(ctx, target.ID, st.UserID); err != nil {
			return fmt.Errorf("failed to join room '%s': %w", target.Name, err)
		}
	}
	c.vacate(ctx, st.RoomID, st.UserID)
	if err := c.users.SetCurrentRoom(ctx, st.UserID, target.ID); err != nil {
		glog.Warningf("⚠️ Failed to record current room of %s: %v", st.UserID, err)
	}

	c.update(func(s *Status) {
		s.RoomID = target.ID
		s.RoomName = target.Name
	})

	if err := c.repl.Subscribe(ctx, target.ID); err != nil {
		return fmt.Errorf("failed to follow room '%s': %w", target.Name, err)
	}
	return nil
}

// vacate removes userID from roomID and deletes the room when that left
// it empty. Failures are logged.
func (c *Controller) vacate(ctx context.Context, roomID, userID string) {
	if roomID == "" {
		return
	}
	if err := c.rooms.RemoveMember(ctx, roomID, userID); err != nil {
		glog.Warningf("⚠️ Failed to remove %s from room %s: %v", userID, roomID, err)
		return
	}
	if _, err := c.rooms.DeleteIfEmpty(ctx, roomID); err != nil {
		glog.Warningf("⚠️ Failed to delete empty room %s: %v", roomID, err)
	}
}
