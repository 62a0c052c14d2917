package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"conchat/internal/message"
	"conchat/internal/tree"
)

// capture returns the local tree, or its component called name when name
// is not empty.
func (c *Controller) capture(ctx context.Context, name string) (*tree.Node, error) {
	root, err := c.capturer.Capture(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return root, nil
	}
	found := tree.Find(root, name)
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	return found, nil
}

func (c *Controller) reactSession() (Status, error) {
	st, err := c.started()
	if err != nil {
		return st, err
	}
	if st.Language != LanguageReact {
		return st, ErrReactOnly
	}
	return st, nil
}

// ShowTree prints the local component tree, or the subtree of the named
// component.
func (c *Controller) ShowTree(ctx context.Context, component string) (*tree.Node, error) {
	if _, err := c.reactSession(); err != nil {
		return nil, err
	}

	component = strings.TrimSpace(component)
	node, err := c.capture(ctx, component)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return nil, err
	}
	c.printer.Block("🌳 "+node.Component, string(data))
	return node, nil
}

// RequestTreeDiff asks username to share its tree so it can be compared
// with the local one. The result is printed when the answer arrives.
func (c *Controller) RequestTreeDiff(ctx context.Context, username, component string) error {
	st, err := c.reactSession()
	if err != nil {
		return err
	}
	if st.InPublicRoom(c.publicID) {
		return ErrNotInDebugRoom
	}
	if !st.NameConfirmed {
		return ErrNameNotSet
	}
	username = strings.TrimSpace(username)
	if username == "" || username == st.DisplayName {
		return fmt.Errorf("%w: choose another user to compare with", ErrInvalidInput)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req := message.TreeSnapshotRequest{From: st.DisplayName, To: username, Component: strings.TrimSpace(component)}
	if err := c.publish(ctx, st, message.TypeTreeSnapshotRequest, req, true); err != nil {
		return err
	}
	c.printer.Info(fmt.Sprintf("🌳 Asked %s for their tree.", username))
	return nil
}

// addressedToMe reports whether a tree exchange message names this user
func (c *Controller) addressedToMe(to string) bool {
	st := c.State()
	return st.Phase == Started && st.NameConfirmed && to == st.DisplayName
}

// answerTreeRequest captures the requested tree and publishes it. An
// empty tree tells the requester the component was not found.
func (c *Controller) answerTreeRequest(msg *message.Message) {
	var req message.TreeSnapshotRequest
	if err := msg.Decode(&req); err != nil {
		glog.Warningf("⚠️ Dropping tree request %s: %v", msg.Key, err)
		return
	}
	if !c.addressedToMe(req.To) {
		return
	}

	ctx, cancel := c.withTimeout(context.Background())
	defer cancel()

	answer := message.TreeSnapshot{From: req.To, To: req.From, Component: req.Component}
	node, err := c.capture(ctx, req.Component)
	if err != nil {
		glog.Warningf("⚠️ Could not capture tree for %s: %v", req.From, err)
	} else if answer.Tree, err = tree.Encode(node); err != nil {
		glog.Warningf("⚠️ Could not encode tree for %s: %v", req.From, err)
	}

	if err := c.publish(ctx, c.State(), message.TypeTreeSnapshot, answer, false); err != nil {
		glog.Warningf("⚠️ Failed to share tree with %s: %v", req.From, err)
		return
	}
	c.printer.Info(fmt.Sprintf("🌳 Shared your tree with %s.", req.From))
}

// compareTree diffs a shared tree against a fresh local capture
func (c *Controller) compareTree(msg *message.Message) {
	var snap message.TreeSnapshot
	if err := msg.Decode(&snap); err != nil {
		glog.Warningf("⚠️ Dropping tree snapshot %s: %v", msg.Key, err)
		return
	}
	if !c.addressedToMe(snap.To) {
		return
	}
	if len(snap.Tree) == 0 || string(snap.Tree) == "null" {
		c.printer.Warn(fmt.Sprintf("🚫 %s has no component %q.", snap.From, snap.Component))
		return
	}

	shared, err := tree.Decode(snap.Tree)
	if err != nil {
		c.printer.Warn(fmt.Sprintf("🚫 Could not read %s's tree: %v", snap.From, err))
		return
	}

	ctx, cancel := c.withTimeout(context.Background())
	defer cancel()

	local, err := c.capture(ctx, snap.Component)
	if err != nil && !errors.Is(err, ErrComponentNotFound) && !errors.Is(err, tree.ErrNoComponents) {
		c.printer.Warn(fmt.Sprintf("🚫 Could not capture your tree: %v", err))
		return
	}

	me := c.State().DisplayName
	diffs := tree.Diff(local, shared)
	c.printer.Block(fmt.Sprintf("🔍 %s vs %s (%d differences)", me, snap.From, len(diffs)), tree.Render(diffs, me, snap.From))
}
