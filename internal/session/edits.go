package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"conchat/internal/dom"
	"conchat/internal/message"
)

// Select chooses the element later edits apply to. query is a CSS
// selector or a path.
func (c *Controller) Select(query string) (string, error) {
	if _, err := c.started(); err != nil {
		return "", err
	}

	path, err := c.doc.Select(query)
	if errors.Is(err, dom.ErrInvalidSelector) {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrElementInvalid, err)
	}
	c.update(func(s *Status) { s.Selected = path })

	if desc, err := c.doc.Describe(path); err == nil {
		c.printer.Info(fmt.Sprintf("🎯 Selected %s %s", path, desc))
	}
	return path, nil
}

// editTarget checks that an edit may be sent and returns the canonical
// path of the selected element.
func (c *Controller) editTarget() (Status, string, error) {
	st, err := c.started()
	if err != nil {
		return st, "", err
	}
	if st.InPublicRoom(c.publicID) {
		return st, "", ErrNotInDebugRoom
	}
	if st.Selected == "" {
		return st, "", ErrElementNotSelected
	}
	path, err := c.doc.Resolve(st.Selected)
	if err != nil {
		return st, "", fmt.Errorf("%w: %s", ErrElementInvalid, st.Selected)
	}
	if st.Language == LanguageReact && c.doc.IsRoot(path) {
		return st, "", ErrFrameworkMode
	}
	if path != st.Selected {
		c.update(func(s *Status) { s.Selected = path })
	}
	return st, path, nil
}

// ChangeStyle sends CSS declarations for the selected element. Every
// client, this one included, applies it when it arrives.
func (c *Controller) ChangeStyle(ctx context.Context, css string) error {
	st, path, err := c.editTarget()
	if err != nil {
		return err
	}
	if !dom.ValidStyle(css) {
		return fmt.Errorf("%w: %q", ErrInvalidStyle, css)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.publish(ctx, st, message.TypeStyleChange, message.StyleChange{Path: path, Style: css}, true)
}

// ChangeText sends replacement text for the selected element
func (c *Controller) ChangeText(ctx context.Context, text string) error {
	st, path, err := c.editTarget()
	if err != nil {
		return err
	}
	if text, err = c.input().ValidateValue("text", text); err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.publish(ctx, st, message.TypeTextChange, message.TextChange{Path: path, Text: text}, true)
}

// SetAttribute sends one attribute change for the selected element
func (c *Controller) SetAttribute(ctx context.Context, name, value string) error {
	st, path, err := c.editTarget()
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "style") {
		return fmt.Errorf("%w: attribute name %q, use /style for styles", ErrInvalidInput, name)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.publish(ctx, st, message.TypeAttributeChange, message.AttributeChange{Path: path, Name: name, Value: value}, true)
}

// InsertElement sends markup to insert relative to the selected element
func (c *Controller) InsertElement(ctx context.Context, position, markup string) error {
	st, path, err := c.editTarget()
	if err != nil {
		return err
	}
	if !dom.ValidPosition(position) {
		return fmt.Errorf("%w: %q", ErrInvalidPosition, position)
	}
	if markup, err = c.input().ValidateValue("html", markup); err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	payload := message.InsertElement{Path: path, Position: strings.ToLower(strings.TrimSpace(position)), HTML: markup}
	return c.publish(ctx, st, message.TypeInsertElement, payload, true)
}

// RemoveElement sends the removal of the selected element and clears the
// selection.
func (c *Controller) RemoveElement(ctx context.Context) error {
	st, path, err := c.editTarget()
	if err != nil {
		return err
	}
	if c.doc.IsRoot(path) {
		return fmt.Errorf("%w: %s cannot be removed", ErrElementInvalid, path)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.publish(ctx, st, message.TypeRemoveElement, message.RemoveElement{Path: path}, true); err != nil {
		return err
	}
	c.update(func(s *Status) { s.Selected = "" })
	return nil
}

// ResetEdits restores the page as it was loaded. Only this client's page
// changes.
func (c *Controller) ResetEdits() error {
	if _, err := c.started(); err != nil {
		return err
	}
	if err := c.doc.Reset(); err != nil {
		return err
	}
	c.update(func(s *Status) { s.Selected = "" })

	c.printer.Info("♻️ All edits on your page were discarded.")
	return nil
}

// applyEdit replays an edit message on the local page
func (c *Controller) applyEdit(msg *message.Message) {
	var (
		what string
		err  error
	)

	switch msg.Type {
	case message.TypeStyleChange:
		var p message.StyleChange
		if err = msg.Decode(&p); err == nil {
			what = "changed the style of " + p.Path
			err = c.doc.ApplyStyle(p.Path, p.Style)
		}
	case message.TypeTextChange:
		var p message.TextChange
		if err = msg.Decode(&p); err == nil {
			what = "changed the text of " + p.Path
			err = c.doc.SetText(p.Path, p.Text)
		}
	case message.TypeAttributeChange:
		var p message.AttributeChange
		if err = msg.Decode(&p); err == nil {
			what = fmt.Sprintf("set %s on %s", p.Name, p.Path)
			err = c.doc.SetAttribute(p.Path, p.Name, p.Value)
		}
	case message.TypeInsertElement:
		var p message.InsertElement
		if err = msg.Decode(&p); err == nil {
			what = fmt.Sprintf("inserted HTML %s %s", p.Position, p.Path)
			err = c.doc.InsertAdjacent(p.Path, p.Position, p.HTML)
		}
	case message.TypeRemoveElement:
		var p message.RemoveElement
		if err = msg.Decode(&p); err == nil {
			what = "removed " + p.Path
			err = c.doc.Remove(p.Path)
		}
	default:
		return
	}

	if err != nil {
		glog.Warningf("⚠️ Could not apply %s %s from %s: %v", msg.Type, msg.Key, msg.Username, err)
		c.printer.Warn(fmt.Sprintf("🚫 %s's edit could not be applied: %v", msg.Username, err))
		return
	}
	if !c.isSelf(msg) {
		c.printer.Info(fmt.Sprintf("🛠️ %s %s", msg.Username, what))
	}
}
