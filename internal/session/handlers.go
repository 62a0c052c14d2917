package session

import (
	"fmt"

	"github.com/golang/glog"

	"conchat/internal/message"
)

func (c *Controller) registerHandlers() {
	c.repl.Handle(message.TypeText, c.showChat)
	for _, typ := range []message.Type{
		message.TypeStyleChange,
		message.TypeTextChange,
		message.TypeAttributeChange,
		message.TypeInsertElement,
		message.TypeRemoveElement,
	} {
		c.repl.Handle(typ, c.applyEdit)
	}
	c.repl.Handle(message.TypeEnterRoom, c.showPresence)
	c.repl.Handle(message.TypeLeaveRoom, c.showPresence)
	c.repl.Handle(message.TypeTreeSnapshotRequest, c.answerTreeRequest)
	c.repl.Handle(message.TypeTreeSnapshot, c.compareTree)
}

func (c *Controller) isSelf(msg *message.Message) bool {
	return msg.SenderID != "" && msg.SenderID == c.State().UserID
}

func (c *Controller) showChat(msg *message.Message) {
	var p message.TextContent
	if err := msg.Decode(&p); err != nil {
		glog.Warningf("⚠️ Dropping text %s: %v", msg.Key, err)
		return
	}
	c.printer.Chat(ChatLine{
		Username: msg.Username,
		Text:     p.Text,
		At:       msg.Time(),
		Self:     c.isSelf(msg),
	})
}

func (c *Controller) showPresence(msg *message.Message) {
	if c.isSelf(msg) {
		return
	}
	switch msg.Type {
	case message.TypeEnterRoom:
		c.printer.Info(fmt.Sprintf("📢 %s entered the room.", msg.Username))
	case message.TypeLeaveRoom:
		c.printer.Info(fmt.Sprintf("📢 %s left the room.", msg.Username))
	}
}
