package session

import "time"

// ChatLine is one chat message as shown to the user
type ChatLine struct {
	Username string
	Text     string
	At       time.Time
	Self     bool
}

// Printer is where the session writes everything the user sees. It is
// called from replication goroutines as well as from operations.
type Printer interface {
	Chat(line ChatLine)
	Info(text string)
	Warn(text string)
	Block(title, body string)
}

type discard struct{}

func (discard) Chat(ChatLine)        {}
func (discard) Info(string)          {}
func (discard) Warn(string)          {}
func (discard) Block(string, string) {}
