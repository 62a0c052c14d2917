package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"conchat/internal/session"
)

// Printer renders session output with lipgloss. It is safe for
// concurrent use.
type Printer struct {
	mu  sync.Mutex
	out io.Writer

	stamp lipgloss.Style
	name  lipgloss.Style
	self  lipgloss.Style
	info  lipgloss.Style
	warn  lipgloss.Style
	title lipgloss.Style
	code  lipgloss.Style
}

// Option configures a Printer
type Option func(r *lipgloss.Renderer)

// WithColors forces colour output, for writers such as a raw mode
// terminal that are not detected as one.
func WithColors() Option {
	return func(r *lipgloss.Renderer) {
		r.SetColorProfile(termenv.ANSI256)
	}
}

// NewPrinter creates a printer writing to out. Colours are used only when
// out is a terminal, unless WithColors is given.
func NewPrinter(out io.Writer, opts ...Option) *Printer {
	r := lipgloss.NewRenderer(out)
	for _, opt := range opts {
		opt(r)
	}
	return &Printer{
		out:   out,
		stamp: r.NewStyle().Faint(true),
		name:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5A56E0")),
		self:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#2E8B57")),
		info:  r.NewStyle().Foreground(lipgloss.Color("#37352F")).Background(lipgloss.Color("#FBFB87")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("#D9534F")),
		title: r.NewStyle().Bold(true),
		code:  r.NewStyle().Foreground(lipgloss.Color("#37352F")).Background(lipgloss.Color("#EDEDEB")).PaddingLeft(2),
	}
}

var _ session.Printer = (*Printer)(nil)

func (p *Printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

func (p *Printer) Chat(line session.ChatLine) {
	name := p.name
	if line.Self {
		name = p.self
	}
	p.println(fmt.Sprintf("%s %s: %s",
		p.stamp.Render(line.At.Format("15:04:05")),
		name.Render(line.Username),
		line.Text))
}

func (p *Printer) Info(text string) {
	p.println(p.info.Render(text))
}

func (p *Printer) Warn(text string) {
	p.println(p.warn.Render(text))
}

func (p *Printer) Block(title, body string) {
	p.println(p.title.Render(title) + "\n" + p.code.Render(strings.TrimRight(body, "\n")))
}

// Error prints a failed command
func (p *Printer) Error(err error) {
	p.Warn("🚫 " + err.Error())
}
