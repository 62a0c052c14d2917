// Package console maps typed command lines onto session operations.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/glog"

	"conchat/internal/session"
)

// ErrUsage is returned when a command is missing arguments
var ErrUsage = errors.New("usage")

// Command is one slash command
type Command struct {
	Name        string
	Description string
	Usage       string
	MinArgs     int
	// Handler gets the arguments split on whitespace and the raw text
	// after the command name.
	Handler func(ctx context.Context, args []string, rest string) error
}

// Console executes command lines against a session
type Console struct {
	session  *session.Controller
	printer  *Printer
	commands map[string]*Command
	done     bool
}

// New creates a console with the default commands registered
func New(ctrl *session.Controller, printer *Printer) *Console {
	c := &Console{
		session:  ctrl,
		printer:  printer,
		commands: make(map[string]*Command),
	}
	c.registerDefaultCommands()
	return c
}

// RegisterCommand registers a new command, replacing one with the same name
func (c *Console) RegisterCommand(cmd *Command) {
	c.commands[cmd.Name] = cmd
}

// Commands returns the registered commands sorted by name
func (c *Console) Commands() []*Command {
	out := make([]*Command, 0, len(c.commands))
	for _, cmd := range c.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Done reports whether /close ended the session
func (c *Console) Done() bool {
	return c.done
}

// Execute runs one line. Lines not starting with "/" are chat text.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.session.Speak(ctx, line)
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	cmd, ok := c.commands[name]
	if !ok {
		return fmt.Errorf("unknown command: /%s, try /help", name)
	}
	if len(args) < cmd.MinArgs {
		return fmt.Errorf("%w: %s", ErrUsage, cmd.Usage)
	}

	glog.V(1).Infof("⌨️ /%s", name)
	return cmd.Handler(ctx, args, rest)
}

// LineReader yields typed lines; golang.org/x/term's Terminal is one
type LineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	scanner *bufio.Scanner
}

// NewLineReader reads lines from r
func NewLineReader(r io.Reader) LineReader {
	return &scannerReader{scanner: bufio.NewScanner(r)}
}

func (s *scannerReader) ReadLine() (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

// Run executes lines until input ends, ctx is cancelled or /close runs.
// Command errors are printed, not returned.
func (c *Console) Run(ctx context.Context, lines LineReader) error {
	for !c.done {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := lines.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.Execute(ctx, line); err != nil {
			c.printer.Error(err)
		}
	}
	return nil
}

// registerDefaultCommands registers the session commands
func (c *Console) registerDefaultCommands() {
	s := c.session

	c.RegisterCommand(&Command{
		Name:        "help",
		Description: "Show available commands",
		Usage:       "/help",
		Handler:     c.handleHelp,
	})
	c.RegisterCommand(&Command{
		Name:        "start",
		Description: "Start the session in the public room",
		Usage:       "/start",
		Handler: func(ctx context.Context, _ []string, _ string) error {
			return s.Start(ctx)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "lang",
		Description: "Choose how the page is edited",
		Usage:       "/lang js|react",
		MinArgs:     1,
		Handler: func(_ context.Context, args []string, _ string) error {
			return s.SetLanguage(args[0])
		},
	})
	c.RegisterCommand(&Command{
		Name:        "say",
		Description: "Send a chat message",
		Usage:       "/say <text>",
		MinArgs:     1,
		Handler: func(ctx context.Context, _ []string, rest string) error {
			return s.Speak(ctx, rest)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "name",
		Description: "Set your display name (once)",
		Usage:       "/name <name>",
		MinArgs:     1,
		Handler: func(ctx context.Context, _ []string, rest string) error {
			return s.SetDisplayName(ctx, rest)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "create",
		Description: "Create a debug room",
		Usage:       "/create <room>",
		MinArgs:     1,
		Handler: func(ctx context.Context, _ []string, rest string) error {
			_, err := s.CreateRoom(ctx, rest)
			return err
		},
	})
	c.RegisterCommand(&Command{
		Name:        "enter",
		Description: "Enter a debug room with its key",
		Usage:       "/enter <room> <key>",
		MinArgs:     2,
		Handler: func(ctx context.Context, args []string, _ string) error {
			key := args[len(args)-1]
			return s.EnterRoom(ctx, strings.Join(args[:len(args)-1], " "), key)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "leave",
		Description: "Go back to the public room",
		Usage:       "/leave",
		Handler: func(ctx context.Context, _ []string, _ string) error {
			return s.LeaveRoom(ctx)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "rooms",
		Description: "List debug rooms",
		Usage:       "/rooms",
		Handler: func(ctx context.Context, _ []string, _ string) error {
			_, err := s.ListRooms(ctx)
			return err
		},
	})
	c.RegisterCommand(&Command{
		Name:        "select",
		Description: "Choose the element to edit",
		Usage:       "/select <css selector|path>",
		MinArgs:     1,
		Handler: func(_ context.Context, _ []string, rest string) error {
			_, err := s.Select(rest)
			return err
		},
	})
	c.RegisterCommand(&Command{
		Name:        "style",
		Description: "Merge CSS into the selected element",
		Usage:       "/style <css>",
		MinArgs:     1,
		Handler: func(ctx context.Context, _ []string, rest string) error {
			return s.ChangeStyle(ctx, rest)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "text",
		Description: "Replace the selected element's text",
		Usage:       "/text <text>",
		MinArgs:     1,
		Handler: func(ctx context.Context, _ []string, rest string) error {
			return s.ChangeText(ctx, rest)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "attr",
		Description: "Set an attribute on the selected element",
		Usage:       "/attr <name> <value>",
		MinArgs:     1,
		Handler: func(ctx context.Context, args []string, rest string) error {
			value := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
			return s.SetAttribute(ctx, args[0], value)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "insert",
		Description: "Insert HTML next to or inside the selected element",
		Usage:       "/insert beforebegin|afterbegin|beforeend|afterend <html>",
		MinArgs:     2,
		Handler: func(ctx context.Context, args []string, rest string) error {
			markup := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
			return s.InsertElement(ctx, args[0], markup)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "remove",
		Description: "Remove the selected element",
		Usage:       "/remove",
		Handler: func(ctx context.Context, _ []string, _ string) error {
			return s.RemoveElement(ctx)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "reset",
		Description: "Discard every edit on your page",
		Usage:       "/reset",
		Handler: func(_ context.Context, _ []string, _ string) error {
			return s.ResetEdits()
		},
	})
	c.RegisterCommand(&Command{
		Name:        "tree",
		Description: "Show your component tree",
		Usage:       "/tree [component]",
		Handler: func(ctx context.Context, _ []string, rest string) error {
			_, err := s.ShowTree(ctx, rest)
			return err
		},
	})
	c.RegisterCommand(&Command{
		Name:        "diff",
		Description: "Compare your component tree with another user's",
		Usage:       "/diff <user> [component]",
		MinArgs:     1,
		Handler: func(ctx context.Context, args []string, _ string) error {
			component := ""
			if len(args) > 1 {
				component = args[1]
			}
			return s.RequestTreeDiff(ctx, args[0], component)
		},
	})
	c.RegisterCommand(&Command{
		Name:        "guide",
		Description: "Show the guide",
		Usage:       "/guide",
		Handler: func(_ context.Context, _ []string, _ string) error {
			return s.Guide()
		},
	})
	c.RegisterCommand(&Command{
		Name:        "close",
		Description: "End the session",
		Usage:       "/close",
		Handler: func(ctx context.Context, _ []string, _ string) error {
			if err := s.Stop(ctx); err != nil {
				return err
			}
			c.done = true
			return nil
		},
	})
}

func (c *Console) handleHelp(_ context.Context, _ []string, _ string) error {
	var help strings.Builder
	for _, cmd := range c.Commands() {
		fmt.Fprintf(&help, "• %s - %s\n", cmd.Usage, cmd.Description)
	}
	c.printer.Block("📋 Available Commands", help.String())
	return nil
}
