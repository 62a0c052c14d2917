package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"golang.org/x/term"

	"conchat/internal/app"
	"conchat/internal/config"
	"conchat/internal/console"
	"conchat/internal/session"
)

const version = "0.1.0"

const usage = `conchat, a shared debugging console.

Type /help once started. Lines without a leading slash are chat.

Usage:
    conchat [--config=<path>] [--backend=<kind>] [--relay=<url>]
        [--page=<file>] [--name=<name>] [--react]
        [--log-dir=<dir>] [--verbosity=<n>]
    conchat -h | --help
    conchat --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --config=<path>      YAML or JSON config file, reloaded on change.
    --backend=<kind>     memory, relay, mongo, redis or nats.
    --relay=<url>        Relay websocket url.
    --page=<file>        HTML page to debug.
    --name=<name>        Display name to set after start.
    --react              Start in react mode.
    --log-dir=<dir>      Directory for log files.
    --verbosity=<n>      Log verbosity [default: 0].`

type options struct {
	Config    string
	Backend   string
	Relay     string
	Page      string
	Name      string
	React     bool
	LogDir    string
	Verbosity string
}

func parseOptions(parsed docopt.Opts) *options {
	str := func(key string) string {
		s, _ := parsed.String(key)
		return s
	}
	react, _ := parsed.Bool("--react")
	return &options{
		Config:    str("--config"),
		Backend:   str("--backend"),
		Relay:     str("--relay"),
		Page:      str("--page"),
		Name:      str("--name"),
		React:     react,
		LogDir:    str("--log-dir"),
		Verbosity: str("--verbosity"),
	}
}

// override applies command line choices on top of a loaded config
func (o *options) override(cfg *config.Config) *config.Config {
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.Relay != "" {
		cfg.Relay.URL = o.Relay
	}
	if o.Page != "" {
		cfg.PagePath = o.Page
	}
	if o.React {
		cfg.Language = session.LanguageReact
	}
	return cfg
}

func main() {
	parsed, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	opts := parseOptions(parsed)
	setupLogging(opts.LogDir, opts.Verbosity)
	defer glog.Flush()

	if err := run(opts); err != nil {
		glog.Errorf("❌ %v", err)
		fmt.Fprintln(os.Stderr, err)
		glog.Flush()
		os.Exit(1)
	}
}

func setupLogging(dir, verbosity string) {
	flag.CommandLine.Parse(nil)
	if dir != "" {
		flag.Set("log_dir", dir)
	}
	if verbosity != "" {
		flag.Set("v", verbosity)
	}
}

func run(opts *options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configManager := config.NewManager(opts.Config)
	if err := configManager.Initialize(); err != nil {
		return err
	}
	cfg := opts.override(configManager.Get())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, closeStore, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}
	defer closeStore()

	doc, err := app.LoadPage(cfg)
	if err != nil {
		return err
	}

	in, out, restore, err := terminal()
	if err != nil {
		return err
	}
	defer restore()

	var printer *console.Printer
	if _, isTerm := in.(*term.Terminal); isTerm {
		printer = console.NewPrinter(out, console.WithColors())
	} else {
		printer = console.NewPrinter(out)
	}

	ctrl := app.NewSession(cfg, store, doc, printer)
	configManager.OnChange(func(next *config.Config) {
		ctrl.ApplyConfig(opts.override(next))
		glog.Info("🔄 Configuration reloaded")
	})
	if err := configManager.Watch(ctx); err != nil {
		glog.Warningf("⚠️ Config changes will not be picked up: %v", err)
	}

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if ctrl.State().Phase == session.Started {
			if err := ctrl.Stop(context.Background()); err != nil {
				glog.Warningf("⚠️ Failed to stop session: %v", err)
			}
		}
	}()

	if opts.Name != "" {
		if err := ctrl.SetDisplayName(ctx, opts.Name); err != nil {
			printer.Error(err)
		}
	}

	return console.New(ctrl, printer).Run(ctx, in)
}

// terminal returns the line source and output. On a terminal stdin is put
// in raw mode behind an x/term line editor.
func terminal() (console.LineReader, io.Writer, func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return console.NewLineReader(os.Stdin), os.Stdout, func() {}, nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set up terminal: %w", err)
	}
	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(screen, "> ")
	if width, height, err := term.GetSize(fd); err == nil {
		t.SetSize(width, height)
	}
	return t, t, func() { term.Restore(fd, state) }, nil
}
