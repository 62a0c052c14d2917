package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"conchat/internal/app"
	"conchat/internal/config"
	"conchat/internal/relay"
)

const version = "0.1.0"

const usage = `conchat relay, shares one store between conchat clients.

Usage:
    conchat-relay [--config=<path>] [--listen=<addr>] [--store=<kind>]
        [--log-dir=<dir>] [--verbosity=<n>]
    conchat-relay -h | --help
    conchat-relay --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    YAML or JSON config file.
    --listen=<addr>    Address to listen on.
    --store=<kind>     Backing store: memory, mongo, redis or nats.
    --log-dir=<dir>    Directory for log files.
    --verbosity=<n>    Log verbosity [default: 0].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	str := func(key string) string {
		s, _ := opts.String(key)
		return s
	}

	flag.CommandLine.Parse(nil)
	if dir := str("--log-dir"); dir != "" {
		flag.Set("log_dir", dir)
	}
	flag.Set("logtostderr", "true")
	flag.Set("v", str("--verbosity"))
	defer glog.Flush()

	if err := run(str("--config"), str("--listen"), str("--store")); err != nil {
		glog.Errorf("❌ %v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(configPath, listen, store string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configManager := config.NewManager(configPath)
	if err := configManager.Initialize(); err != nil {
		return err
	}
	cfg := configManager.Get()
	if listen != "" {
		cfg.Relay.Listen = listen
	}
	if store != "" {
		cfg.Backend = store
	}
	if cfg.Backend == config.BackendRelay {
		return errors.New("the relay cannot be backed by another relay")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	backing, closeStore, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}
	defer closeStore()

	manager := relay.NewManager(cfg.Relay, backing, cfg.OperationTimeout)
	go manager.Run(ctx)

	server := &http.Server{
		Addr:    cfg.Relay.Listen,
		Handler: relay.NewServer(cfg.Relay, manager).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		glog.Infof("🚀 Relay listening on %s (store: %s)", cfg.Relay.Listen, cfg.Backend)
		glog.Infof("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Relay.Listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	glog.Info("🛑 Shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
