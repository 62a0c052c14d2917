// Package app wires configuration to a backend and a session.
package app

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"conchat/internal/backend"
	"conchat/internal/config"
	"conchat/internal/database"
	"conchat/internal/dom"
	"conchat/internal/message"
	"conchat/internal/relay"
	"conchat/internal/room"
	"conchat/internal/session"
	"conchat/internal/user"
)

// OpenBackend connects the backend named by cfg.Backend. The returned
// close function releases it and anything it depends on.
func OpenBackend(ctx context.Context, cfg *config.Config) (backend.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		glog.Warning("⚠️ Using the in-memory backend; only this process shares it")
		mem := backend.NewMemory()
		return mem, func() { mem.Close() }, nil

	case config.BackendRelay:
		c, err := relay.Dial(ctx, cfg.Relay.URL, cfg.Relay.WriteTimeout)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil

	case config.BackendMongo:
		db, err := database.NewMongoDB(&cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		if err := db.CreateIndexes(); err != nil {
			glog.Warningf("⚠️ Failed to create indexes: %v", err)
		}
		m := backend.NewMongo(db, cfg.OperationTimeout)
		return m, func() {
			m.Close()
			db.Close()
		}, nil

	case config.BackendRedis:
		r, err := backend.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil

	case config.BackendNATS:
		n, err := backend.NewNATS(ctx, &cfg.NATS)
		if err != nil {
			return nil, nil, err
		}
		return n, func() { n.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// LoadPage returns the page at cfg.PagePath, or a blank page
func LoadPage(cfg *config.Config) (*dom.Document, error) {
	if cfg.PagePath == "" {
		return dom.Blank(), nil
	}
	return dom.Load(cfg.PagePath)
}

// NewSession builds a session over store
func NewSession(cfg *config.Config, store backend.Backend, doc *dom.Document, printer session.Printer) *session.Controller {
	return session.New(cfg, session.Deps{
		Rooms:    room.NewDirectory(room.NewBackendRepository(store), cfg.PublicRoomID, cfg.PublicRoomName),
		Users:    user.NewDirectory(user.NewBackendRepository(store)),
		Store:    message.NewStore(message.NewBackendRepository(store), cfg.MessageRetention),
		Document: doc,
		Printer:  printer,
	})
}
