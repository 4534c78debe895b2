package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"peripheral/internal/auth"
	"peripheral/internal/config"
	"peripheral/internal/query"
	"peripheral/internal/storage"
	"peripheral/internal/store"
	"peripheral/internal/tools"
)

// app holds the wired components shared by serve, mcp and call.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	gateway    store.Gateway
	engine     *query.Engine
	dispatcher *tools.Dispatcher
	gate       *auth.Gate
	db         *storage.DB

	closers []io.Closer
}

// newApp opens the store and the local database and builds the dispatcher.
// withGate is false for local operator commands that bypass the access gate.
func newApp(cfg *config.Config, logger *slog.Logger, withGate bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	gateway, closer, err := store.Open(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.gateway = gateway
	a.closers = append(a.closers, closer)

	if withGate {
		gate, err := auth.NewGate(cfg.Auth, logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("access gate: %w", err)
		}
		a.gate = gate
	}

	var opts []tools.DispatcherOption
	if cfg.NeedsLocalDB() {
		db, err := storage.Open(cfg.Usage.DBPath, logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open local database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db)

		if cfg.Cache.TTLSeconds > 0 {
			cache := storage.NewResponseCache(db, cfg.Cache.MaxEntries)
			opts = append(opts, tools.WithCache(cache, time.Duration(cfg.Cache.TTLSeconds)*time.Second))
		}
		if cfg.Usage.Enabled {
			opts = append(opts, tools.WithUsage(storage.NewUsageLog(db)))
		}
	}

	a.engine = query.NewEngine(gateway, cfg.Query, logger)
	a.dispatcher = tools.NewDispatcher(tools.NewDefault(a.engine), gateway.Name(), logger, opts...)

	logger.Debug("Components wired",
		"store", gateway.Name(),
		"cache", cfg.Cache.TTLSeconds > 0,
		"usage", cfg.Usage.Enabled,
	)
	return a, nil
}

// Close flushes pending usage writes and releases the store and database.
func (a *app) Close() error {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
