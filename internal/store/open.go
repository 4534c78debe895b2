package store

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"peripheral/internal/config"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open builds the configured gateway, wrapped with the per-call timeout.
// The closer releases any pooled connections.
func Open(cfg config.StoreConfig, logger *slog.Logger) (Gateway, io.Closer, error) {
	noop := closerFunc(func() error { return nil })

	var g Gateway
	closer := io.Closer(noop)

	switch cfg.Driver {
	case config.DriverPostgREST:
		pg, err := NewPostgREST(PostgRESTOptions{
			BaseURL: cfg.URL,
			Key:     cfg.Key,
			Schema:  cfg.Schema,
			HTTPClient: &http.Client{
				Transport: &http.Transport{
					Proxy:               http.ProxyFromEnvironment,
					MaxIdleConnsPerHost: max(cfg.MaxConns, 2),
				},
			},
		})
		if err != nil {
			return nil, nil, err
		}
		g = pg
	case config.DriverPostgres:
		pg, err := OpenPostgres(cfg.DSN, cfg.Schema, cfg.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		g, closer = pg, pg
	case config.DriverMemory:
		if cfg.Fixtures == "" {
			g = NewMemory()
			break
		}
		m, err := LoadFixtures(cfg.Fixtures)
		if err != nil {
			return nil, nil, err
		}
		g = m
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	logger.Info("Store gateway ready", "driver", g.Name(), "timeout", cfg.Timeout)
	return WithTimeout(g, cfg.Timeout), closer, nil
}
