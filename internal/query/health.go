package query

import (
	"context"
	"time"

	"peripheral/internal/model"
	"peripheral/internal/store"
	"peripheral/internal/version"
)

// Health statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Health reports store reachability and basic row counts.
type Health struct {
	Meta `json:"-"`

	Status  string          `json:"status"`
	Service string          `json:"service"`
	Version string          `json:"version"`
	Store   StoreHealth     `json:"store"`
	Counts  map[string]*int `json:"counts,omitempty"`
}

// StoreHealth describes the gateway.
type StoreHealth struct {
	Driver    string `json:"driver"`
	Reachable bool   `json:"reachable"`
	LatencyMs int64  `json:"latencyMs"`
	Message   string `json:"message,omitempty"`
}

var healthCollections = []string{model.CollectionArticles, model.CollectionStories, model.CollectionSignals}

// Health never fails. Store errors degrade the status and are logged; the
// caller only sees a generic message.
func (e *Engine) Health(ctx context.Context) *Health {
	h := &Health{
		Status:  StatusHealthy,
		Service: "peripheral",
		Version: version.Version,
		Store:   StoreHealth{Driver: e.gateway.Name()},
	}
	h.Meta = Meta{Collections: healthCollections}

	start := time.Now()
	err := e.gateway.Ping(ctx)
	h.Store.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		e.logger.Warn("Store ping failed", "driver", h.Store.Driver, "error", err.Error())
		h.Status = StatusDegraded
		h.Store.Message = "backing store unreachable"
		return h
	}
	h.Store.Reachable = true

	h.Counts = make(map[string]*int, len(healthCollections))
	for _, c := range healthCollections {
		n, err := store.Count(ctx, e.gateway, store.Query{Collection: c})
		if err != nil {
			e.logger.Warn("Store count failed", "collection", c, "error", err.Error())
			h.Status = StatusDegraded
			h.Store.Message = "row counts unavailable"
		}
		h.Counts[c] = n
	}
	return h
}
