// Package query provides the aggregation engine behind every operation.
// Each computation is a function of (window, filters, rows fetched through the
// gateway, clock); the engine holds no mutable state between calls.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"peripheral/internal/config"
	perrors "peripheral/internal/errors"
	"peripheral/internal/model"
	"peripheral/internal/store"
	"peripheral/internal/textnorm"
)

// Result caps.
const (
	MaxTrendingLimit      = 50
	MaxStorySearchLimit   = 50
	MaxArticleSearchLimit = 100
	MaxEntitySearchLimit  = 50

	briefingArticlesShown = 20
	briefingTopStories    = 5
	briefingTopRegions    = 10
	signalsShown          = 50
	contextArticlesShown  = 30
	contextStoriesShown   = 20
	storyArticlesShown    = 50
	storyEntitiesPerType  = 20
	mentionScanLimit      = 1000
	idChunkSize           = 100
)

// Engine runs the aggregations against a gateway.
type Engine struct {
	gateway store.Gateway
	cfg     config.QueryConfig
	clock   func() time.Time
	logger  *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an engine over g.
func NewEngine(g store.Gateway, cfg config.QueryConfig, logger *slog.Logger, opts ...Option) *Engine {
	def := config.DefaultConfig().Query
	if cfg.MaxHours <= 0 {
		cfg.MaxHours = def.MaxHours
	}
	if cfg.BriefingScanLimit <= 0 {
		cfg.BriefingScanLimit = def.BriefingScanLimit
	}
	if cfg.SignalScanLimit <= 0 {
		cfg.SignalScanLimit = def.SignalScanLimit
	}
	if cfg.TimelineScanLimit <= 0 {
		cfg.TimelineScanLimit = def.TimelineScanLimit
	}

	e := &Engine{
		gateway: g,
		cfg:     cfg,
		clock:   time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Gateway returns the gateway the engine reads through.
func (e *Engine) Gateway() store.Gateway { return e.gateway }

// MaxHours is the largest window served; longer requests are clamped.
func (e *Engine) MaxHours() int { return e.cfg.MaxHours }

// Window is the time range an operation covered.
type Window struct {
	Hours     int
	Requested int
	Since     time.Time
	Until     time.Time
}

// Clamped reports whether the requested window exceeded the maximum.
func (w Window) Clamped() bool { return w.Requested > w.Hours }

// Meta describes how a result was produced. It is carried beside the data and
// rendered into the response envelope, never into the data itself.
type Meta struct {
	Window      Window
	Collections []string
	Truncated   bool
	Shown       int
	Total       *int
	Reason      string
}

// ResultMeta implements Result.
func (m Meta) ResultMeta() Meta { return m }

// Result is implemented by every engine result.
type Result interface {
	ResultMeta() Meta
}

// window validates hours and resolves it against the clock.
func (e *Engine) window(hours int) (Window, error) {
	if hours <= 0 {
		return Window{}, perrors.NewInvalidParameterError("hours", "must be a positive number of hours")
	}
	w := Window{Hours: hours, Requested: hours}
	if hours > e.cfg.MaxHours {
		w.Hours = e.cfg.MaxHours
	}
	w.Until = e.clock().UTC()
	w.Since = w.Until.Add(-time.Duration(w.Hours) * time.Hour)
	return w, nil
}

// clampLimit rejects non-positive limits and clamps the rest to max.
func clampLimit(limit, max int) (int, error) {
	if limit <= 0 {
		return 0, perrors.NewInvalidParameterError("limit", "must be at least 1")
	}
	if limit > max {
		return max, nil
	}
	return limit, nil
}

// requireText cleans s and checks its length in runes.
func requireText(field, s string, min, max int) (string, error) {
	s = textnorm.Clean(s)
	n := len([]rune(s))
	if n == 0 {
		return "", perrors.NewInvalidParameterError(field, "is required")
	}
	if n < min || n > max {
		return "", perrors.NewInvalidParameterError(field, fmt.Sprintf("must be between %d and %d characters", min, max))
	}
	return s, nil
}

func windowFilters(column string, w Window) []store.Filter {
	return []store.Filter{store.Since(column, w.Since), store.Until(column, w.Until)}
}

func decodeRows[T any](collection string, rows []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, raw := range rows {
		var v T
		if err := model.Decode(raw, &v); err != nil {
			return nil, perrors.NewInternalError("malformed "+collection+" row", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// chunks splits ids for "in" filters so request URLs stay bounded.
func chunks(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// fetchByIDs loads rows of collection whose id is in ids, honouring extra filters.
func (e *Engine) fetchByIDs(ctx context.Context, collection string, ids []string, extra ...store.Filter) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	for _, chunk := range chunks(ids, idChunkSize) {
		filters := append([]store.Filter{store.In("id", chunk)}, extra...)
		p, err := e.gateway.Fetch(ctx, store.Query{Collection: collection, Filters: filters, Limit: len(chunk)})
		if err != nil {
			return nil, err
		}
		rows = append(rows, p.Rows...)
	}
	return rows, nil
}

func timeframe(w Window) string { return fmt.Sprintf("%dh", w.Hours) }

// signalKind is the grouping key for a signal: its type, else its alert type.
// Keys are folded the same way the type filter compares them.
func signalKind(s model.Signal) string {
	if k := textnorm.Fold(s.SignalType); k != "" {
		return k
	}
	if k := textnorm.Fold(s.AlertType); k != "" {
		return k
	}
	return "unknown"
}

func intPtr(n int) *int { return &n }
