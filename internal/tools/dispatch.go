package tools

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"peripheral/internal/envelope"
	perrors "peripheral/internal/errors"
	"peripheral/internal/query"
	"peripheral/internal/storage"
)

// AnonymousClient is the principal recorded for calls in open mode.
const AnonymousClient = "anonymous"

// usageWriteTimeout bounds one asynchronous usage insert.
const usageWriteTimeout = 5 * time.Second

// Call is one operation invocation.
type Call struct {
	Name      string
	Args      map[string]interface{}
	Principal string // client id resolved by the access gate
	RequestID string // reused as the correlation id when set
}

// Cache stores rendered success envelopes.
type Cache interface {
	Get(ctx context.Context, key string) (*storage.CacheEntry, bool, error)
	Set(ctx context.Context, key, tool string, value []byte, ttl time.Duration) error
}

// UsageRecorder persists one row per dispatched call.
type UsageRecorder interface {
	Record(ctx context.Context, rec storage.UsageRecord) error
}

// Dispatcher routes calls through the catalogue. It is safe for concurrent use.
type Dispatcher struct {
	catalogue *Catalogue
	gateway   string
	logger    *slog.Logger
	clock     func() time.Time

	cache    Cache
	cacheTTL time.Duration

	usage   UsageRecorder
	pending sync.WaitGroup
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCache enables the response cache. A non-positive ttl leaves it disabled.
func WithCache(c Cache, ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil && ttl > 0 {
			d.cache = c
			d.cacheTTL = ttl
		}
	}
}

// WithUsage records every call to u in the background.
func WithUsage(u UsageRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.usage = u }
}

// WithDispatchClock replaces the wall clock used for durations and cache buckets.
func WithDispatchClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

// NewDispatcher creates a dispatcher over c. gateway names the backing store
// in response provenance.
func NewDispatcher(c *Catalogue, gateway string, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		catalogue: c,
		gateway:   gateway,
		logger:    logger,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Catalogue returns the catalogue calls are routed through.
func (d *Dispatcher) Catalogue() *Catalogue { return d.catalogue }

// Wait blocks until pending usage records are written.
func (d *Dispatcher) Wait() { d.pending.Wait() }

// Dispatch runs call and returns its envelope. It never returns nil and never
// panics; failures are carried in the envelope's error.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (resp *envelope.Response) {
	start := d.clock()
	correlationID := call.RequestID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Operation panicked",
				"tool", call.Name,
				"correlationID", correlationID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			resp = envelope.New().
				Tool(call.Name).
				Error(perrors.NewInternalError("operation panicked", fmt.Errorf("%v", r)), correlationID).
				Build()
		}
		d.recordUsage(call, resp, d.clock().Sub(start))
	}()

	tool, ok := d.catalogue.Lookup(call.Name)
	if !ok {
		return d.fail(call.Name, perrors.NewMethodNotFoundError(call.Name), correlationID)
	}

	args, unknown, err := resolve(tool.Params, call.Args)
	if err != nil {
		return d.fail(call.Name, err, correlationID)
	}

	var key string
	if d.cache != nil && !tool.NoCache {
		key = d.cacheKey(tool.Name, args, start)
		if hit := d.cached(ctx, key, unknown); hit != nil {
			return hit
		}
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return d.fail(call.Name, err, correlationID)
	}

	b := d.success(tool, args, result)
	if d.cache != nil && !tool.NoCache {
		d.store(ctx, key, tool.Name, b.Build())
		b.WithCache(false, 0)
	}
	for _, name := range unknown {
		b.Warning(fmt.Sprintf("unknown parameter %q ignored", name))
	}
	return b.Build()
}

// success renders result and its meta into an envelope builder.
func (d *Dispatcher) success(tool *Tool, args Args, result query.Result) *envelope.Builder {
	m := result.ResultMeta()
	b := envelope.New().
		Tool(tool.Name).
		Data(result).
		WithWindow(m.Window.Hours, m.Window.Since, m.Window.Until).
		WithProvenance(d.gateway, m.Collections...).
		WithTruncation(m.Truncated, m.Shown, m.Total, m.Reason)

	if m.Window.Clamped() {
		b.WarningWithCode(envelope.WarningGating,
			fmt.Sprintf("hours clamped from %d to the maximum of %d", m.Window.Requested, m.Window.Hours))
	}
	if tool.Next != nil {
		for _, s := range tool.Next(args, result) {
			b.Suggest(s.Tool, s.Params, s.Reason)
		}
	}
	return b
}

// fail renders err, logging it at a level that matches its code.
func (d *Dispatcher) fail(name string, err error, correlationID string) *envelope.Response {
	switch perrors.CodeOf(err) {
	case perrors.InternalError, perrors.InvalidFilter:
		d.logger.Error("Operation failed",
			"tool", name,
			"correlationID", correlationID,
			"error", err.Error(),
		)
	case perrors.TransientUnavailable:
		d.logger.Warn("Backing store unavailable",
			"tool", name,
			"correlationID", correlationID,
			"error", err.Error(),
		)
	default:
		d.logger.Debug("Operation rejected",
			"tool", name,
			"error", err.Error(),
		)
	}
	return envelope.New().Tool(name).Error(err, correlationID).Build()
}

// cacheKey digests the operation, its resolved arguments and the ttl bucket
// containing now, so a key never outlives two ttl periods.
func (d *Dispatcher) cacheKey(name string, args Args, now time.Time) string {
	canonical, _ := json.Marshal(args) // map keys marshal sorted
	bucket := now.UnixNano() / int64(d.cacheTTL)

	h, _ := blake2b.New256(nil)
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(bucket, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// cachedEnvelope keeps the payload as raw JSON so a hit is re-emitted unchanged.
type cachedEnvelope struct {
	envelope.Response
	Data json.RawMessage `json:"data"`
}

func (d *Dispatcher) cached(ctx context.Context, key string, unknown []string) *envelope.Response {
	entry, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn("Response cache lookup failed", "error", err.Error())
		return nil
	}
	if !ok {
		return nil
	}

	var c cachedEnvelope
	if err := json.Unmarshal(entry.Value, &c); err != nil {
		d.logger.Warn("Discarding unreadable cache entry", "tool", entry.Tool, "error", err.Error())
		return nil
	}
	resp := c.Response
	resp.Data = c.Data
	if resp.Meta == nil {
		resp.Meta = &envelope.Meta{}
	}
	resp.Meta.Cache = &envelope.CacheInfo{Hit: true, Age: entry.Age(d.clock()).Truncate(time.Second).String()}
	for _, name := range unknown {
		resp.Warnings = append(resp.Warnings, envelope.Warning{Message: fmt.Sprintf("unknown parameter %q ignored", name)})
	}
	return &resp
}

func (d *Dispatcher) store(ctx context.Context, key, name string, resp *envelope.Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		d.logger.Warn("Response not cacheable", "tool", name, "error", err.Error())
		return
	}
	if err := d.cache.Set(ctx, key, name, body, d.cacheTTL); err != nil {
		d.logger.Warn("Response cache write failed", "tool", name, "error", err.Error())
	}
}

// recordUsage writes the usage row in the background; failures only log.
func (d *Dispatcher) recordUsage(call Call, resp *envelope.Response, elapsed time.Duration) {
	if d.usage == nil {
		return
	}

	status := "ok"
	if code := resp.ErrorCode(); code != "" {
		status = string(code)
	}
	params, err := json.Marshal(call.Args)
	if err != nil || call.Args == nil {
		params = []byte("{}")
	}
	principal := call.Principal
	if principal == "" {
		principal = AnonymousClient
	}
	rec := storage.UsageRecord{
		Tool:       strings.TrimSpace(call.Name),
		ParamsJSON: string(params),
		ClientID:   principal,
		Status:     status,
		DurationMs: elapsed.Milliseconds(),
		At:         d.clock(),
	}

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), usageWriteTimeout)
		defer cancel()
		if err := d.usage.Record(ctx, rec); err != nil {
			d.logger.Warn("Failed to record usage", "tool", rec.Tool, "error", err.Error())
		}
	}()
}
