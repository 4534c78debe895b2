package store

import (
	"context"
	"errors"
	"time"

	perrors "peripheral/internal/errors"
)

// timeoutGateway bounds every call with a per-call deadline derived from the
// caller's context, so an abandoned request cancels its outstanding fetch.
type timeoutGateway struct {
	inner   Gateway
	timeout time.Duration
}

// WithTimeout wraps g so every Fetch and Ping runs under d.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return &timeoutGateway{inner: g, timeout: d}
}

func (t *timeoutGateway) Fetch(ctx context.Context, q Query) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	p, err := t.inner.Fetch(ctx, q)
	return p, asTransient(ctx, "fetch "+q.Collection, err)
}

func (t *timeoutGateway) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return asTransient(ctx, "ping", t.inner.Ping(ctx))
}

func (t *timeoutGateway) Name() string { return t.inner.Name() }

// asTransient maps context expiry to TRANSIENT_UNAVAILABLE unless the error is
// already classified.
func asTransient(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := perrors.As(err); ok {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return perrors.NewTransientError(op, err)
	}
	return err
}
