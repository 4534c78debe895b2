package testutil

import (
	"context"
	"sync"

	"peripheral/internal/store"
)

// CountingGateway records every call that reaches the wrapped gateway.
type CountingGateway struct {
	store.Gateway

	mu      sync.Mutex
	fetches int
	pings   int
	queries []store.Query
}

// NewCountingGateway wraps g.
func NewCountingGateway(g store.Gateway) *CountingGateway {
	return &CountingGateway{Gateway: g}
}

// Fetch implements store.Gateway.
func (c *CountingGateway) Fetch(ctx context.Context, q store.Query) (*store.Page, error) {
	c.mu.Lock()
	c.fetches++
	c.queries = append(c.queries, q)
	c.mu.Unlock()
	return c.Gateway.Fetch(ctx, q)
}

// Ping implements store.Gateway.
func (c *CountingGateway) Ping(ctx context.Context) error {
	c.mu.Lock()
	c.pings++
	c.mu.Unlock()
	return c.Gateway.Ping(ctx)
}

// Calls is the number of fetches and pings seen so far.
func (c *CountingGateway) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches + c.pings
}

// Queries returns a copy of the fetched queries in call order.
func (c *CountingGateway) Queries() []store.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]store.Query(nil), c.queries...)
}

// Reset zeroes the counters.
func (c *CountingGateway) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches, c.pings, c.queries = 0, 0, nil
}
