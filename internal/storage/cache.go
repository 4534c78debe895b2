package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// CacheEntry is a stored response payload.
type CacheEntry struct {
	Key       string
	Tool      string
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Age returns how long ago the entry was written, relative to now.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// ResponseCache stores rendered operation results keyed by request digest.
// Expired entries are never returned.
type ResponseCache struct {
	db         *DB
	maxEntries int
	clock      func() time.Time
}

// NewResponseCache creates a cache over db. maxEntries <= 0 means unbounded.
func NewResponseCache(db *DB, maxEntries int) *ResponseCache {
	return &ResponseCache{db: db, maxEntries: maxEntries, clock: time.Now}
}

// SetClock replaces the wall clock (for testing).
func (c *ResponseCache) SetClock(clock func() time.Time) {
	c.clock = clock
}

// Get returns the entry for key, or false when missing or expired.
func (c *ResponseCache) Get(ctx context.Context, key string) (*CacheEntry, bool, error) {
	now := c.clock()
	rows, err := c.db.query(ctx, c.db.sb.
		Select("tool", "value_json", "created_at", "expires_at").
		From("response_cache").
		Where(sq.Eq{"key": key}).
		Where(sq.Gt{"expires_at": now.UnixMilli()}))
	if err != nil {
		return nil, false, fmt.Errorf("response cache lookup failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	e := &CacheEntry{Key: key}
	var created, expires int64
	if err := rows.Scan(&e.Tool, &e.Value, &created, &expires); err != nil {
		return nil, false, fmt.Errorf("response cache scan failed: %w", err)
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.ExpiresAt = time.UnixMilli(expires).UTC()
	return e, true, nil
}

// Set stores value under key for ttl, replacing any previous entry.
func (c *ResponseCache) Set(ctx context.Context, key, tool string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := c.clock()
	_, err := c.db.exec(ctx, c.db.sb.
		Insert("response_cache").
		Options("OR REPLACE").
		Columns("key", "tool", "value_json", "created_at", "expires_at").
		Values(key, tool, value, now.UnixMilli(), now.Add(ttl).UnixMilli()))
	if err != nil {
		return fmt.Errorf("failed to set response cache: %w", err)
	}

	if c.maxEntries > 0 {
		if err := c.evict(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Purge removes expired entries and returns how many were dropped.
func (c *ResponseCache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.exec(ctx, c.db.sb.
		Delete("response_cache").
		Where(sq.LtOrEq{"expires_at": c.clock().UnixMilli()}))
	if err != nil {
		return 0, fmt.Errorf("failed to purge response cache: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of stored entries, expired or not.
func (c *ResponseCache) Len(ctx context.Context) (int, error) {
	rows, err := c.db.query(ctx, c.db.sb.Select("count(*)").From("response_cache"))
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// evict drops expired entries, then the oldest ones beyond maxEntries.
func (c *ResponseCache) evict(ctx context.Context) error {
	if _, err := c.Purge(ctx); err != nil {
		return err
	}
	keep := c.db.sb.
		Select("key").
		From("response_cache").
		OrderBy("created_at DESC", "key").
		Limit(uint64(c.maxEntries))
	keepSQL, keepArgs, err := keep.ToSql()
	if err != nil {
		return fmt.Errorf("build eviction query: %w", err)
	}
	_, err = c.db.exec(ctx, c.db.sb.
		Delete("response_cache").
		Where(sq.Expr("key NOT IN ("+keepSQL+")", keepArgs...)))
	if err != nil {
		return fmt.Errorf("failed to evict response cache entries: %w", err)
	}
	return nil
}
