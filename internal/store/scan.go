package store

import (
	"context"
	"encoding/json"
)

// ScanResult is the outcome of paging through a query.
type ScanResult struct {
	Rows      []json.RawMessage
	Total     *int // as reported on the first page
	Truncated bool // more matching rows existed than max
}

// Scan pages through q from offset 0 until max rows are collected or the store
// runs out. Only the first page asks for a total.
func Scan(ctx context.Context, g Gateway, q Query, max int) (*ScanResult, error) {
	if max <= 0 {
		max = MaxPageSize
	}
	res := &ScanResult{}
	q.Offset = 0
	first := true
	lastFull := false

	for len(res.Rows) < max {
		want := max - len(res.Rows)
		if want > MaxPageSize {
			want = MaxPageSize
		}
		page := q
		page.Limit = want
		page.Offset = len(res.Rows)
		page.CountTotal = first && q.CountTotal

		p, err := g.Fetch(ctx, page)
		if err != nil {
			return nil, err
		}
		if first {
			res.Total = p.Total
			first = false
		}
		res.Rows = append(res.Rows, p.Rows...)
		lastFull = len(p.Rows) >= want
		if !lastFull {
			break
		}
		if res.Total != nil && len(res.Rows) >= *res.Total {
			lastFull = false
			break
		}
	}

	switch {
	case res.Total != nil:
		res.Truncated = *res.Total > len(res.Rows)
	default:
		res.Truncated = lastFull && len(res.Rows) >= max
	}
	return res, nil
}

// Count asks the store for the exact size of q's result set. When the gateway
// cannot report totals the count is nil.
func Count(ctx context.Context, g Gateway, q Query) (*int, error) {
	q.Select = nil
	q.Order = nil
	q.Limit = 1
	q.Offset = 0
	q.CountTotal = true
	p, err := g.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	return p.Total, nil
}
