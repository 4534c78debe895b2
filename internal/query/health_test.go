package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"peripheral/internal/testutil"
)

func TestHealth(t *testing.T) {
	e := newTestEngine(t, testutil.Dataset(t))

	h := e.Health(context.Background())
	if h.Status != StatusHealthy || !h.Store.Reachable || h.Store.Driver != "memory" {
		t.Fatalf("health = %+v", h)
	}
	want := map[string]int{"news_item": 8, "story": 4, "signal": 6}
	for c, n := range want {
		if h.Counts[c] == nil || *h.Counts[c] != n {
			t.Errorf("count %s = %v, want %d", c, h.Counts[c], n)
		}
	}
}

func TestHealth_Degraded(t *testing.T) {
	m := testutil.Dataset(t)
	m.SetPingError(errors.New("pq: password authentication failed for user \"reader\""))
	e := newTestEngine(t, m)

	h := e.Health(context.Background())
	if h.Status != StatusDegraded || h.Store.Reachable {
		t.Fatalf("health = %+v", h)
	}
	if h.Counts != nil {
		t.Errorf("counts should be omitted when the store is down: %v", h.Counts)
	}
	if strings.Contains(h.Store.Message, "password") {
		t.Errorf("raw store error leaked: %q", h.Store.Message)
	}
}
