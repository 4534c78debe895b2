package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	perrors "peripheral/internal/errors"
)

func newTestPostgREST(t *testing.T, handler http.HandlerFunc) *PostgREST {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := NewPostgREST(PostgRESTOptions{BaseURL: srv.URL, Key: "anon-key", Schema: "osint"})
	if err != nil {
		t.Fatalf("NewPostgREST: %v", err)
	}
	return g
}

func TestPostgREST_RequestShape(t *testing.T) {
	var got *http.Request
	g := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Range", "0-1/57")
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
	})

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p, err := g.Fetch(context.Background(), Query{
		Collection: "signal",
		Filters: []Filter{
			Since("created_at", since),
			Contains("target_region", "  Kyiv  Oblast "),
			IEq("signal_type", "air-defense"),
		},
		Order:      []Order{{Column: "created_at", Desc: true}, {Column: "id"}},
		Limit:      500,
		Offset:     40,
		CountTotal: true,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if got.URL.Path != "/rest/v1/signal" {
		t.Errorf("path = %q", got.URL.Path)
	}
	q := got.URL.Query()
	checks := map[string]string{
		"select":        "*",
		"created_at":    "gte.2026-03-01T00:00:00Z",
		"target_region": "ilike.*Kyiv Oblast*",
		"signal_type":   "ilike.air-defense",
		"order":         "created_at.desc,id.asc",
		"limit":         "200",
		"offset":        "40",
	}
	for k, want := range checks {
		if q.Get(k) != want {
			t.Errorf("param %s = %q, want %q", k, q.Get(k), want)
		}
	}
	if got.Header.Get("apikey") != "anon-key" || got.Header.Get("Authorization") != "Bearer anon-key" {
		t.Errorf("credential headers missing: %v", got.Header)
	}
	if got.Header.Get("Prefer") != "count=exact" {
		t.Errorf("Prefer = %q", got.Header.Get("Prefer"))
	}
	if got.Header.Get("Accept-Profile") != "osint" {
		t.Errorf("Accept-Profile = %q", got.Header.Get("Accept-Profile"))
	}

	if len(p.Rows) != 2 || p.Total == nil || *p.Total != 57 {
		t.Errorf("page = %d rows, total %v", len(p.Rows), p.Total)
	}
}

func TestPostgREST_OrAndIn(t *testing.T) {
	var raw string
	g := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		raw = r.URL.RawQuery
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := g.Fetch(context.Background(), Query{
		Collection: "news_item",
		Filters: []Filter{
			Or(Contains("title", `50% "off"`), Contains("content", "drone")),
			In("story_id", []string{"s1", "s,2"}),
		},
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	q, _ := url.ParseQuery(raw)
	wantOr := `(title.ilike."*50\\% \"off\"*",content.ilike."*drone*")`
	if q.Get("or") != wantOr {
		t.Errorf("or = %s, want %s", q.Get("or"), wantOr)
	}
	if q.Get("story_id") != `in.("s1","s,2")` {
		t.Errorf("in = %s", q.Get("story_id"))
	}
}

func TestPostgREST_MissingContentRange(t *testing.T) {
	g := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1}]`))
	})

	p, err := g.Fetch(context.Background(), Query{Collection: "story", CountTotal: true})
	if err != nil {
		t.Fatalf("absent Content-Range must not fail: %v", err)
	}
	if p.Total != nil {
		t.Errorf("Total = %v, want unknown", *p.Total)
	}
}

func TestPostgREST_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   perrors.ErrorCode
	}{
		{http.StatusBadRequest, perrors.InvalidFilter},
		{http.StatusNotFound, perrors.InvalidFilter},
		{http.StatusUnauthorized, perrors.InternalError},
		{http.StatusTooManyRequests, perrors.TransientUnavailable},
		{http.StatusBadGateway, perrors.TransientUnavailable},
		{http.StatusServiceUnavailable, perrors.TransientUnavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			g := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"code":"42703","message":"column news_item.secret does not exist"}`))
			})
			_, err := g.Fetch(context.Background(), Query{Collection: "news_item"})
			if got := perrors.CodeOf(err); got != tt.want {
				t.Errorf("code = %s, want %s (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestPostgREST_RangeNotSatisfiable(t *testing.T) {
	g := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "*/12")
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	})
	p, err := g.Fetch(context.Background(), Query{Collection: "news_item", Offset: 400, CountTotal: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(p.Rows) != 0 || p.Total == nil || *p.Total != 12 {
		t.Errorf("page = %+v", p)
	}
}

func TestPostgREST_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	g, _ := NewPostgREST(PostgRESTOptions{BaseURL: base})
	_, err := g.Fetch(context.Background(), Query{Collection: "news_item"})
	if !perrors.Is(err, perrors.TransientUnavailable) {
		t.Errorf("err = %v, want TRANSIENT_UNAVAILABLE", err)
	}
}

func TestPostgREST_TimeoutCancelsFetch(t *testing.T) {
	var inFlight atomic.Int32
	release := make(chan struct{})
	g := newTestPostgREST(t, func(w http.ResponseWriter, r *http.Request) {
		inFlight.Add(1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	wrapped := WithTimeout(g, 50*time.Millisecond)
	start := time.Now()
	_, err := wrapped.Fetch(context.Background(), Query{Collection: "news_item"})
	if !perrors.Is(err, perrors.TransientUnavailable) {
		t.Fatalf("err = %v, want TRANSIENT_UNAVAILABLE", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("fetch was not abandoned at the deadline")
	}
	if inFlight.Load() != 1 {
		t.Errorf("requests = %d", inFlight.Load())
	}
}

func TestNewPostgREST_URL(t *testing.T) {
	g, err := NewPostgREST(PostgRESTOptions{BaseURL: "https://abc.supabase.co/rest/v1/"})
	if err != nil {
		t.Fatal(err)
	}
	if g.base != "https://abc.supabase.co/rest/v1" {
		t.Errorf("base = %q", g.base)
	}
	if _, err := NewPostgREST(PostgRESTOptions{BaseURL: "not a url"}); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0-24/3573", 3573, true},
		{"*/0", 0, true},
		{"0-24/*", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got := parseContentRange(tt.in)
		if (got != nil) != tt.ok || (got != nil && *got != tt.want) {
			t.Errorf("parseContentRange(%q) = %v", tt.in, got)
		}
	}
}

func TestLikePattern(t *testing.T) {
	if got := likePattern("a*b_c", true); !strings.HasPrefix(got, "*") || got != `*a_b\_c*` {
		t.Errorf("likePattern = %q", got)
	}
}
