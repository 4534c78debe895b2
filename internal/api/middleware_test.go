package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"peripheral/internal/envelope"
	perrors "peripheral/internal/errors"
	"peripheral/internal/slogutil"
)

func TestRecoveryMiddleware(t *testing.T) {
	logger := slogutil.NewDiscardLogger()
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map write")
	})
	h := RecoveryMiddleware(logger)(RequestIDMiddleware()(panicking))

	req := httptest.NewRequest(http.MethodGet, "/stories/trending", nil)
	req.Header.Set("X-Request-ID", "req-panic")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var env envelope.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.ErrorCode() != perrors.InternalError || env.Error.Message != "internal error" {
		t.Errorf("error = %+v", env.Error)
	}
	if env.Error.CorrelationID != "req-panic" {
		t.Errorf("correlation id = %q", env.Error.CorrelationID)
	}
}

func TestCORSMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "https://a.example", "*"},
		{"listed origin", []string{"https://a.example"}, "https://a.example", "https://a.example"},
		{"unlisted origin", []string{"https://a.example"}, "https://b.example", ""},
		{"no origins", nil, "https://a.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			CORSMiddleware(tt.origins)(ok).ServeHTTP(rec, req)
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
			if rec.Code != http.StatusTeapot {
				t.Errorf("status = %d", rec.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodOptions, "/briefing/latest", nil)
	rec := httptest.NewRecorder()
	CORSMiddleware([]string{"*"})(ok).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("preflight reached the handler: %d", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		if r.Header.Get(RequestIDHeader) != seen {
			t.Errorf("request header = %q, context = %q", r.Header.Get(RequestIDHeader), seen)
		}
	}))

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"generated", "", false},
		{"client supplied", "abc-123", true},
		{"too long", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
				t.Errorf("context %q, response %q", seen, rec.Header().Get(RequestIDHeader))
			}
			if tt.keep && seen != tt.header {
				t.Errorf("client id replaced: %q", seen)
			}
			if !tt.keep && seen == tt.header {
				t.Errorf("id kept: %q", seen)
			}
		})
	}
}

func TestLoadSheddingMiddleware(t *testing.T) {
	shedder := NewLoadShedder(LoadSheddingConfig{
		MaxConcurrentRequests: 1,
		QueueTimeout:          10 * time.Millisecond,
		PriorityEndpoints:     []string{"/health"},
		RetryAfterSeconds:     1,
	})

	entered := make(chan struct{})
	release := make(chan struct{})
	h := LoadSheddingMiddleware(shedder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			close(entered)
			<-release
		}
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
	}()
	<-entered

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stories/trending", nil))
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("X-Load-Shed") != "true" {
		t.Errorf("overloaded request: %d %v", rec.Code, rec.Header())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("priority endpoint shed: %d", rec.Code)
	}

	close(release)
	wg.Wait()

	if shedder.InFlight() != 0 || shedder.TotalShed() != 1 {
		t.Errorf("inFlight=%d shed=%d", shedder.InFlight(), shedder.TotalShed())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stories/trending", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("slot not released: %d", rec.Code)
	}
}
