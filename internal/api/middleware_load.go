package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	perrors "peripheral/internal/errors"
)

// LoadSheddingConfig contains load shedding configuration
type LoadSheddingConfig struct {
	// MaxConcurrentRequests is the maximum number of concurrent requests; 0 disables shedding
	MaxConcurrentRequests int
	// QueueSize is the number of requests allowed to wait for a slot
	QueueSize int
	// QueueTimeout is how long to wait in queue before rejecting
	QueueTimeout time.Duration
	// PriorityEndpoints are path prefixes that are never shed
	PriorityEndpoints []string
	// RetryAfterSeconds is the value for the Retry-After header
	RetryAfterSeconds int
}

// DefaultLoadSheddingConfig returns the shedding config for maxConcurrent
// in-flight requests.
func DefaultLoadSheddingConfig(maxConcurrent int) LoadSheddingConfig {
	return LoadSheddingConfig{
		MaxConcurrentRequests: maxConcurrent,
		QueueSize:             maxConcurrent,
		QueueTimeout:          2 * time.Second,
		PriorityEndpoints:     []string{"/health", "/ready"},
		RetryAfterSeconds:     1,
	}
}

// LoadShedder bounds in-flight requests with a semaphore and a short queue.
type LoadShedder struct {
	config LoadSheddingConfig

	inFlight  int64
	totalShed uint64

	semaphore chan struct{}
	queue     chan struct{}
}

// NewLoadShedder creates a new load shedder
func NewLoadShedder(config LoadSheddingConfig) *LoadShedder {
	return &LoadShedder{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrentRequests),
		queue:     make(chan struct{}, config.QueueSize),
	}
}

// Acquire tries to acquire a slot for processing a request.
// Returns true if the request can proceed, false if it should be rejected.
func (ls *LoadShedder) Acquire(endpoint string) bool {
	if ls.isPriorityEndpoint(endpoint) {
		return true
	}

	select {
	case ls.semaphore <- struct{}{}:
		atomic.AddInt64(&ls.inFlight, 1)
		return true
	default:
	}

	select {
	case ls.queue <- struct{}{}:
		defer func() { <-ls.queue }()
	default:
		atomic.AddUint64(&ls.totalShed, 1)
		return false
	}

	timer := time.NewTimer(ls.config.QueueTimeout)
	defer timer.Stop()

	select {
	case ls.semaphore <- struct{}{}:
		atomic.AddInt64(&ls.inFlight, 1)
		return true
	case <-timer.C:
		atomic.AddUint64(&ls.totalShed, 1)
		return false
	}
}

// Release releases a slot after processing is complete.
func (ls *LoadShedder) Release(endpoint string) {
	if ls.isPriorityEndpoint(endpoint) {
		return
	}
	select {
	case <-ls.semaphore:
		atomic.AddInt64(&ls.inFlight, -1)
	default:
	}
}

// InFlight returns the number of requests holding a slot.
func (ls *LoadShedder) InFlight() int64 { return atomic.LoadInt64(&ls.inFlight) }

// TotalShed returns the number of rejected requests.
func (ls *LoadShedder) TotalShed() uint64 { return atomic.LoadUint64(&ls.totalShed) }

func (ls *LoadShedder) isPriorityEndpoint(endpoint string) bool {
	for _, priority := range ls.config.PriorityEndpoints {
		if strings.HasPrefix(endpoint, priority) {
			return true
		}
	}
	return false
}

// LoadSheddingMiddleware answers 503 with a TRANSIENT_UNAVAILABLE envelope
// when the shedder has no slot left. A nil shedder passes everything through.
func LoadSheddingMiddleware(shedder *LoadShedder) func(http.Handler) http.Handler {
	if shedder == nil || shedder.config.MaxConcurrentRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !shedder.Acquire(r.URL.Path) {
				w.Header().Set("Retry-After", strconv.Itoa(shedder.config.RetryAfterSeconds))
				w.Header().Set("X-Load-Shed", "true")
				WriteError(w, "", perrors.New(perrors.TransientUnavailable, "server overloaded, retry shortly", nil), GetRequestID(r.Context()))
				return
			}

			defer shedder.Release(r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}
