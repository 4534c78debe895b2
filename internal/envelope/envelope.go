// Package envelope provides the response wrapper shared by every tool result.
// Each operation's payload travels in a uniform envelope carrying the query window,
// provenance, truncation, cache status, warnings, a structured error, and suggested
// follow-up calls.
package envelope

import "time"

// Window describes the time range an operation was evaluated over.
type Window struct {
	Hours int       `json:"hours"`
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Provenance names the gateway and collections a result was computed from.
type Provenance struct {
	Gateway     string   `json:"gateway"`
	Collections []string `json:"collections,omitempty"`
}

// Truncation describes result trimming.
type Truncation struct {
	IsTruncated bool   `json:"isTruncated"`
	Shown       int    `json:"shown"`
	Total       *int   `json:"total,omitempty"` // nil when the store did not report a total
	Reason      string `json:"reason,omitempty"`
}

// CacheInfo describes response cache status.
type CacheInfo struct {
	Hit bool   `json:"hit"`
	Age string `json:"age,omitempty"`
}

// Meta holds response metadata.
type Meta struct {
	Window     *Window     `json:"window,omitempty"`
	Provenance *Provenance `json:"provenance,omitempty"`
	Truncation *Truncation `json:"truncation,omitempty"`
	Cache      *CacheInfo  `json:"cache,omitempty"`
}

// SuggestedCall represents a recommended follow-up tool call.
type SuggestedCall struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params,omitempty"`
	Reason string                 `json:"reason,omitempty"`
}

// Warning represents a non-fatal issue.
type Warning struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ErrorInfo is the caller-visible half of a failure. Message never contains
// backing-store text; CorrelationID ties an internal failure to server logs.
type ErrorInfo struct {
	Code          string      `json:"code"`
	Message       string      `json:"message"`
	Field         string      `json:"field,omitempty"`
	Retryable     bool        `json:"retryable,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Details       interface{} `json:"details,omitempty"`
}

// Response is the standard envelope for all tool responses.
type Response struct {
	SchemaVersion      string          `json:"schemaVersion"`
	Tool               string          `json:"tool,omitempty"`
	Data               interface{}     `json:"data"`
	Meta               *Meta           `json:"meta,omitempty"`
	Warnings           []Warning       `json:"warnings,omitempty"`
	Error              *ErrorInfo      `json:"error,omitempty"`
	SuggestedNextCalls []SuggestedCall `json:"suggestedNextCalls,omitempty"`
}

// OK reports whether the response carries a result rather than an error.
func (r *Response) OK() bool {
	return r != nil && r.Error == nil
}

// CurrentSchemaVersion is the current envelope schema version.
const CurrentSchemaVersion = "1.0"

// Warning codes.
const (
	WarningGating   = "gating"
	WarningClamped  = "clamped"
	WarningDegraded = "degraded"
)
