package envelope

import (
	"time"

	perrors "peripheral/internal/errors"
)

// Builder constructs Response envelopes using a fluent API.
type Builder struct {
	resp *Response
}

// New creates a new envelope builder.
func New() *Builder {
	return &Builder{resp: &Response{SchemaVersion: CurrentSchemaVersion}}
}

// Tool records which operation produced the envelope.
func (b *Builder) Tool(name string) *Builder {
	b.resp.Tool = name
	return b
}

// Data sets the tool-specific payload.
func (b *Builder) Data(data interface{}) *Builder {
	b.resp.Data = data
	return b
}

func (b *Builder) meta() *Meta {
	if b.resp.Meta == nil {
		b.resp.Meta = &Meta{}
	}
	return b.resp.Meta
}

// WithWindow records the evaluated time range.
func (b *Builder) WithWindow(hours int, since, until time.Time) *Builder {
	if hours <= 0 {
		return b
	}
	b.meta().Window = &Window{Hours: hours, Since: since.UTC(), Until: until.UTC()}
	return b
}

// WithProvenance records the gateway kind and the collections read.
func (b *Builder) WithProvenance(gateway string, collections ...string) *Builder {
	if gateway == "" && len(collections) == 0 {
		return b
	}
	b.meta().Provenance = &Provenance{Gateway: gateway, Collections: collections}
	return b
}

// WithTruncation adds truncation metadata. It is a no-op when nothing was trimmed.
func (b *Builder) WithTruncation(truncated bool, shown int, total *int, reason string) *Builder {
	if !truncated {
		return b
	}
	b.meta().Truncation = &Truncation{
		IsTruncated: true,
		Shown:       shown,
		Total:       total,
		Reason:      reason,
	}
	return b
}

// WithCache records whether the payload came from the response cache.
func (b *Builder) WithCache(hit bool, age time.Duration) *Builder {
	info := &CacheInfo{Hit: hit}
	if hit {
		info.Age = age.Truncate(time.Second).String()
	}
	b.meta().Cache = info
	return b
}

// Warning adds a warning message.
func (b *Builder) Warning(msg string) *Builder {
	b.resp.Warnings = append(b.resp.Warnings, Warning{Message: msg})
	return b
}

// WarningWithCode adds a warning with a code.
func (b *Builder) WarningWithCode(code, msg string) *Builder {
	b.resp.Warnings = append(b.resp.Warnings, Warning{Code: code, Message: msg})
	return b
}

// Suggest appends a follow-up call.
func (b *Builder) Suggest(tool string, params map[string]interface{}, reason string) *Builder {
	b.resp.SuggestedNextCalls = append(b.resp.SuggestedNextCalls, SuggestedCall{
		Tool:   tool,
		Params: params,
		Reason: reason,
	})
	return b
}

// Error turns the envelope into an error envelope. Failures outside the error
// taxonomy, and store-level InvalidFilter failures, surface as INTERNAL_ERROR with
// a generic message; correlationID is attached to those so logs can be joined.
func (b *Builder) Error(err error, correlationID string) *Builder {
	if err == nil {
		return b
	}
	b.resp.Data = nil
	b.resp.Error = ErrorFrom(err, correlationID)
	return b
}

// ErrorFrom renders err into its caller-visible form.
func ErrorFrom(err error, correlationID string) *ErrorInfo {
	pe, ok := perrors.As(err)
	if !ok || pe.Code == perrors.InternalError || pe.Code == perrors.InvalidFilter {
		return &ErrorInfo{
			Code:          string(perrors.InternalError),
			Message:       "internal error",
			CorrelationID: correlationID,
		}
	}
	info := &ErrorInfo{
		Code:      string(pe.Code),
		Message:   pe.Message,
		Field:     pe.Field,
		Retryable: pe.Code.Retryable(),
		Details:   pe.Details,
	}
	if pe.Code == perrors.TransientUnavailable {
		info.CorrelationID = correlationID
	}
	return info
}

// Build returns the completed response envelope.
func (b *Builder) Build() *Response {
	return b.resp
}

// ErrorCode returns the taxonomy code of an error envelope, or "" for a success.
func (r *Response) ErrorCode() perrors.ErrorCode {
	if r == nil || r.Error == nil {
		return ""
	}
	return perrors.ErrorCode(r.Error.Code)
}
