package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"peripheral/internal/envelope"
	perrors "peripheral/internal/errors"
)

// StatusFor maps an error code to its HTTP status.
func StatusFor(code perrors.ErrorCode) int {
	switch code {
	case perrors.InvalidParameter:
		return http.StatusBadRequest // 400
	case perrors.Unauthorized:
		return http.StatusUnauthorized // 401
	case perrors.NotFound, perrors.MethodNotFound:
		return http.StatusNotFound // 404
	case perrors.RateLimited:
		return http.StatusTooManyRequests // 429
	case perrors.TransientUnavailable:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteEnvelope writes resp with the status its error code maps to, plus the
// headers that go with 401 and 429.
func WriteEnvelope(w http.ResponseWriter, resp *envelope.Response) {
	status := http.StatusOK
	if !resp.OK() {
		code := resp.ErrorCode()
		status = StatusFor(code)
		switch code {
		case perrors.Unauthorized:
			w.Header().Set("WWW-Authenticate", `Bearer realm="peripheral"`)
		case perrors.RateLimited, perrors.TransientUnavailable:
			if secs := retryAfter(resp.Error); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
	}
	WriteJSON(w, resp, status)
}

// WriteError renders err as an error envelope.
func WriteError(w http.ResponseWriter, tool string, err error, correlationID string) {
	WriteEnvelope(w, envelope.New().Tool(tool).Error(err, correlationID).Build())
}

func retryAfter(info *envelope.ErrorInfo) int {
	if d, ok := info.Details.(map[string]int); ok {
		return d["retryAfter"]
	}
	return 0
}
