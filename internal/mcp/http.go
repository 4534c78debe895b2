package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"peripheral/internal/auth"
)

// ServeHTTP answers JSON-RPC over HTTP POST. Each request is its own stateless
// session, so no initialize handshake is needed. When the access gate already
// ran (the principal is on the request context) it is not charged again.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxMessageSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, NewErrorMessage(nil, InvalidRequest, "Invalid request: message exceeds 1MB", nil))
			return
		}
		writeJSON(w, http.StatusBadRequest, NewErrorMessage(nil, ParseError, "Failed to read request body", nil))
		return
	}

	sess := &session{
		requestID: r.Header.Get("X-Request-ID"),
		admit:     s.httpAdmit(r),
	}

	response := s.handlePayload(r.Context(), sess, body)
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) httpAdmit(r *http.Request) func(context.Context) (auth.Principal, error) {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return func(context.Context) (auth.Principal, error) { return p, nil }
	}
	token := auth.ExtractBearerToken(r)
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return func(context.Context) (auth.Principal, error) {
		return s.gate.Admit(token, host)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
