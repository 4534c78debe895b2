package api

import (
	"net/http"

	"peripheral/internal/auth"
	"peripheral/internal/query"
	"peripheral/internal/tools"
)

// handleOperation dispatches rt's operation with arguments taken from the
// path and query string. Only mapped query keys are forwarded; when a request
// carries both an alias and the canonical key, the canonical key wins.
func (s *Server) handleOperation(rt route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args := make(map[string]interface{}, len(rt.path)+len(rt.query))
		for wildcard, param := range rt.path {
			args[param] = r.PathValue(wildcard)
		}
		values := r.URL.Query()
		for _, canonical := range []bool{false, true} {
			for key, param := range rt.query {
				if (key == param) != canonical {
					continue
				}
				if v := values.Get(key); v != "" {
					args[param] = v
				}
			}
		}

		resp := s.dispatcher.Dispatch(r.Context(), tools.Call{
			Name:      rt.Tool,
			Args:      args,
			Principal: principalID(r),
			RequestID: GetRequestID(r.Context()),
		})
		WriteEnvelope(w, resp)
	}
}

// handleReady reports 503 while the backing store is unreachable. Unlike
// /health it is meant for load balancers, not for humans.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := s.dispatcher.Dispatch(r.Context(), tools.Call{
		Name:      tools.OpHealthCheck,
		Principal: principalID(r),
		RequestID: GetRequestID(r.Context()),
	})

	status := http.StatusOK
	if h, ok := resp.Data.(*query.Health); !ok || h.Status != query.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, resp, status)
}

func principalID(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.ClientID
	}
	return auth.AnonymousClient
}
