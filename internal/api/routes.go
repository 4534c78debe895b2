package api

import (
	"net/http"

	"peripheral/internal/tools"
	"peripheral/internal/version"
)

// publicPaths skip the access gate.
var publicPaths = []string{"/", "/health", "/ready"}

// route binds an HTTP pattern to an operation. Path wildcards and query keys
// are renamed to the operation's parameter names.
type route struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Tool   string            `json:"tool"`
	path   map[string]string // wildcard -> parameter
	query  map[string]string // query key -> parameter
}

// operationRoutes is the REST surface of the catalogue.
var operationRoutes = []route{
	{Method: "GET", Path: "/health", Tool: tools.OpHealthCheck},
	{
		Method: "GET", Path: "/briefing/latest", Tool: tools.OpLatestBriefing,
		query: map[string]string{"hours": "hours", "region": "region"},
	},
	{
		Method: "GET", Path: "/signals/region/{region}", Tool: tools.OpMilitarySignals,
		path:  map[string]string{"region": "region"},
		query: map[string]string{"hours": "hours", "type": "signal_type", "signal_type": "signal_type"},
	},
	{
		Method: "GET", Path: "/signals/timeline/{region}", Tool: tools.OpSignalTimeline,
		path:  map[string]string{"region": "region"},
		query: map[string]string{"hours": "hours"},
	},
	{
		Method: "GET", Path: "/stories/trending", Tool: tools.OpTrendingStories,
		query: map[string]string{"hours": "hours", "limit": "limit"},
	},
	{
		Method: "GET", Path: "/stories/search", Tool: tools.OpSearchStories,
		query: map[string]string{"q": "query", "query": "query", "hours": "hours", "limit": "limit"},
	},
	{
		Method: "GET", Path: "/stories/{id}", Tool: tools.OpStoryDetails,
		path: map[string]string{"id": "story_id"},
	},
	{
		Method: "GET", Path: "/articles/search", Tool: tools.OpSearchArticles,
		query: map[string]string{"q": "query", "query": "query", "hours": "hours", "limit": "limit"},
	},
	{
		Method: "GET", Path: "/entities/search", Tool: tools.OpSearchEntities,
		query: map[string]string{"name": "name", "type": "entity_type", "entity_type": "entity_type", "limit": "limit"},
	},
	{
		Method: "GET", Path: "/entities/{type}/{id}/context", Tool: tools.OpEntityContext,
		path:  map[string]string{"type": "entity_type", "id": "entity_id"},
		query: map[string]string{"hours": "hours"},
	},
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	for _, rt := range operationRoutes {
		if _, ok := s.dispatcher.Catalogue().Lookup(rt.Tool); !ok {
			continue
		}
		s.router.HandleFunc(rt.Method+" "+rt.Path, s.handleOperation(rt))
		s.routes = append(s.routes, rt)
	}

	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /tools", s.handleTools)
	if s.rpc != nil {
		s.router.Handle("POST /mcp", s.rpc)
	}
	s.router.HandleFunc("GET /{$}", s.handleRoot)
}

// RootResponse describes the service at GET /.
type RootResponse struct {
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Mode    string  `json:"mode"`
	Routes  []route `json:"routes"`
	MCP     string  `json:"mcp,omitempty"`
}

// handleRoot lists the available routes
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	resp := RootResponse{
		Name:    version.ServerName,
		Version: version.Version,
		Mode:    string(s.gate.Mode()),
		Routes:  s.routes,
	}
	if s.rpc != nil {
		resp.MCP = "POST /mcp"
	}
	WriteJSON(w, resp, http.StatusOK)
}

// handleTools lists the operation catalogue with input schemas
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, map[string]interface{}{
		"tools": s.dispatcher.Catalogue().Definitions(),
	}, http.StatusOK)
}
