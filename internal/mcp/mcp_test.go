package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"peripheral/internal/auth"
	"peripheral/internal/config"
	"peripheral/internal/envelope"
	perrors "peripheral/internal/errors"
	"peripheral/internal/query"
	"peripheral/internal/slogutil"
	"peripheral/internal/store"
	"peripheral/internal/testutil"
	"peripheral/internal/tools"
)

func newTestServer(t *testing.T, g store.Gateway, gate *auth.Gate) *Server {
	t.Helper()
	logger := slogutil.NewDiscardLogger()
	e := query.NewEngine(g, config.DefaultConfig().Query, logger, query.WithClock(testutil.Clock(testutil.Now)))
	d := tools.NewDispatcher(tools.NewDefault(e), "memory", logger, tools.WithDispatchClock(testutil.Clock(testutil.Now)))
	if gate == nil {
		gate = auth.NewOpenGate(logger)
	}
	return NewServer(d, gate, logger)
}

func restrictedGate(t *testing.T) *auth.Gate {
	t.Helper()
	g, err := auth.NewGate(config.AuthConfig{Tokens: []string{"secret"}}, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// runStdio feeds lines to a stdio session and returns one decoded message per
// output line.
func runStdio(t *testing.T, s *Server, token string, lines ...string) []MCPMessage {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	if err := s.Serve(context.Background(), in, &out, token); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var msgs []MCPMessage
	sc := bufio.NewScanner(&out)
	sc.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
	for sc.Scan() {
		var m MCPMessage
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad output line %q: %v", sc.Text(), err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func errorCode(m MCPMessage) int {
	if m.Error == nil {
		return 0
	}
	return m.Error.Code
}

// toolEnvelope decodes the envelope carried in a tools/call result.
func toolEnvelope(t *testing.T, m MCPMessage) (envelope.Response, bool) {
	t.Helper()
	raw, _ := json.Marshal(m.Result)
	var res ToolCallResult
	if err := json.Unmarshal(raw, &res); err != nil || len(res.Content) != 1 {
		t.Fatalf("tools/call result = %s", raw)
	}
	if res.Content[0].Type != "text" {
		t.Errorf("content type = %q", res.Content[0].Type)
	}
	var env envelope.Response
	if err := json.Unmarshal([]byte(res.Content[0].Text), &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return env, res.IsError
}

func TestServe_Session(t *testing.T) {
	s := newTestServer(t, testutil.Dataset(t), nil)

	msgs := runStdio(t, s, "",
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"test"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"get_trending_stories","arguments":{"limit":2}}}`,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"search_articles","arguments":{"query":"x"}}}`,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"drop_tables"}}`,
		`{bad json`,
		`{"jsonrpc":"2.0","id":8,"method":"resources/list"}`,
	)
	if len(msgs) != 9 {
		t.Fatalf("got %d responses, want 9: %+v", len(msgs), msgs)
	}

	if errorCode(msgs[0]) != NotInitialized {
		t.Errorf("tools/list before initialize: %+v", msgs[0].Error)
	}

	initRes := msgs[1].Result.(map[string]interface{})
	if initRes["protocolVersion"] != "2025-03-26" {
		t.Errorf("protocolVersion = %v", initRes["protocolVersion"])
	}
	caps := initRes["capabilities"].(map[string]interface{})
	if tl, ok := caps["tools"].(map[string]interface{}); !ok || tl["listChanged"] != false {
		t.Errorf("capabilities = %v", caps)
	}
	if info := initRes["serverInfo"].(map[string]interface{}); info["name"] != "peripheral" {
		t.Errorf("serverInfo = %v", info)
	}

	if msgs[2].Id != float64(3) || msgs[2].Error != nil {
		t.Errorf("ping = %+v", msgs[2])
	}

	list := msgs[3].Result.(map[string]interface{})["tools"].([]interface{})
	if len(list) != 10 {
		t.Errorf("tools/list returned %d tools", len(list))
	}

	env, isError := toolEnvelope(t, msgs[4])
	if isError || env.Tool != tools.OpTrendingStories || env.Error != nil {
		t.Errorf("tools/call = %+v (isError %v)", env, isError)
	}

	env, isError = toolEnvelope(t, msgs[5])
	if !isError || env.ErrorCode() != perrors.InvalidParameter || env.Error.Field != "query" {
		t.Errorf("invalid query: %+v", env.Error)
	}

	if errorCode(msgs[6]) != MethodNotFound {
		t.Errorf("unknown tool: %+v", msgs[6].Error)
	}
	if errorCode(msgs[7]) != ParseError || msgs[7].Id != nil {
		t.Errorf("bad json: %+v", msgs[7])
	}
	if errorCode(msgs[8]) != MethodNotFound {
		t.Errorf("unknown method: %+v", msgs[8].Error)
	}
}

func TestServe_DirectInvocation(t *testing.T) {
	s := newTestServer(t, testutil.Dataset(t), nil)

	msgs := runStdio(t, s, "",
		`{"jsonrpc":"2.0","id":"a","method":"initialize","params":{"protocolVersion":"1999-01-01"}}`,
		`{"jsonrpc":"2.0","id":"b","method":"get_story_details","params":{"story_id":"st1"}}`,
		`{"jsonrpc":"2.0","id":"c","method":"get_story_details","params":{"story_id":"missing"}}`,
		`{"jsonrpc":"2.0","id":"d","method":"get_military_signals","params":{}}`,
		`{"jsonrpc":"2.0","id":"e","method":"health_check","params":[1]}`,
	)
	if len(msgs) != 5 {
		t.Fatalf("got %d responses", len(msgs))
	}

	if v := msgs[0].Result.(map[string]interface{})["protocolVersion"]; v != ProtocolVersion {
		t.Errorf("unknown revision answered with %v", v)
	}

	res := msgs[1].Result.(map[string]interface{})
	if res["tool"] != tools.OpStoryDetails || res["schemaVersion"] != envelope.CurrentSchemaVersion {
		t.Errorf("direct result = %v", res)
	}

	if errorCode(msgs[2]) != NotFound {
		t.Errorf("missing story: %+v", msgs[2].Error)
	}
	data, _ := msgs[2].Error.Data.(map[string]interface{})
	if data["code"] != string(perrors.NotFound) {
		t.Errorf("error data = %v", msgs[2].Error.Data)
	}

	if errorCode(msgs[3]) != InvalidParams {
		t.Errorf("missing region: %+v", msgs[3].Error)
	}
	if errorCode(msgs[4]) != InvalidParams {
		t.Errorf("array params: %+v", msgs[4].Error)
	}
}

func TestServe_AccessGate(t *testing.T) {
	g := testutil.NewCountingGateway(testutil.Dataset(t))
	s := newTestServer(t, g, restrictedGate(t))

	tests := []struct {
		name      string
		call      string
		wantValid int // error code with the right token; 0 means success
	}{
		{"tools/call", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_latest_briefing"}}`, 0},
		{"direct invocation", `{"jsonrpc":"2.0","id":2,"method":"get_latest_briefing"}`, 0},
		{"tools/list", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, 0},
		{"unknown tool", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"drop_tables"}}`, MethodNotFound},
		{"unknown method", `{"jsonrpc":"2.0","id":2,"method":"resources/list"}`, MethodNotFound},
		{"params not an object", `{"jsonrpc":"2.0","id":2,"method":"tools/list","params":[1]}`, InvalidParams},
	}
	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize"}`

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Reset()
			msgs := runStdio(t, s, "wrong", initialize, tt.call)
			if msgs[0].Error != nil {
				t.Fatalf("initialize refused: %+v", msgs[0].Error)
			}
			if errorCode(msgs[1]) != Unauthorized {
				t.Errorf("wrong token: %+v", msgs[1])
			}
			if msgs[1].Result != nil {
				t.Errorf("wrong token got a result: %+v", msgs[1].Result)
			}
			if g.Calls() != 0 {
				t.Errorf("store reached %d times without a valid token", g.Calls())
			}

			msgs = runStdio(t, s, "secret", initialize, tt.call)
			if got := errorCode(msgs[1]); got != tt.wantValid {
				t.Errorf("valid token: code = %d, want %d (%+v)", got, tt.wantValid, msgs[1].Error)
			}
		})
	}

	msgs := runStdio(t, s, "wrong", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if msgs[0].Error != nil {
		t.Errorf("ping should not need a token: %+v", msgs[0].Error)
	}

	msgs = runStdio(t, s, "secret", initialize,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_latest_briefing"}}`)
	if env, isError := toolEnvelope(t, msgs[1]); isError {
		t.Errorf("valid token refused: %+v", env.Error)
	}
}

func TestServe_RateLimited(t *testing.T) {
	cfg := config.AuthConfig{Tokens: []string{"secret"}}
	cfg.RateLimit.RequestsPerMinute = 1
	cfg.RateLimit.Burst = 1
	gate, err := auth.NewGate(cfg, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, testutil.Dataset(t), gate)

	msgs := runStdio(t, s, "secret",
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","id":2,"method":"health_check"}`,
		`{"jsonrpc":"2.0","id":3,"method":"health_check"}`,
	)
	if msgs[1].Error != nil {
		t.Fatalf("first call: %+v", msgs[1].Error)
	}
	if errorCode(msgs[2]) != RateLimited {
		t.Fatalf("second call: %+v", msgs[2])
	}
	data := msgs[2].Error.Data.(map[string]interface{})
	if data["retryable"] != true {
		t.Errorf("rate limit data = %v", data)
	}
}

func TestServeHTTP(t *testing.T) {
	s := newTestServer(t, testutil.Dataset(t), nil)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
		req.Header.Set("X-Request-ID", "req-1")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec
	}

	t.Run("no handshake needed", func(t *testing.T) {
		rec := post(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"health_check"}}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var m MCPMessage
		if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil || m.Error != nil {
			t.Fatalf("response = %s", rec.Body.String())
		}
	})

	t.Run("batch", func(t *testing.T) {
		rec := post(`[
			{"jsonrpc":"2.0","id":1,"method":"ping"},
			{"jsonrpc":"2.0","method":"notifications/initialized"},
			{"jsonrpc":"2.0","id":2,"method":"nope"},
			42
		]`)
		var msgs []MCPMessage
		if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
			t.Fatalf("batch response = %s", rec.Body.String())
		}
		if len(msgs) != 3 {
			t.Fatalf("got %d responses", len(msgs))
		}
		if msgs[0].Error != nil || errorCode(msgs[1]) != MethodNotFound || errorCode(msgs[2]) != InvalidRequest {
			t.Errorf("batch = %+v", msgs)
		}
	})

	t.Run("notification only", func(t *testing.T) {
		rec := post(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
		if rec.Code != http.StatusAccepted || rec.Body.Len() != 0 {
			t.Errorf("status = %d body = %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("correlation id from header", func(t *testing.T) {
		m := testutil.Dataset(t)
		m.SetPingError(context.DeadlineExceeded)
		failing := newTestServer(t, m, nil)
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"search_articles","params":{"query":"kyiv"}}`))
		req.Header.Set("X-Request-ID", "req-9")
		rec := httptest.NewRecorder()
		failing.ServeHTTP(rec, req)
		var msg MCPMessage
		if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
			t.Fatal(err)
		}
		if errorCode(msg) != Unavailable {
			t.Fatalf("store outage: %s", rec.Body.String())
		}
		if data, _ := msg.Error.Data.(map[string]interface{}); data["correlationId"] != "req-9" {
			t.Errorf("error data = %v", msg.Error.Data)
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		rec := post(`{"jsonrpc":"1.0","id":1,"method":"ping"}`)
		var m MCPMessage
		_ = json.Unmarshal(rec.Body.Bytes(), &m)
		if errorCode(m) != InvalidRequest {
			t.Errorf("response = %s", rec.Body.String())
		}
	})

	t.Run("GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestServeHTTP_Gate(t *testing.T) {
	s := newTestServer(t, testutil.Dataset(t), restrictedGate(t))
	body := `{"jsonrpc":"2.0","id":1,"method":"health_check"}`

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var m MCPMessage
	_ = json.Unmarshal(rec.Body.Bytes(), &m)
	if errorCode(m) != Unauthorized {
		t.Errorf("no token: %s", rec.Body.String())
	}

	// A principal admitted upstream is trusted.
	req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{ClientID: "friend_0", Authenticated: true}))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	m = MCPMessage{}
	_ = json.Unmarshal(rec.Body.Bytes(), &m)
	if m.Error != nil {
		t.Errorf("admitted principal refused: %+v", m.Error)
	}
}

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		requested string
		want      string
	}{
		{"", ProtocolVersion},
		{"2024-11-05", "2024-11-05"},
		{"2025-06-18", "2025-06-18"},
		{"2030-01-01", ProtocolVersion},
	}
	for _, tt := range tests {
		if got := negotiateVersion(tt.requested); got != tt.want {
			t.Errorf("negotiateVersion(%q) = %q, want %q", tt.requested, got, tt.want)
		}
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		code perrors.ErrorCode
		want int
	}{
		{perrors.InvalidParameter, -32602},
		{perrors.Unauthorized, -32001},
		{perrors.TransientUnavailable, -32003},
		{perrors.NotFound, -32004},
		{perrors.RateLimited, -32005},
		{perrors.MethodNotFound, -32601},
		{perrors.InternalError, -32603},
		{perrors.InvalidFilter, -32603},
	}
	for _, tt := range tests {
		if got := CodeFor(tt.code); got != tt.want {
			t.Errorf("CodeFor(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
