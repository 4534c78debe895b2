package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"peripheral/internal/auth"
	"peripheral/internal/envelope"
	perrors "peripheral/internal/errors"
	"peripheral/internal/tools"
)

// ToolContent is one content block of a tools/call result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult is the MCP result of tools/call. The text block carries the
// response envelope as JSON.
type ToolCallResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError"`
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools []tools.Definition `json:"tools"`
}

// handlePayload decodes a single message or a batch and returns what should be
// written back: nil, a *MCPMessage or a []*MCPMessage.
func (s *Server) handlePayload(ctx context.Context, sess *session, data []byte) interface{} {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			return NewErrorMessage(nil, ParseError, fmt.Sprintf("Failed to parse message: %v", err), nil)
		}
		if len(batch) == 0 {
			return NewErrorMessage(nil, InvalidRequest, "Invalid request: empty batch", nil)
		}
		var responses []*MCPMessage
		for _, raw := range batch {
			if resp := s.handleRaw(ctx, sess, raw, InvalidRequest); resp != nil {
				responses = append(responses, resp)
			}
		}
		if len(responses) == 0 {
			return nil
		}
		return responses
	}

	if resp := s.handleRaw(ctx, sess, data, ParseError); resp != nil {
		return resp
	}
	return nil
}

// handleRaw decodes one message. Undecodable input is answered with badCode.
func (s *Server) handleRaw(ctx context.Context, sess *session, raw []byte, badCode int) *MCPMessage {
	var msg MCPMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("Unparseable message", "error", err.Error())
		return NewErrorMessage(nil, badCode, fmt.Sprintf("Failed to parse message: %v", err), nil)
	}
	return s.handleMessage(ctx, sess, &msg)
}

// handleMessage processes an incoming MCP message and returns a response
func (s *Server) handleMessage(ctx context.Context, sess *session, msg *MCPMessage) *MCPMessage {
	if msg.Jsonrpc != "2.0" {
		return NewErrorMessage(msg.Id, InvalidRequest, `Invalid request: jsonrpc must be "2.0"`, nil)
	}

	if msg.IsRequest() {
		return s.handleRequest(ctx, sess, msg)
	}

	// Handle notifications (no response needed)
	if msg.IsNotification() {
		s.handleNotification(msg)
		return nil
	}

	// This server never sends requests, so responses are unexpected.
	if msg.IsResponse() {
		s.logger.Warn("Ignoring unsolicited response", "id", msg.Id)
		return nil
	}

	return NewErrorMessage(msg.Id, InvalidRequest, "Invalid message: not a request or notification", nil)
}

// handleRequest handles a JSON-RPC request
func (s *Server) handleRequest(ctx context.Context, sess *session, msg *MCPMessage) *MCPMessage {
	s.logger.Debug("Handling request",
		"method", msg.Method,
		"id", msg.Id,
	)

	if sess.requireInit && !sess.initialized && msg.Method != "initialize" && msg.Method != "ping" {
		return NewErrorMessage(msg.Id, NotInitialized, "Server not initialized: send initialize first", nil)
	}

	params, ok := paramsObject(msg.Params)

	switch msg.Method {
	case "initialize":
		if !ok {
			return NewErrorMessage(msg.Id, InvalidParams, "Invalid params: expected an object", nil)
		}
		result := s.handleInitialize(params)
		sess.initialized = true
		return NewResultMessage(msg.Id, result)
	case "ping":
		return NewResultMessage(msg.Id, map[string]interface{}{})
	}

	// Everything past the handshake is gated, including catalogue reads and
	// name lookups.
	principal, refused := s.admit(ctx, sess, msg.Id, msg.Method)
	if refused != nil {
		return refused
	}
	if !ok {
		return NewErrorMessage(msg.Id, InvalidParams, "Invalid params: expected an object", nil)
	}

	switch msg.Method {
	case "tools/list":
		return NewResultMessage(msg.Id, &ToolsListResult{Tools: s.dispatcher.Catalogue().Definitions()})
	case "tools/call":
		return s.handleCallTool(ctx, sess, principal, msg.Id, params)
	default:
		if _, ok := s.dispatcher.Catalogue().Lookup(msg.Method); ok {
			return s.handleDirectCall(ctx, sess, principal, msg.Id, msg.Method, params)
		}
		return NewErrorMessage(msg.Id, MethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method), nil)
	}
}

// handleNotification handles a JSON-RPC notification
func (s *Server) handleNotification(msg *MCPMessage) {
	switch msg.Method {
	case "notifications/initialized":
		s.logger.Info("Client initialized")
	case "notifications/cancelled":
		s.logger.Debug("Client cancelled a request", "params", msg.Params)
	default:
		s.logger.Debug("Unknown notification",
			"method", msg.Method,
		)
	}
}

// handleCallTool runs tools/call. Tool failures are reported inside the
// result with isError set; unknown tools and gate refusals are protocol errors.
func (s *Server) handleCallTool(ctx context.Context, sess *session, p auth.Principal, id interface{}, params map[string]interface{}) *MCPMessage {
	name, _ := params["name"].(string)
	if name == "" {
		return NewErrorMessage(id, InvalidParams, "Invalid params: name is required", nil)
	}
	if _, ok := s.dispatcher.Catalogue().Lookup(name); !ok {
		return NewErrorMessage(id, MethodNotFound, fmt.Sprintf("Unknown tool: %s", name), nil)
	}

	var args map[string]interface{}
	switch a := params["arguments"].(type) {
	case nil:
	case map[string]interface{}:
		args = a
	default:
		return NewErrorMessage(id, InvalidParams, "Invalid params: arguments must be an object", nil)
	}

	resp := s.dispatch(ctx, sess, p, name, args)

	text, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode tool response", "tool", name, "error", err.Error())
		return NewErrorMessage(id, InternalError, "internal error", nil)
	}
	return NewResultMessage(id, &ToolCallResult{
		Content: []ToolContent{{Type: "text", Text: string(text)}},
		IsError: !resp.OK(),
	})
}

// handleDirectCall runs an operation invoked by name. Success returns the
// envelope; failure returns a JSON-RPC error whose data is the error object.
func (s *Server) handleDirectCall(ctx context.Context, sess *session, p auth.Principal, id interface{}, name string, args map[string]interface{}) *MCPMessage {
	resp := s.dispatch(ctx, sess, p, name, args)
	if !resp.OK() {
		return NewErrorMessage(id, CodeFor(resp.ErrorCode()), resp.Error.Message, resp.Error)
	}
	return NewResultMessage(id, resp)
}

// admit runs the session's access gate. A refusal comes back as a ready
// error message.
func (s *Server) admit(ctx context.Context, sess *session, id interface{}, method string) (auth.Principal, *MCPMessage) {
	p, err := sess.admit(ctx)
	if err != nil {
		info := envelope.ErrorFrom(err, sess.requestID)
		s.logger.Info("Call refused by access gate",
			"method", method,
			"code", info.Code,
		)
		return auth.Principal{}, NewErrorMessage(id, CodeFor(perrors.CodeOf(err)), info.Message, info)
	}
	return p, nil
}

func (s *Server) dispatch(ctx context.Context, sess *session, p auth.Principal, name string, args map[string]interface{}) *envelope.Response {
	return s.dispatcher.Dispatch(ctx, tools.Call{
		Name:      name,
		Args:      args,
		Principal: p.ClientID,
		RequestID: sess.requestID,
	})
}

// paramsObject accepts absent params or a JSON object.
func paramsObject(p interface{}) (map[string]interface{}, bool) {
	switch v := p.(type) {
	case nil:
		return map[string]interface{}{}, true
	case map[string]interface{}:
		return v, true
	default:
		return nil, false
	}
}
