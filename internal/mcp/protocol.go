package mcp

import (
	perrors "peripheral/internal/errors"
)

// MCPMessage represents a JSON-RPC 2.0 message for MCP
type MCPMessage struct {
	Jsonrpc string      `json:"jsonrpc"`
	Id      interface{} `json:"id"`
	Method  string      `json:"method,omitempty"`
	Params  interface{} `json:"params,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC 2.0 error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *MCPError) Error() string {
	return e.Message
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Server error codes
const (
	Unauthorized   = -32001
	NotInitialized = -32002
	Unavailable    = -32003
	NotFound       = -32004
	RateLimited    = -32005
)

// ProtocolVersion is the MCP revision answered when the client asks for one
// this server does not know.
const ProtocolVersion = "2024-11-05"

// supportedVersions are the revisions echoed back unchanged.
var supportedVersions = []string{"2024-11-05", "2025-03-26", "2025-06-18"}

// CodeFor maps an error code onto its JSON-RPC code.
func CodeFor(code perrors.ErrorCode) int {
	switch code {
	case perrors.InvalidParameter:
		return InvalidParams
	case perrors.Unauthorized:
		return Unauthorized
	case perrors.NotFound:
		return NotFound
	case perrors.MethodNotFound:
		return MethodNotFound
	case perrors.TransientUnavailable:
		return Unavailable
	case perrors.RateLimited:
		return RateLimited
	default:
		return InternalError
	}
}

// NewErrorMessage creates a new error response message
func NewErrorMessage(id interface{}, code int, message string, data interface{}) *MCPMessage {
	return &MCPMessage{
		Jsonrpc: "2.0",
		Id:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// NewResultMessage creates a new result response message
func NewResultMessage(id interface{}, result interface{}) *MCPMessage {
	return &MCPMessage{
		Jsonrpc: "2.0",
		Id:      id,
		Result:  result,
	}
}

// IsRequest checks if the message is a request
func (m *MCPMessage) IsRequest() bool {
	return m.Method != "" && m.Id != nil
}

// IsNotification checks if the message is a notification
func (m *MCPMessage) IsNotification() bool {
	return m.Method != "" && m.Id == nil
}

// IsResponse checks if the message is a response (must have id and either result or error)
func (m *MCPMessage) IsResponse() bool {
	return m.Method == "" && m.Id != nil && (m.Result != nil || m.Error != nil)
}
