// Package mcp is the JSON-RPC 2.0 surface of the service. It speaks the Model
// Context Protocol over newline-delimited stdio and over HTTP POST, and routes
// every tool call through the shared dispatcher.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"peripheral/internal/auth"
	"peripheral/internal/tools"
	"peripheral/internal/version"
)

// Server answers JSON-RPC messages. A single Server can back any number of
// sessions concurrently.
type Server struct {
	name       string
	version    string
	dispatcher *tools.Dispatcher
	gate       *auth.Gate
	logger     *slog.Logger
}

// NewServer creates a server that routes calls through d and admits callers
// with gate.
func NewServer(d *tools.Dispatcher, gate *auth.Gate, logger *slog.Logger) *Server {
	return &Server{
		name:       version.ServerName,
		version:    version.Version,
		dispatcher: d,
		gate:       gate,
		logger:     logger,
	}
}

// session is the state of one client connection.
type session struct {
	// requireInit rejects everything but initialize and ping until the
	// handshake has happened.
	requireInit bool
	initialized bool

	requestID string
	admit     func(ctx context.Context) (auth.Principal, error)
}

// Serve runs a stdio session: one JSON-RPC message (or batch) per line on in,
// one response per line on out. token is the session's bearer credential.
// It returns nil when in reaches EOF or ctx is cancelled between messages.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer, token string) error {
	t := newStreamTransport(in, out, s.logger)
	sess := &session{
		requireInit: true,
		admit: func(context.Context) (auth.Principal, error) {
			return s.gate.Admit(token, "")
		},
	}

	s.logger.Info("MCP server starting",
		"version", s.version,
		"transport", "stdio",
		"mode", string(s.gate.Mode()),
		"tools", s.dispatcher.Catalogue().Len(),
	)

	for {
		if ctx.Err() != nil {
			s.logger.Info("MCP server shutting down (context done)")
			return nil
		}

		line, err := t.read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("MCP server shutting down (EOF)")
				return nil
			}
			s.logger.Error("Error reading message", "error", err.Error())
			_ = t.write(NewErrorMessage(nil, ParseError, fmt.Sprintf("Failed to read message: %v", err), nil))
			return err
		}

		response := s.handlePayload(ctx, sess, line)
		if response == nil {
			continue
		}
		if err := t.write(response); err != nil {
			s.logger.Error("Error writing response", "error", err.Error())
			return err
		}
	}
}
