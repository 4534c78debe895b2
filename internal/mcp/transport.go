package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// MaxMessageSize is the maximum size for a single MCP message (1MB).
const MaxMessageSize = 1024 * 1024

// streamTransport reads and writes newline-delimited JSON-RPC messages.
type streamTransport struct {
	scanner *bufio.Scanner
	logger  *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

func newStreamTransport(in io.Reader, out io.Writer, logger *slog.Logger) *streamTransport {
	scanner := bufio.NewScanner(in)
	// Increase buffer size beyond default 64KB to handle large messages
	scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
	return &streamTransport{scanner: scanner, out: out, logger: logger}
}

// read returns the next non-blank line, or io.EOF.
func (t *streamTransport) read() ([]byte, error) {
	for t.scanner.Scan() {
		line := bytes.TrimSpace(t.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		t.logger.Debug("Received message", "bytes", len(line))
		return append([]byte(nil), line...), nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading from stdin: %w", err)
	}
	return nil, io.EOF
}

// write encodes v as one line.
func (t *streamTransport) write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling JSON-RPC message: %w", err)
	}

	t.logger.Debug("Sending message", "bytes", len(data))

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.out, "%s\n", data); err != nil {
		return fmt.Errorf("error writing to stdout: %w", err)
	}
	return nil
}
