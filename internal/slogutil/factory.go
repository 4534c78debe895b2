package slogutil

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Options selects how the process logger is built.
type Options struct {
	Format     string // "text" (line format) or "json"
	Level      string
	File       string // optional extra destination
	MaxSize    string // rotation threshold for File, e.g. "10MB"
	MaxBackups int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup builds the process logger. Records always go to console; when opts.File is
// set they are also appended to that file, rotated by size if MaxSize parses.
// The returned closer releases the file.
func Setup(console io.Writer, opts Options) (*slog.Logger, io.Closer, error) {
	level := LevelFromString(opts.Level)

	consoleHandler, err := newHandler(console, opts.Format, level)
	if err != nil {
		return nil, nil, err
	}
	if opts.File == "" {
		return slog.New(consoleHandler), nopCloser{}, nil
	}

	rf, err := OpenRotatingFile(opts.File, ParseSize(opts.MaxSize), opts.MaxBackups)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", opts.File, err)
	}
	fileHandler, _ := newHandler(rf, opts.Format, level)
	return slog.New(NewTeeHandler(consoleHandler, fileHandler)), rf, nil
}

func newHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	switch strings.ToLower(format) {
	case "", "text", "human":
		return NewLineHandler(w, &slog.HandlerOptions{Level: level}), nil
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
