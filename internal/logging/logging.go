// ABOUTME: Builds the structured logger shared by the engine, poll loop and CLI
// ABOUTME: Writes to stderr and optionally to a size-rotated log file

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level string // debug, info, warn or error
	File  string // empty disables file output

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	Stderr io.Writer
}

// New returns a logger and a close func releasing the log file.
func New(opts Options) (*log.Logger, func() error, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		l, err := log.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = l
	}

	var out io.Writer = opts.Stderr
	if out == nil {
		out = os.Stderr
	}
	closer := func() error { return nil }

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		out = io.MultiWriter(out, rot)
		closer = rot.Close
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "feedsync",
	})
	return logger, closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
