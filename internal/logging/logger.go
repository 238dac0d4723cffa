// Package logging builds the application logger.
package logging

import (
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// New creates a configured application logger.
// It writes human-readable text to Stderr (to keep Stdout free for flow
// output) and standardizes common keys (e.g. "error" -> "err").
// When flowDir is non-empty, a JSON copy of every record is appended to
// <flowDir>/logs/engine.log for post-mortem inspection.
func New(level slog.Level, flowDir string) *slog.Logger {
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	})

	if flowDir == "" {
		return slog.New(stderrHandler)
	}

	logsDir := filepath.Join(flowDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return slog.New(stderrHandler)
	}
	f, err := os.OpenFile(filepath.Join(logsDir, "engine.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return slog.New(stderrHandler)
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
}

// NewNop returns a no-op logger.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
