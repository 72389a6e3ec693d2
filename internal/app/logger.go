package app

import (
	"io"
	"log/slog"
	"os"

	"github.com/schoolhub/schoolhub/internal/redact"
)

// NewLogger returns a configured slog.Logger based on configuration. Every record
// passes through the redacting handler.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && cfg.IsProduction() {
		opts.AddSource = false
	}
	var h slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(redact.NewHandler(h, nil))
}
