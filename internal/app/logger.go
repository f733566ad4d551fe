package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process logger. Production logs JSON at Info;
// elsewhere the text handler logs at Debug for local work. Every record
// carries the service attribute so aggregated logs stay attributable.
func NewLogger(cfg *Config) *slog.Logger {
	level := slog.LevelDebug
	if cfg != nil && cfg.IsProduction() {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{AddSource: true, Level: level}
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("service", "gatehouse"))
}
