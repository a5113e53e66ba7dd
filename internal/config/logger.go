package config

import (
	"io"
	"log"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger. Production logs JSON, everything
// else logs text. An unknown level falls back to info.
func NewLogger(w io.Writer, a App) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(a.LogLevel))); err != nil {
		log.Printf("invalid LOG_LEVEL %q, using info", a.LogLevel)
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if a.Production() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
