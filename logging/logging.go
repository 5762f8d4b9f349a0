package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a text slog logger at Info level.
func New() *slog.Logger {
	return NewWithLevel(slog.LevelInfo).Logger
}

// Leveled couples a logger with the LevelVar driving it, so a dynamic
// LogLevel attribute can retune verbosity at runtime.
type Leveled struct {
	Logger *slog.Logger
	Level  *slog.LevelVar
}

// NewWithLevel returns a text slog logger whose level can be changed
// after construction.
func NewWithLevel(level slog.Level) Leveled {
	lv := new(slog.LevelVar)
	lv.Set(level)
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lv,
	})
	return Leveled{Logger: slog.New(h), Level: lv}
}

// SetLevel applies a textual level ("DEBUG", "INFO", "WARNING", "ERROR").
// Unknown values fall back to Info.
func (l Leveled) SetLevel(name string) {
	l.Level.Set(ParseLevel(name))
}

// ParseLevel maps the level names used in remote configuration to slog
// levels. "WARNING" is accepted alongside slog's "WARN".
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
