package logging

import (
	"log/slog"
	"math"
	"strings"
)

// Level is the canonical severity string sent on the wire.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelLog   Level = "log"
)

// MapLevel folds any slog level into one of the four wire levels. Levels
// below info, including custom trace levels, become "log".
func MapLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelLog
	}
}

const (
	// LevelTrace sits below slog.LevelDebug.
	LevelTrace slog.Level = -8
	// LevelAll passes every record regardless of severity.
	LevelAll slog.Level = math.MinInt32
)

// ParseLevel converts a textual level name, as written by zerolog and most
// line-oriented loggers, into a slog level. Unknown names parse as info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug", "dbg":
		return slog.LevelDebug
	case "warn", "warning", "wrn":
		return slog.LevelWarn
	case "error", "err", "severe":
		return slog.LevelError
	case "fatal", "ftl", "panic", "pnc", "shout":
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}
