// Package logger provides the swarm's structured logging facade. It
// keeps the package-level Debug/Info/Warn/Error/Critical call signature
// the teacher SDK's own pkg/logger exposed to pkg/rtds and pkg/clob/ws,
// backed by zerolog instead of that package's own implementation.
package logger

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var std atomic.Pointer[zerolog.Logger]

func init() {
	l := New("info")
	std.Store(&l)
}

// New builds a zerolog.Logger writing to stdout at level, defaulting to
// info on an unrecognized level string.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

// SetLevel replaces the global logger's level.
func SetLevel(level string) {
	l := New(level)
	std.Store(&l)
}

// SetOutput swaps the global logger, e.g. to attach a component field
// via l.With().Str("component", name).Logger().
func SetOutput(l zerolog.Logger) {
	std.Store(&l)
}

// L returns the process-wide logger, for components that need to derive
// a scoped child (via .With()...).
func L() zerolog.Logger { return *std.Load() }

// Debug logs at debug level with printf-style formatting.
func Debug(format string, args ...any) { std.Load().Debug().Msgf(format, args...) }

// Info logs at info level with printf-style formatting.
func Info(format string, args ...any) { std.Load().Info().Msgf(format, args...) }

// Warn logs at warn level with printf-style formatting.
func Warn(format string, args ...any) { std.Load().Warn().Msgf(format, args...) }

// Error logs at error level with printf-style formatting.
func Error(format string, args ...any) { std.Load().Error().Msgf(format, args...) }

// Critical logs at error level tagged critical=true, for failures spec.md
// requires be surfaced distinctly (e.g. a lock lost after acquisition).
func Critical(format string, args ...any) {
	std.Load().Error().Bool("critical", true).Msgf(format, args...)
}

// Tag logs at warn level with a stable "tag" field, per spec.md §7's
// requirement that every denial and realized leg risk carry a
// mechanically-filterable tag (DENY:BUDGET, DENY:RISK, LEG_RISK:HEDGE)
// rather than a substring of the free-form message.
func Tag(tag, format string, args ...any) {
	std.Load().Warn().Str("tag", tag).Msgf(format, args...)
}

// CriticalTag is Critical with the same stable "tag" field Tag attaches,
// for the CRITICAL-severity tag spec.md §7 names (CB:TRIPPED).
func CriticalTag(tag, format string, args ...any) {
	std.Load().Error().Bool("critical", true).Str("tag", tag).Msgf(format, args...)
}
