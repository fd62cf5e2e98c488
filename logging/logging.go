// File: logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

type (
	// Logger is the logger type shared by every hioload-net component.
	Logger = logiface.Logger[*stumpy.Event]

	// Level is the severity of a log event.
	Level = logiface.Level
)

const (
	LevelDisabled = logiface.LevelDisabled
	LevelCritical = logiface.LevelCritical
	LevelError    = logiface.LevelError
	LevelWarning  = logiface.LevelWarning
	LevelNotice   = logiface.LevelNotice
	LevelInfo     = logiface.LevelInformational
	LevelDebug    = logiface.LevelDebug
)

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(os.Stderr, LevelInfo))
}

// New builds a JSON-lines logger that writes to w, discarding events less
// severe than level.
func New(w io.Writer, level Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
			stumpy.WithTimeField("ts"),
		),
		stumpy.L.WithLevel(level),
	)
}

// Default returns the process-wide logger (stderr, info unless replaced).
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger. A nil logger silences it.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Or returns l, or the process-wide logger when l is nil.
func Or(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return Default()
}

// Named returns a child logger that tags every event with component=name.
func Named(l *Logger, name string) *Logger {
	return With(l, "component", name)
}

// With returns a child logger carrying the string field key=val.
func With(l *Logger, key, val string) *Logger {
	if l == nil {
		return nil
	}
	ctx := l.Clone()
	if ctx == nil {
		return l
	}
	return ctx.Str(key, val).Logger()
}

// Enabled reports whether l would write an event at level.
func Enabled(l *Logger, level Level) bool {
	if l == nil {
		return false
	}
	b := l.Build(level)
	if b == nil {
		return false
	}
	ok := b.Enabled()
	b.Release()
	return ok
}

// ParseLevel maps a textual level onto a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "crit", "critical":
		return LevelCritical, nil
	case "disabled", "off", "none":
		return LevelDisabled, nil
	default:
		return LevelDisabled, fmt.Errorf("logging: unknown level %q", s)
	}
}
