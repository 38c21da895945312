// Package logger provides component-scoped structured logging for the
// runtime. Log records fan out to a terminal handler and, when configured,
// a JSON file handler.
package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

var (
	mu       sync.RWMutex
	level    = new(slog.LevelVar)
	log      = newDefault()
	fileSink *os.File
)

func newDefault() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Setup reconfigures the process logger. logPath may be empty to log to
// stderr only. Safe to call more than once; the previous file sink is closed.
func Setup(logPath string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	if debug {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		if fileSink != nil {
			fileSink.Close()
		}
		fileSink = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}

	log = slog.New(slogmulti.Fanout(handlers...))
	return nil
}

// SetDebug toggles debug-level logging at runtime.
func SetDebug(on bool) {
	if on {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

func attrs(component string, fields map[string]interface{}) []any {
	out := make([]any, 0, 2+2*len(fields))
	out = append(out, "component", component)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// InfoC logs an info message tagged with a component.
func InfoC(component, msg string) {
	current().Info(msg, "component", component)
}

// InfoCF logs an info message with a component tag and structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	current().Info(msg, attrs(component, fields)...)
}

func DebugCF(component, msg string, fields map[string]interface{}) {
	current().Debug(msg, attrs(component, fields)...)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	current().Warn(msg, attrs(component, fields)...)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	current().Error(msg, attrs(component, fields)...)
}
