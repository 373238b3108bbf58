package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu       sync.RWMutex
	level    = new(slog.LevelVar)
	logger   = newLogger(os.Stderr)
	minLevel = LevelInfo
)

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetLevel changes the minimum level. Unknown names fall back to INFO.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()

	switch Level(strings.ToUpper(string(l))) {
	case LevelDebug:
		minLevel = LevelDebug
		level.Set(slog.LevelDebug)
	case LevelError:
		minLevel = LevelError
		level.Set(slog.LevelError)
	default:
		minLevel = LevelInfo
		level.Set(slog.LevelInfo)
	}
}

// CurrentLevel returns the active minimum level.
func CurrentLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return minLevel
}

// SetOutput redirects log lines, mostly useful in tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Error(msg, extended...)
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
