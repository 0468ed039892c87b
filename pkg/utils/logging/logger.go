package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
)

type contextKey struct{}

var (
	loggerKey       = contextKey{}
	defaultLogger   *slog.Logger
	defaultLoggerMu sync.RWMutex
)

func init() {
	defaultLogger = New("info", os.Stderr)
}

// Format selects the log output encoding
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseFormat converts a string to Format. Unknown values fall back to console.
func ParseFormat(s string) Format {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON
	default:
		return FormatConsole
	}
}

// parseLevel converts a string level to slog.Level
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		if l := Default(); l != nil {
			l.Warn("invalid log level, falling back to info", "level", level)
		}
		return slog.LevelInfo
	}
}

// New creates a console logger with the specified level string.
// Accepts: "debug", "info", "warn", "warning", "error" (case-insensitive)
func New(level string, w io.Writer) *slog.Logger {
	return NewWithFormat(level, FormatConsole, w)
}

// NewWithFormat creates a logger writing either colored console lines or JSON
func NewWithFormat(level string, format Format, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: parseLevel(level),
		}))
	}

	handler := clog.New(
		clog.WithWriter(w),
		clog.WithLevel(parseLevel(level)),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
		clog.WithAttrHook(clog.GoerrHook),
	)

	return slog.New(handler)
}

// Default returns the default logger
func Default() *slog.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *slog.Logger) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = logger
}

// With returns a new context with the logger attached
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// From retrieves the logger from the context
// If no logger is found, it returns the default logger
func From(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
			return logger
		}
	}
	return Default()
}

// ErrAttr wraps err as a log attribute. goerr errors keep their values and stack
// through clog.GoerrHook.
func ErrAttr(err error) slog.Attr {
	if err == nil {
		return slog.Any("error", nil)
	}
	var gerr *goerr.Error
	if errors.As(err, &gerr) {
		return slog.Any("error", gerr)
	}
	return slog.String("error", err.Error())
}
