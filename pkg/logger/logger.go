package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted replaces the value of any attribute that may carry clinical
// content or credentials.
const Redacted = "[redacted]"

var sensitiveKeys = map[string]bool{
	"transcript":    true,
	"audio_data":    true,
	"referto":       true,
	"referto_data":  true,
	"odontogramma":  true,
	"authorization": true,
	"access_token":  true,
	"refresh_token": true,
	"password":      true,
	"dsn":           true,
}

// New returns the JSON logger used by every binary, writing to stdout.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv)
}

func NewWithWriter(w io.Writer, appEnv string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       levelFor(appEnv),
		ReplaceAttr: redact,
	}))
}

func levelFor(appEnv string) slog.Level {
	switch strings.ToLower(appEnv) {
	case "local", "dev":
		return slog.LevelDebug
	case "test":
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
