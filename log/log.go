package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Options configures loggers created by this package. Level is any of
// debug, info, warn or error; Format is text or json.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

var (
	mu      sync.RWMutex
	current = Options{Level: "debug", Format: "text", Output: os.Stderr}
)

// Configure changes the options for loggers created after the call.
// Zero fields keep their previous value.
func Configure(o Options) {
	mu.Lock()
	defer mu.Unlock()

	if o.Level != "" {
		current.Level = o.Level
	}
	if o.Format != "" {
		current.Format = o.Format
	}
	if o.Output != nil {
		current.Output = o.Output
	}
}

func parseLevel(level string) log.Level {
	l, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return log.DebugLevel
	}
	return l
}

func formatter(format string) log.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	}
	return log.TextFormatter
}

// NewHandler returns a charmbracelet handler whose prefix is name.
func NewHandler(name string) slog.Handler {
	mu.RLock()
	o := current
	mu.RUnlock()

	return log.NewWithOptions(o.Output, log.Options{
		ReportTimestamp: true,
		Prefix:          name,
		Level:           parseLevel(o.Level),
		Formatter:       formatter(o.Format),
	})
}

func New(name string) *slog.Logger {
	return slog.New(NewHandler(name))
}

func NewContext(ctx context.Context, name string) context.Context {
	return IntoContext(ctx, New(name))
}

type ctxKey struct{}

func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext falls back to slog.Default when ctx carries no logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// SubLogger names a child of base as "<base prefix>/<suffix>".
func SubLogger(base *slog.Logger, suffix string) *slog.Logger {
	prefix := suffix
	if cl, ok := base.Handler().(*log.Logger); ok && cl.GetPrefix() != "" {
		prefix = cl.GetPrefix() + "/" + suffix
	}
	return New(prefix)
}
