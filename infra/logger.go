package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tnqbao/gau-repo-evaluator/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type LoggerClient struct {
	logger *slog.Logger
}

// InitLoggerClient logs to stdout and, when telemetry is enabled, also ships
// every record through the otelslog bridge.
func InitLoggerClient(cfg *config.EnvConfig, loggerProvider *sdklog.LoggerProvider) *LoggerClient {
	level := slog.LevelInfo
	if cfg.Environment.Mode == "development" {
		level = slog.LevelDebug
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if loggerProvider != nil {
		handler = fanoutHandler{
			handler,
			otelslog.NewHandler(cfg.Grafana.ServiceName, otelslog.WithLoggerProvider(loggerProvider)),
		}
	}

	return NewLoggerClient(handler)
}

func NewLoggerClient(handler slog.Handler) *LoggerClient {
	return &LoggerClient{logger: slog.New(handler)}
}

// NewDiscardLogger is used by tests and by callers that have no logger yet.
func NewDiscardLogger() *LoggerClient {
	return NewLoggerClient(slog.NewTextHandler(io.Discard, nil))
}

func (l *LoggerClient) Slog() *slog.Logger {
	return l.logger
}

func (l *LoggerClient) DebugWithContextf(ctx context.Context, format string, args ...interface{}) {
	l.logger.DebugContext(ctx, fmt.Sprintf(format, args...))
}

func (l *LoggerClient) InfoWithContextf(ctx context.Context, format string, args ...interface{}) {
	l.logger.InfoContext(ctx, fmt.Sprintf(format, args...))
}

func (l *LoggerClient) WarningWithContextf(ctx context.Context, format string, args ...interface{}) {
	l.logger.WarnContext(ctx, fmt.Sprintf(format, args...))
}

func (l *LoggerClient) ErrorWithContextf(ctx context.Context, err error, format string, args ...interface{}) {
	if err != nil {
		l.logger.ErrorContext(ctx, fmt.Sprintf(format, args...), slog.String("error", err.Error()))
		return
	}
	l.logger.ErrorContext(ctx, fmt.Sprintf(format, args...))
}

type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
