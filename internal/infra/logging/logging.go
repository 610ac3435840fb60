package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"credit-reset/internal/config"

	"github.com/rs/zerolog"
)

// New builds the process logger on stdout. Levels are trace|debug|info|warn|error
// (info when unset or unknown); format is json or console, and dev forces console.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	return NewWithWriter(cfg, dev, os.Stdout)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(cfg config.LogConfig, dev bool, w io.Writer) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.ToLower(cfg.Format) == "console" || dev {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	base := zerolog.New(w).With().Timestamp().Logger()

	if cfg.Sampling && !dev {
		// Debug and info lines are thinned; warnings and errors are always kept.
		sampled := base.Sample(zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: 100},
			InfoSampler:  &zerolog.BasicSampler{N: 10},
		})
		return &sampled
	}
	return &base
}

type ctxKey string

const (
	ctxRunID      ctxKey = "run_id"
	ctxCheckpoint ctxKey = "checkpoint"
	ctxAccount    ctxKey = "account"
)

// With attaches the run fields carried by ctx.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v, ok := ctx.Value(ctxRunID).(string); ok {
		l = l.Str("run_id", v)
	}
	if v, ok := ctx.Value(ctxCheckpoint).(string); ok {
		l = l.Str("checkpoint", v)
	}
	if v, ok := ctx.Value(ctxAccount).(string); ok {
		l = l.Str("account", v)
	}
	logger := l.Logger()
	return &logger
}

// TraceDuration logs start and end with elapsed duration at TRACE level.
// Usage: defer logging.TraceDuration(logger, "CheckpointUseCase.Run")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		logger.Trace().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

// Redact hides secrets when not in dev; keep short/preview.
func Redact(s string, dev bool) string {
	if dev {
		return s
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}

// MaskAPIKey always hides the middle of an API key, even in dev.
func MaskAPIKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRunID, id)
}
func WithCheckpoint(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, ctxCheckpoint, kind)
}
func WithAccount(ctx context.Context, mask string) context.Context {
	return context.WithValue(ctx, ctxAccount, mask)
}
