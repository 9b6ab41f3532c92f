// Package logging builds the application logger and carries it through
// contexts and fx modules.
package logging

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatProduction  = "production"
	FormatDevelopment = "development"
)

var ErrNoLoggerInContext = errors.New("no logger in context")

type Options struct {
	// App is attached to every entry as the app field
	App string

	// Level is a zap level name. Invalid or empty levels fall back to info.
	Level string

	// Format selects JSON (production) or console (development) output.
	// Empty defaults to production.
	Format string

	// Sentry receives every error entry if it has a client bound.
	Sentry *sentry.Hub
}

func New(opts Options) (*zap.Logger, error) {
	var config zap.Config
	if opts.Format == "" || opts.Format == FormatProduction {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	if opts.App != "" {
		config.InitialFields = map[string]any{
			"app": opts.App,
		}
	}

	config.Level = parseLevel(opts.Level)

	var options []zap.Option
	if opts.Sentry != nil && opts.Sentry.Client() != nil {
		options = append(options, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, NewSentryCore(opts.Sentry, zapcore.ErrorLevel))
		}))
	}

	return config.Build(options...)
}

func parseLevel(lvl string) zap.AtomicLevel {
	if atom, err := zap.ParseAtomicLevel(lvl); err == nil {
		return atom
	}

	return zap.NewAtomicLevelAt(zap.InfoLevel)
}

type contextKey struct{}

func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

func LoggerFromContext(ctx context.Context) (*zap.Logger, error) {
	if logger, ok := ctx.Value(contextKey{}).(*zap.Logger); ok {
		return logger, nil
	}

	return nil, ErrNoLoggerInContext
}

// DecorateLogger names the logger of an fx module.
func DecorateLogger(name string) fx.Option {
	return fx.Decorate(func(log *zap.Logger) *zap.Logger {
		return log.Named(name)
	})
}
