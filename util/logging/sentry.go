package logging

import (
	"slices"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap/zapcore"
)

const sentryFlushTimeout = 2 * time.Second

// sentryCore reports log entries to a sentry hub. The entry fields are
// attached as event extras.
type sentryCore struct {
	zapcore.LevelEnabler
	hub    *sentry.Hub
	fields []zapcore.Field
}

// NewSentryCore returns a core reporting every entry at or above level
// to hub.
func NewSentryCore(hub *sentry.Hub, level zapcore.LevelEnabler) zapcore.Core {
	return &sentryCore{LevelEnabler: level, hub: hub}
}

func (c *sentryCore) With(fields []zapcore.Field) zapcore.Core {
	return &sentryCore{
		LevelEnabler: c.LevelEnabler,
		hub:          c.hub,
		fields:       append(slices.Clip(c.fields), fields...),
	}
}

func (c *sentryCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

func (c *sentryCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	event := sentry.NewEvent()
	event.Level = sentryLevel(ent.Level)
	event.Message = ent.Message
	event.Logger = ent.LoggerName
	event.Timestamp = ent.Time
	event.Extra = enc.Fields

	c.hub.CaptureEvent(event)

	return nil
}

func (c *sentryCore) Sync() error {
	c.hub.Flush(sentryFlushTimeout)
	return nil
}

func sentryLevel(lvl zapcore.Level) sentry.Level {
	switch lvl {
	case zapcore.DebugLevel:
		return sentry.LevelDebug
	case zapcore.InfoLevel:
		return sentry.LevelInfo
	case zapcore.WarnLevel:
		return sentry.LevelWarning
	case zapcore.ErrorLevel:
		return sentry.LevelError
	default:
		return sentry.LevelFatal
	}
}
