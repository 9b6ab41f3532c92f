package logging

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type recordingTransport struct {
	mu      sync.Mutex
	events  []*sentry.Event
	flushes int
}

func (t *recordingTransport) Configure(sentry.ClientOptions) {}

func (t *recordingTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, event)
}

func (t *recordingTransport) Flush(time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flushes++
	return true
}

func (t *recordingTransport) recorded() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]*sentry.Event(nil), t.events...)
}

func newTestHub(t *testing.T) (*sentry.Hub, *recordingTransport) {
	t.Helper()

	transport := &recordingTransport{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:        "https://public@sentry.example.com/1",
		SampleRate: 1.0,
		Transport:  transport,
	})
	require.NoError(t, err)

	return sentry.NewHub(client, sentry.NewScope()), transport
}

func TestNew_ReportsErrorsToSentry(t *testing.T) {
	hub, transport := newTestHub(t)

	log, err := New(Options{App: "test", Level: "debug", Sentry: hub})
	require.NoError(t, err)

	log = log.Named("worker").With(zap.String("worker", "client"))

	log.Info("client process started")
	log.Warn("worker died")
	log.Error("worker panicked", zap.Any("panic", "boom"), zap.Error(errors.New("oops")))

	events := transport.recorded()
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, "worker panicked", event.Message)
	assert.Equal(t, sentry.LevelError, event.Level)
	assert.Equal(t, "worker", event.Logger)
	assert.Equal(t, "client", event.Extra["worker"])
	assert.Equal(t, "boom", event.Extra["panic"])
	assert.Equal(t, "oops", event.Extra["error"])
}

func TestNew_WithoutSentryClient(t *testing.T) {
	log, err := New(Options{Sentry: sentry.NewHub(nil, sentry.NewScope())})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		log.Error("no client bound")
	})
}

func TestSentryCore_SyncFlushes(t *testing.T) {
	hub, transport := newTestHub(t)

	core := NewSentryCore(hub, zapcore.ErrorLevel)
	require.NoError(t, core.Sync())

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, 1, transport.flushes)
}

func TestSentryLevel(t *testing.T) {
	assert.Equal(t, sentry.LevelWarning, sentryLevel(zapcore.WarnLevel))
	assert.Equal(t, sentry.LevelError, sentryLevel(zapcore.ErrorLevel))
	assert.Equal(t, sentry.LevelFatal, sentryLevel(zapcore.DPanicLevel))
	assert.Equal(t, sentry.LevelFatal, sentryLevel(zapcore.FatalLevel))
}
