package core

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"farmcore/internal/blob"
	"farmcore/pkg/domain"
)

var fixedNow = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func stubClock() Clock { return ClockFunc(func() time.Time { return fixedNow }) }

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(stubClock())}, opts...)
	svc, err := NewInMemoryService(nil, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func draft(name string, sex domain.Sex, breed domain.Breed) domain.AnimalDraft {
	return domain.AnimalDraft{Name: name, Sex: sex, Breed: breed, YearOfBirth: 2022}
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) find(level, msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

type metricCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricCall
}

func (m *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	m.calls = append(m.calls, metricCall{op: op, success: success})
	m.mu.Unlock()
}

type captureTracer struct {
	mu    sync.Mutex
	spans map[string][]error
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (t *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, captureSpan{tracer: t, op: op}
}

func (s captureSpan) End(err error) {
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	if s.tracer.spans == nil {
		s.tracer.spans = map[string][]error{}
	}
	s.tracer.spans[s.op] = append(s.tracer.spans[s.op], err)
}

// failingPutStore accepts every call but Put.
type failingPutStore struct {
	blob.Store
}

var errDiskFull = errors.New("disk full")

func (failingPutStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Info, error) {
	return blob.Info{}, errDiskFull
}
