package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes per-operation totals through expvar. It is
// the process-local fallback when no Prometheus registry is configured.
type ExpvarMetricsRecorder struct {
	name  string
	mu    sync.Mutex
	ops   map[string]*expvarOperation
	clock Clock
}

type expvarOperation struct {
	totalMS   float64
	maxMS     float64
	successes int64
	failures  int64
}

// ExpvarOperationStats is the exported view of one operation.
type ExpvarOperationStats struct {
	Calls     int64   `json:"calls"`
	Successes int64   `json:"successes"`
	Failures  int64   `json:"failures"`
	TotalMS   float64 `json:"duration_ms_total"`
	MaxMS     float64 `json:"duration_ms_max"`
}

// ExpvarMetricsSnapshot captures the recorder state at one instant.
type ExpvarMetricsSnapshot struct {
	Operations map[string]ExpvarOperationStats `json:"operations"`
	RecordedAt time.Time                       `json:"recorded_at"`
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated farmcore_metrics_N name when empty. expvar names are global, so
// reusing a name panics.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("farmcore_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarMetricsRecorder{
		name:  name,
		ops:   make(map[string]*expvarOperation),
		clock: ClockFunc(time.Now),
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make(map[string]ExpvarOperationStats, len(r.ops))
	for name, op := range r.ops {
		ops[name] = ExpvarOperationStats{
			Calls:     op.successes + op.failures,
			Successes: op.successes,
			Failures:  op.failures,
			TotalMS:   op.totalMS,
			MaxMS:     op.maxMS,
		}
	}
	return ExpvarMetricsSnapshot{Operations: ops, RecordedAt: r.clock.Now().UTC()}
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[operation]
	if !ok {
		op = &expvarOperation{}
		r.ops[operation] = op
	}
	op.totalMS += ms
	if ms > op.maxMS {
		op.maxMS = ms
	}
	if success {
		op.successes++
	} else {
		op.failures++
	}
}

// JSONTraceEntry is one finished span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes finished spans as JSON lines and keeps them for
// inspection. The CLI uses it behind --trace.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
	clock   Clock
}

// NewJSONTracer writes spans to w; a nil writer only retains them.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{clock: ClockFunc(time.Now)}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of the recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: t.clock.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
	once      sync.Once
}

func (s *jsonTraceSpan) End(err error) {
	s.once.Do(func() {
		ended := s.tracer.clock.Now().UTC()
		entry := JSONTraceEntry{
			Operation:  s.operation,
			Status:     string(AuditStatusSuccess),
			DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
			StartedAt:  s.started,
			EndedAt:    ended,
		}
		if err != nil {
			entry.Status = string(AuditStatusError)
			entry.Error = err.Error()
		}
		s.tracer.mu.Lock()
		defer s.tracer.mu.Unlock()
		s.tracer.entries = append(s.tracer.entries, entry)
		if s.tracer.enc != nil {
			_ = s.tracer.enc.Encode(entry)
		}
	})
}

// SliceAuditRecorder keeps audit entries in memory.
type SliceAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record implements AuditRecorder.
func (r *SliceAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (r *SliceAuditRecorder) Entries() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditEntry(nil), r.entries...)
}
