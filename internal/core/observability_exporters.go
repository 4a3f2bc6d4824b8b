package core

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes per-operation timing totals, result
// counters and sweep counters via expvar.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	sweeps    map[string]int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Sweeps      map[string]int64            `json:"sweeps_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder publishes a recorder under name, generating a
// unique name when empty.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("slamaty_service_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		sweeps:    make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Snapshot returns a copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[op] = cpy
	}
	sweeps := make(map[string]int64, len(r.sweeps))
	for k, v := range r.sweeps {
		sweeps[k] = v
	}
	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		Sweeps:      sweeps,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records a service operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := "error"
	if success {
		status = "success"
	}

	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status]++
	r.mu.Unlock()
}

// ObserveSweep accumulates escalation sweep counters.
func (r *ExpvarMetricsRecorder) ObserveSweep(_ context.Context, report SweepReport) {
	r.mu.Lock()
	r.sweeps["runs"]++
	r.sweeps["processed"] += int64(report.Processed)
	r.sweeps["escalated"] += int64(report.Escalated)
	r.sweeps["reminded"] += int64(report.Reminded)
	r.sweeps["rounds_updated"] += int64(report.RoundsUpdated)
	r.sweeps["errors"] += int64(len(report.Errors))
	r.mu.Unlock()
}

// PrometheusMetricsRecorder exports operation latency and sweep counters to a
// Prometheus registerer.
type PrometheusMetricsRecorder struct {
	operations *prometheus.HistogramVec
	sweepItems *prometheus.CounterVec
	sweepRuns  prometheus.Counter
}

// NewPrometheusMetricsRecorder registers the collectors on reg, or on the
// default registerer when reg is nil. Collectors that are already registered
// are reused.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slamaty_operation_duration_seconds",
			Help:    "Latency of service operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slamaty_sweep_items_total",
			Help: "Entities touched by escalation sweeps, by outcome.",
		}, []string{"outcome"}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slamaty_sweep_runs_total",
			Help: "Completed escalation sweeps.",
		}),
	}
	var err error
	rec.operations, err = register(reg, rec.operations)
	if err != nil {
		return nil, err
	}
	rec.sweepItems, err = register(reg, rec.sweepItems)
	if err != nil {
		return nil, err
	}
	rec.sweepRuns, err = register(reg, rec.sweepRuns)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Observe records a service operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// ObserveSweep adds the counters of one escalation sweep.
func (r *PrometheusMetricsRecorder) ObserveSweep(_ context.Context, report SweepReport) {
	r.sweepRuns.Inc()
	r.sweepItems.WithLabelValues("processed").Add(float64(report.Processed))
	r.sweepItems.WithLabelValues("escalated").Add(float64(report.Escalated))
	r.sweepItems.WithLabelValues("reminded").Add(float64(report.Reminded))
	r.sweepItems.WithLabelValues("round_updated").Add(float64(report.RoundsUpdated))
	r.sweepItems.WithLabelValues("error").Add(float64(len(report.Errors)))
}

// MultiMetricsRecorder fans observations out to several recorders.
type MultiMetricsRecorder []MetricsRecorder

// Observe implements MetricsRecorder.
func (m MultiMetricsRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, success, duration)
	}
}

// ObserveSweep forwards to every recorder that observes sweeps.
func (m MultiMetricsRecorder) ObserveSweep(ctx context.Context, report SweepReport) {
	for _, r := range m {
		if observer, ok := r.(SweepObserver); ok {
			observer.ObserveSweep(ctx, report)
		}
	}
}

// JSONTraceEntry is one serialized span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes spans as JSON lines and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer constructs a tracer writing to w. A nil writer only retains
// spans.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	return &JSONTraceTracer{enc: enc}
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	status := "success"
	var errMsg string
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}
	ended := time.Now().UTC()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     status,
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		Error:      errMsg,
		StartedAt:  s.started,
		EndedAt:    ended,
	}

	s.tracer.mu.Lock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
	s.tracer.mu.Unlock()
}
