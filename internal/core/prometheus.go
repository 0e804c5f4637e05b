package core

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports operation latency and outcome counters.
type PrometheusMetricsRecorder struct {
	duration *prometheus.HistogramVec
	results  *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the collectors with reg. Collectors
// already registered under the same names are reused.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer, namespace string) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "farmcore"
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of farmcore service operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Completed farmcore service operations by status.",
	}, []string{"operation", "status"})

	var err error
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if results, err = register(reg, results); err != nil {
		return nil, err
	}
	return &PrometheusMetricsRecorder{duration: duration, results: results}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := string(AuditStatusSuccess)
	if !success {
		status = string(AuditStatusError)
	}
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}
