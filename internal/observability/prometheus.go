// Package observability provides persistence.MetricsRecorder implementations.
package observability

import (
	"context"
	"persistkit/pkg/persistence"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var _ persistence.MetricsRecorder = (*PrometheusRecorder)(nil)

// PrometheusRecorder exports operation latencies as a histogram and engine
// events as a counter.
type PrometheusRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	events    *prometheus.CounterVec
}

// NewPrometheusRecorder registers the collectors on reg. A nil reg uses the
// default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of persistence context operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Persistence context operations by outcome.",
		}, []string{"operation", "status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Identity map lookups, submitted actions and cancelled inserts.",
		}, []string{"event"}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.results, r.events} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements persistence.MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status(success)).Inc()
}

// Incr implements persistence.MetricsRecorder.
func (r *PrometheusRecorder) Incr(_ context.Context, event string) {
	if event == "" {
		return
	}
	r.events.WithLabelValues(event).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
