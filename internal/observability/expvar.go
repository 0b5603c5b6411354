package observability

import (
	"context"
	"expvar"
	"fmt"
	"persistkit/pkg/persistence"
	"sync"
	"sync/atomic"
	"time"
)

var (
	_         persistence.MetricsRecorder = (*ExpvarRecorder)(nil)
	expvarSeq uint64
)

// ExpvarRecorder publishes aggregate timings, outcome counters and event
// counts via expvar for deployments without a metrics scraper.
type ExpvarRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	events    map[string]int64
}

// ExpvarSnapshot is a read-only view of the recorded metrics.
type ExpvarSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Events      map[string]int64            `json:"events_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarRecorder publishes a recorder under name. An empty name gets a
// generated unique one. expvar names are process-global, so reusing a name
// panics.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("persistkit_metrics_%d", id)
	}
	rec := &ExpvarRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		events:    make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarRecorder) Name() string {
	return r.name
}

// Snapshot copies the aggregated metrics.
func (r *ExpvarRecorder) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for s, count := range statusCounts {
			cpy[s] = count
		}
		results[op] = cpy
	}
	events := make(map[string]int64, len(r.events))
	for e, n := range r.events {
		events[e] = n
	}
	return ExpvarSnapshot{
		DurationsMS: durations,
		Results:     results,
		Events:      events,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe implements persistence.MetricsRecorder.
func (r *ExpvarRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)

	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status(success)]++
	r.mu.Unlock()
}

// Incr implements persistence.MetricsRecorder.
func (r *ExpvarRecorder) Incr(_ context.Context, event string) {
	if event == "" {
		return
	}
	r.mu.Lock()
	r.events[event]++
	r.mu.Unlock()
}
