package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the logging surface used by the engine. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder receives operation timings and engine events such as
// identity map hits and submitted actions.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	Incr(ctx context.Context, event string)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) Incr(context.Context, string)                         {}

// Engine event names passed to MetricsRecorder.Incr.
const (
	EventIdentityMapHit  = "identity_map_hit"
	EventIdentityMapMiss = "identity_map_miss"
	EventInsertCancelled = "insert_cancelled"
)

// MergeMissingPolicy decides what Merge does when neither the identity map
// nor the store knows the key.
type MergeMissingPolicy int

const (
	// MergeMissingInsert treats the merge as an implicit persist.
	MergeMissingInsert MergeMissingPolicy = iota
	// MergeMissingFail returns a NotFoundError.
	MergeMissingFail
)

func (p MergeMissingPolicy) String() string {
	if p == MergeMissingFail {
		return "fail"
	}
	return "insert"
}

// ParseMergeMissing accepts "insert" (or empty) and "fail".
func ParseMergeMissing(s string) (MergeMissingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "insert":
		return MergeMissingInsert, nil
	case "fail":
		return MergeMissingFail, nil
	default:
		return MergeMissingInsert, fmt.Errorf("unknown merge policy %q", s)
	}
}

type options struct {
	logger       Logger
	metrics      MetricsRecorder
	flushOrder   FlushOrder
	mergeMissing MergeMissingPolicy
}

func defaultOptions() options {
	return options{logger: noopLogger{}, metrics: noopMetrics{}}
}

// Option configures a Factory and the contexts it creates.
type Option func(*options)

// WithLogger installs a logger. A nil logger disables logging.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l == nil {
			l = noopLogger{}
		}
		o.logger = l
	}
}

// WithMetrics installs a metrics recorder. A nil recorder disables metrics.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m == nil {
			m = noopMetrics{}
		}
		o.metrics = m
	}
}

// WithFlushOrder selects the queue ordering used at flush.
func WithFlushOrder(order FlushOrder) Option {
	return func(o *options) { o.flushOrder = order }
}

// WithMergeMissing selects the merge policy for unknown keys.
func WithMergeMissing(p MergeMissingPolicy) Option {
	return func(o *options) { o.mergeMissing = p }
}
