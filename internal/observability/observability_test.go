package observability

import (
	"context"
	"encoding/json"
	"expvar"
	"persistkit/internal/infra/persistence/memory"
	"persistkit/pkg/domain"
	"persistkit/pkg/memo"
	"persistkit/pkg/persistence"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg, "pk")
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "flush", true, 2*time.Millisecond)
	rec.Observe(ctx, "flush", false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)
	rec.Incr(ctx, persistence.EventIdentityMapHit)
	rec.Incr(ctx, persistence.EventIdentityMapHit)
	rec.Incr(ctx, "")

	if got := testutil.ToFloat64(rec.results.WithLabelValues("flush", "success")); got != 1 {
		t.Fatalf("expected one successful flush, got %v", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("flush", "error")); got != 1 {
		t.Fatalf("expected one failed flush, got %v", got)
	}
	if got := testutil.ToFloat64(rec.events.WithLabelValues(persistence.EventIdentityMapHit)); got != 2 {
		t.Fatalf("expected two identity map hits, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.durations); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
	expected := `
# HELP pk_events_total Identity map lookups, submitted actions and cancelled inserts.
# TYPE pk_events_total counter
pk_events_total{event="identity_map_hit"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "pk_events_total"); err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
	if _, err := NewPrometheusRecorder(reg, "pk"); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestExpvarRecorder(t *testing.T) {
	rec := NewExpvarRecorder("")
	ctx := context.Background()
	rec.Observe(ctx, "commit", true, 3*time.Millisecond)
	rec.Observe(ctx, "commit", false, time.Millisecond)
	rec.Incr(ctx, persistence.EventInsertCancelled)

	snap := rec.Snapshot()
	if snap.Results["commit"]["success"] != 1 || snap.Results["commit"]["error"] != 1 {
		t.Fatalf("unexpected results %v", snap.Results)
	}
	if snap.DurationsMS["commit"] < 4 {
		t.Fatalf("expected accumulated duration, got %v", snap.DurationsMS["commit"])
	}
	if snap.Events[persistence.EventInsertCancelled] != 1 {
		t.Fatalf("unexpected events %v", snap.Events)
	}
	snap.Events["mutated"] = 9
	if _, ok := rec.Snapshot().Events["mutated"]; ok {
		t.Fatalf("snapshot aliases recorder state")
	}

	v := expvar.Get(rec.Name())
	if v == nil {
		t.Fatalf("recorder not published")
	}
	var decoded ExpvarSnapshot
	if err := json.Unmarshal([]byte(v.String()), &decoded); err != nil {
		t.Fatalf("decode published value: %v", err)
	}
	if decoded.Results["commit"]["success"] != 1 {
		t.Fatalf("unexpected published results %v", decoded.Results)
	}
}

func TestRecorderObservesContext(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg, "ctx")
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	registry, _ := domain.NewRegistry(memo.Type())
	factory, _ := persistence.NewFactory(memory.NewStore(), registry, persistence.WithMetrics(rec))
	pc, _ := factory.CreateContext()
	ctx := context.Background()
	_ = pc.Transaction().Begin(ctx)
	m := &memo.Memo{ID: 1, Username: "Robbie"}
	_ = pc.Persist(ctx, m)
	_, _, _ = pc.Find(ctx, memo.TypeName, int64(1))
	if err := pc.Transaction().Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := testutil.ToFloat64(rec.events.WithLabelValues(persistence.EventIdentityMapHit)); got != 1 {
		t.Fatalf("expected identity map hit, got %v", got)
	}
	if got := testutil.ToFloat64(rec.events.WithLabelValues("action_insert")); got != 1 {
		t.Fatalf("expected one insert action, got %v", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("commit", "success")); got != 1 {
		t.Fatalf("expected commit observed, got %v", got)
	}
}
