package persistence

import (
	"context"
	"errors"
	"fmt"
	"persistkit/internal/infra/persistence/memory"
	"persistkit/pkg/domain"
	"persistkit/pkg/memo"
	"sync"
	"testing"
	"time"
)

// doc is a versioned entity used to exercise optimistic checks.
type doc struct {
	ID      string
	Title   string
	Version int64
}

func (d *doc) EntityType() string { return "doc" }

func (d *doc) PrimaryKey() any {
	if d.ID == "" {
		return nil
	}
	return d.ID
}

func (d *doc) SetPrimaryKey(id any) error {
	s, ok := id.(string)
	if !ok {
		return domain.ErrInvalidKey
	}
	d.ID = s
	return nil
}

func (d *doc) Values() domain.Values {
	return domain.Values{"title": d.Title, "version": d.Version}
}

func (d *doc) Apply(v domain.Values) error {
	for name, val := range v {
		switch name {
		case "title":
			d.Title, _ = val.(string)
		case "version":
			d.Version, _ = val.(int64)
		default:
			return fmt.Errorf("%w: doc has no field %q", domain.ErrInvalidValue, name)
		}
	}
	return nil
}

func docType() domain.Type {
	return domain.Type{
		Name: "doc",
		Fields: []domain.Field{
			{Name: "title", Kind: domain.KindString},
			{Name: "version", Kind: domain.KindInt},
		},
		New:          func() domain.Entity { return &doc{} },
		VersionField: "version",
	}
}

// recordingStore wraps the memory store, counting reads and logging writes.
// A non-nil fail hook is consulted before each write.
type recordingStore struct {
	inner *memory.Store

	mu    sync.Mutex
	finds int
	ops   []string
	fail  func(op string, key domain.Key) error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{inner: memory.NewStore()}
}

func (s *recordingStore) Find(ctx context.Context, key domain.Key) (domain.Record, bool, error) {
	s.mu.Lock()
	s.finds++
	s.mu.Unlock()
	return s.inner.Find(ctx, key)
}

func (s *recordingStore) Begin(ctx context.Context) (domain.StoreTx, error) {
	tx, err := s.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingTx{store: s, inner: tx}, nil
}

func (s *recordingStore) record(op string, key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(op, key); err != nil {
			return err
		}
	}
	s.ops = append(s.ops, op+" "+key.String())
	return nil
}

func (s *recordingStore) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

func (s *recordingStore) writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *recordingStore) resetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

type recordingTx struct {
	store *recordingStore
	inner domain.StoreTx
}

func (t *recordingTx) Insert(ctx context.Context, rec domain.Record) error {
	if err := t.store.record("insert", rec.Key); err != nil {
		return err
	}
	return t.inner.Insert(ctx, rec)
}

func (t *recordingTx) Update(ctx context.Context, key domain.Key, changes domain.Values) error {
	if err := t.store.record("update", key); err != nil {
		return err
	}
	return t.inner.Update(ctx, key, changes)
}

func (t *recordingTx) Delete(ctx context.Context, key domain.Key) error {
	if err := t.store.record("delete", key); err != nil {
		return err
	}
	return t.inner.Delete(ctx, key)
}

func (t *recordingTx) Find(ctx context.Context, key domain.Key) (domain.Record, bool, error) {
	t.store.mu.Lock()
	t.store.finds++
	t.store.mu.Unlock()
	return t.inner.Find(ctx, key)
}

func (t *recordingTx) Commit(ctx context.Context) error { return t.inner.Commit(ctx) }

func (t *recordingTx) Rollback(ctx context.Context) error { return t.inner.Rollback(ctx) }

type countingMetrics struct {
	mu      sync.Mutex
	events  map[string]int
	observe map[string]int
	failed  map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{events: map[string]int{}, observe: map[string]int{}, failed: map[string]int{}}
}

func (m *countingMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observe[op]++
	if !success {
		m.failed[op]++
	}
}

func (m *countingMetrics) Incr(_ context.Context, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event]++
}

func (m *countingMetrics) event(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[name]
}

type fixture struct {
	store   *recordingStore
	factory *Factory
	metrics *countingMetrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg, err := domain.NewRegistry(memo.Type(), docType())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := newRecordingStore()
	metrics := newCountingMetrics()
	opts = append([]Option{WithMetrics(metrics)}, opts...)
	f, err := NewFactory(store, reg, opts...)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return &fixture{store: store, factory: f, metrics: metrics}
}

func (f *fixture) open(t *testing.T) *Context {
	t.Helper()
	pc, err := f.factory.CreateContext()
	if err != nil {
		t.Fatalf("create context: %v", err)
	}
	t.Cleanup(func() {
		if pc.IsOpen() {
			_ = pc.Close(context.Background())
		}
	})
	return pc
}

// seed commits the given entities through a throwaway context.
func (f *fixture) seed(t *testing.T, entities ...domain.Entity) {
	t.Helper()
	ctx := context.Background()
	pc := f.open(t)
	if err := pc.Transaction().Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, e := range entities {
		if err := pc.Persist(ctx, e); err != nil {
			t.Fatalf("persist %v: %v", e, err)
		}
	}
	if err := pc.Transaction().Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := pc.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.store.resetWrites()
}

func begin(t *testing.T, pc *Context) {
	t.Helper()
	if err := pc.Transaction().Begin(context.Background()); err != nil {
		t.Fatalf("begin: %v", err)
	}
}

func commit(t *testing.T, pc *Context) {
	t.Helper()
	if err := pc.Transaction().Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func findMemo(t *testing.T, pc *Context, id any) *memo.Memo {
	t.Helper()
	e, ok, err := pc.Find(context.Background(), memo.TypeName, id)
	if err != nil {
		t.Fatalf("find memo %v: %v", id, err)
	}
	if !ok {
		return nil
	}
	return e.(*memo.Memo)
}

var errInjected = errors.New("injected store failure")
