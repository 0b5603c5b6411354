package persistence

import (
	"context"
	"errors"
	"persistkit/pkg/domain"
	"persistkit/pkg/memo"
	"testing"

	"github.com/google/uuid"
)

type failingBeginStore struct{ *recordingStore }

func (s failingBeginStore) Begin(context.Context) (domain.StoreTx, error) {
	return nil, errInjected
}

func TestTransactionLifecycle(t *testing.T) {
	f := newFixture(t)
	pc := f.open(t)
	ctx := context.Background()
	tx := pc.Transaction()

	if tx.IsActive() || tx.ID() != uuid.Nil {
		t.Fatalf("fresh transaction should be inactive with a nil id")
	}
	if err := tx.SetRollbackOnly(); !errors.Is(err, domain.ErrTransactionRequired) {
		t.Fatalf("expected ErrTransactionRequired, got %v", err)
	}
	begin(t, pc)
	first := tx.ID()
	if err := tx.Begin(ctx); !errors.Is(err, domain.ErrTransactionActive) {
		t.Fatalf("expected ErrTransactionActive, got %v", err)
	}
	commit(t, pc)
	if tx.IsActive() {
		t.Fatalf("commit should end the transaction")
	}
	begin(t, pc)
	if tx.ID() == first {
		t.Fatalf("each Begin should issue a new id")
	}
	if err := tx.SetRollbackOnly(); err != nil {
		t.Fatalf("set rollback-only: %v", err)
	}
	if err := tx.Commit(ctx); !errors.Is(err, domain.ErrRollbackOnly) {
		t.Fatalf("expected ErrRollbackOnly, got %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if tx.RollbackOnly() || tx.IsActive() {
		t.Fatalf("rollback should reset the transaction")
	}
}

func TestCommitKeepsEntitiesManaged(t *testing.T) {
	f := newFixture(t)
	pc := f.open(t)
	begin(t, pc)
	m := &memo.Memo{ID: 1, Username: "a"}
	if err := pc.Persist(context.Background(), m); err != nil {
		t.Fatalf("persist: %v", err)
	}
	commit(t, pc)
	if pc.StateOf(m) != StateManaged {
		t.Fatalf("committed entity should stay managed, got %s", pc.StateOf(m))
	}

	// a later transaction on the same context sees the seated snapshot
	begin(t, pc)
	m.Contents = "later"
	commit(t, pc)
	if w := f.store.writes(); len(w) != 2 || w[1] != "update memo#1" {
		t.Fatalf("expected insert then update, got %v", w)
	}
}

func TestRollbackDetachesAndDiscards(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &memo.Memo{ID: 1, Username: "a"})
	pc := f.open(t)
	ctx := context.Background()
	begin(t, pc)
	m := findMemo(t, pc, 1)
	m.Username = "b"
	if err := pc.Persist(ctx, &memo.Memo{ID: 2, Username: "c"}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := pc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := pc.Transaction().Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if pc.StateOf(m) != StateDetached || pc.Managed() != 0 {
		t.Fatalf("rollback should detach managed entities")
	}
	fresh := f.open(t)
	if got := findMemo(t, fresh, 1); got.Username != "a" {
		t.Fatalf("flushed but rolled back update leaked: %+v", got)
	}
	if got := findMemo(t, fresh, 2); got != nil {
		t.Fatalf("flushed but rolled back insert leaked")
	}
}

func TestBeginFailureIsWrapped(t *testing.T) {
	reg, _ := domain.NewRegistry(memo.Type())
	factory, err := NewFactory(failingBeginStore{newRecordingStore()}, reg)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	pc, _ := factory.CreateContext()
	if err := pc.Transaction().Begin(context.Background()); !errors.Is(err, errInjected) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if pc.Transaction().IsActive() {
		t.Fatalf("failed begin must not activate the transaction")
	}
}

func TestOperationsAreObserved(t *testing.T) {
	f := newFixture(t)
	pc := f.open(t)
	ctx := context.Background()
	begin(t, pc)
	if err := pc.Persist(ctx, &memo.Memo{ID: 1, Username: "a"}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	_ = pc.Persist(ctx, &memo.Memo{ID: 1, Username: "dup"})
	commit(t, pc)

	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	if f.metrics.observe["persist"] != 2 || f.metrics.failed["persist"] != 1 {
		t.Fatalf("unexpected persist observations %v / %v", f.metrics.observe, f.metrics.failed)
	}
	if f.metrics.observe["commit"] != 1 || f.metrics.observe["begin"] != 1 || f.metrics.observe["flush"] != 0 {
		t.Fatalf("unexpected transaction observations %v", f.metrics.observe)
	}
	if f.metrics.events["action_insert"] != 1 {
		t.Fatalf("expected one submitted insert, got %v", f.metrics.events)
	}
}

func TestClearIsObserved(t *testing.T) {
	f := newFixture(t)
	pc := f.open(t)
	ctx := context.Background()
	if err := pc.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := pc.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := pc.Clear(ctx); !errors.Is(err, domain.ErrContextClosed) {
		t.Fatalf("expected closed context error, got %v", err)
	}

	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	if f.metrics.observe["clear"] != 2 || f.metrics.failed["clear"] != 1 {
		t.Fatalf("unexpected clear observations %v / %v", f.metrics.observe, f.metrics.failed)
	}
}
