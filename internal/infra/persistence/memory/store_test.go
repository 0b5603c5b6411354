package memory

import (
	"context"
	"errors"
	"persistkit/pkg/domain"
	"testing"
)

func memoKey(t *testing.T, id int64) domain.Key {
	t.Helper()
	k, err := domain.NewKey("memo", id)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	return k
}

func TestStoreTransactionCommitAndSnapshots(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	key := memoKey(t, 1)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Insert(ctx, domain.Record{Key: key, Values: domain.Values{"username": "Robbie"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, ok, _ := store.Find(ctx, key); ok {
		t.Fatalf("uncommitted insert must not be visible outside the transaction")
	}
	if rec, ok, err := tx.Find(ctx, key); err != nil || !ok || rec.Values["username"] != "Robbie" {
		t.Fatalf("transaction must see its own insert: %v %v %v", rec, ok, err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected persisted row")
	}

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if store.Len() != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if rec, ok, _ := store.Find(ctx, key); !ok || rec.Values["username"] != "Robbie" {
		t.Fatalf("expected restored state, got %v", rec)
	}
}

func TestStoreRollbackDiscardsChanges(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	tx, _ := store.Begin(ctx)
	if err := tx.Insert(ctx, domain.Record{Key: memoKey(t, 2), Values: domain.Values{}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("second rollback must be a no-op: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("rollback leaked a row")
	}
	if err := tx.Insert(ctx, domain.Record{Key: memoKey(t, 3)}); !errors.Is(err, errTxDone) {
		t.Fatalf("expected errTxDone, got %v", err)
	}
}

func TestStoreWriteErrors(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	key := memoKey(t, 1)
	tx, _ := store.Begin(ctx)
	if err := tx.Update(ctx, key, domain.Values{"username": "x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
	if err := tx.Delete(ctx, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
	if err := tx.Insert(ctx, domain.Record{Key: key, Values: domain.Values{"username": "a"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Insert(ctx, domain.Record{Key: key}); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if err := tx.Update(ctx, key, domain.Values{"username": "b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rec, _, _ := store.Find(ctx, key)
	if rec.Values["username"] != "b" {
		t.Fatalf("expected updated value, got %v", rec.Values)
	}
}

func TestStoreCommitConflict(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	key := memoKey(t, 7)
	first, _ := store.Begin(ctx)
	second, _ := store.Begin(ctx)
	if err := first.Insert(ctx, domain.Record{Key: key}); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	if err := second.Insert(ctx, domain.Record{Key: key}); err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if err := first.Commit(ctx); err != nil {
		t.Fatalf("commit first: %v", err)
	}
	if err := second.Commit(ctx); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected conflicting commit to fail with ErrDuplicateKey, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected exactly one row after conflict")
	}
}

func TestStoreFindReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	key := memoKey(t, 1)
	store.ImportState(Snapshot{Rows: []domain.Record{{Key: key, Values: domain.Values{"blob": []byte("abc")}}}})
	rec, _, _ := store.Find(ctx, key)
	rec.Values["blob"].([]byte)[0] = 'z'
	again, _, _ := store.Find(ctx, key)
	if string(again.Values["blob"].([]byte)) != "abc" {
		t.Fatalf("find leaked internal state: %q", again.Values["blob"])
	}
}
