package sqlstore

import (
	"context"
	"errors"
	"persistkit/internal/infra/persistence/postgres/testutil"
	"persistkit/pkg/domain"
	"persistkit/pkg/memo"
	"testing"
)

func newStubStore(t *testing.T, dialect Dialect) (*Store, *testutil.StubConn) {
	t.Helper()
	reg, err := domain.NewRegistry(memo.Type())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	db, conn := testutil.NewStubDB()
	s := New(db, dialect, reg)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s, conn
}

func memoRecord(id int64, username string) domain.Record {
	return domain.Record{
		Key:    domain.Key{Type: memo.TypeName, ID: id},
		Values: domain.Values{memo.FieldUsername: username, memo.FieldContents: ""},
	}
}

func TestStoreCRUDAcrossDialects(t *testing.T) {
	for _, dialect := range []Dialect{SQLite, Postgres} {
		t.Run(dialect.Name, func(t *testing.T) {
			ctx := context.Background()
			s, conn := newStubStore(t, dialect)
			rec := memoRecord(1, "Robbie")

			tx, err := s.Begin(ctx)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			if err := tx.Insert(ctx, rec); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := tx.Insert(ctx, rec); !errors.Is(err, domain.ErrDuplicateKey) {
				t.Fatalf("expected ErrDuplicateKey, got %v", err)
			}
			if err := tx.Update(ctx, rec.Key, domain.Values{memo.FieldUsername: "Update"}); err != nil {
				t.Fatalf("update: %v", err)
			}
			if err := tx.Commit(ctx); err != nil {
				t.Fatalf("commit: %v", err)
			}

			got, ok, err := s.Find(ctx, rec.Key)
			if err != nil || !ok {
				t.Fatalf("find: %v %v", ok, err)
			}
			if got.Values[memo.FieldUsername] != "Update" {
				t.Fatalf("expected updated username, got %v", got.Values)
			}
			if rows := conn.Rows(TableName); len(rows) != 1 || rows[0]["entity_key"] != "i:1" {
				t.Fatalf("unexpected table rows %v", rows)
			}
			if n, err := s.Len(ctx); err != nil || n != 1 {
				t.Fatalf("expected one row, got %d (%v)", n, err)
			}

			tx, _ = s.Begin(ctx)
			if err := tx.Delete(ctx, rec.Key); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := tx.Delete(ctx, rec.Key); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound on second delete, got %v", err)
			}
			if err := tx.Update(ctx, rec.Key, domain.Values{memo.FieldUsername: "x"}); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound on update of a deleted row, got %v", err)
			}
			if err := tx.Commit(ctx); err != nil {
				t.Fatalf("commit: %v", err)
			}
			if _, ok, _ := s.Find(ctx, rec.Key); ok {
				t.Fatalf("expected row to be deleted")
			}
		})
	}
}

func TestStoreRollback(t *testing.T) {
	ctx := context.Background()
	s, _ := newStubStore(t, Postgres)
	tx, _ := s.Begin(ctx)
	if err := tx.Insert(ctx, memoRecord(2, "a")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("second rollback should be tolerated: %v", err)
	}
	if _, ok, _ := s.Find(ctx, memoRecord(2, "a").Key); ok {
		t.Fatalf("rolled back insert is visible")
	}
}

func TestStoreSurfacesDriverErrors(t *testing.T) {
	ctx := context.Background()
	s, conn := newStubStore(t, SQLite)
	conn.FailBegin = true
	if _, err := s.Begin(ctx); err == nil {
		t.Fatalf("expected begin failure")
	}
	conn.FailBegin = false
	conn.FailTables = map[string]bool{TableName: true}
	if _, _, err := s.Find(ctx, memoRecord(1, "a").Key); err == nil {
		t.Fatalf("expected query failure")
	}
	conn.FailTables = nil
	conn.FailCommit = true
	tx, _ := s.Begin(ctx)
	if err := tx.Commit(ctx); err == nil {
		t.Fatalf("expected commit failure")
	}
	if _, _, err := s.Find(ctx, domain.Key{Type: "unknown", ID: int64(1)}); !errors.Is(err, domain.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestPlaceholders(t *testing.T) {
	pg := buildStatements(Postgres)
	if pg.update != `UPDATE entities SET payload=$1 WHERE entity_type=$2 AND entity_key=$3` {
		t.Fatalf("unexpected postgres update %q", pg.update)
	}
	lite := buildStatements(SQLite)
	if lite.find != `SELECT payload FROM entities WHERE entity_type=? AND entity_key=?` {
		t.Fatalf("unexpected sqlite find %q", lite.find)
	}
}
