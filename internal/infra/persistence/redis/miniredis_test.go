package redis

import (
	"context"
	"persistkit/internal/infra/persistence/kv"
	"persistkit/pkg/domain"
	"persistkit/pkg/memo"
	"persistkit/pkg/persistence"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func localBucket(t *testing.T) (*Bucket, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := New(context.Background(), Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, mr
}

func TestBucketGetPutDelete(t *testing.T) {
	b, mr := localBucket(t)
	ctx := context.Background()
	if _, ok, err := b.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss without error, got ok=%v err=%v", ok, err)
	}
	if err := b.Put(ctx, "memo/i:1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, err := mr.Get("memo/i:1"); err != nil || got != `{"a":1}` {
		t.Fatalf("unexpected server value %q %v", got, err)
	}
	data, ok, err := b.Get(ctx, "memo/i:1")
	if err != nil || !ok || string(data) != `{"a":1}` {
		t.Fatalf("unexpected get %q %v %v", data, ok, err)
	}
	if err := b.Delete(ctx, "memo/i:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("memo/i:1") {
		t.Fatalf("expected key deleted")
	}
}

func TestApplyWritesInOneTransaction(t *testing.T) {
	b, mr := localBucket(t)
	ctx := context.Background()
	if err := mr.Set("memo/i:2", `{"old":true}`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := b.Apply(ctx, nil); err != nil {
		t.Fatalf("empty apply: %v", err)
	}
	err := b.Apply(ctx, []kv.Write{
		{Key: "memo/i:1", Value: []byte(`{"a":1}`)},
		{Key: "memo/i:2", Delete: true},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got, _ := mr.Get("memo/i:1"); got != `{"a":1}` {
		t.Fatalf("unexpected value %q", got)
	}
	if mr.Exists("memo/i:2") {
		t.Fatalf("expected memo/i:2 deleted")
	}
}

func TestApplyFailsWhenServerDown(t *testing.T) {
	b, mr := localBucket(t)
	mr.Close()
	err := b.Apply(context.Background(), []kv.Write{{Key: "memo/i:1", Value: []byte(`{}`)}})
	if err == nil {
		t.Fatalf("expected error once the server is gone")
	}
}

func TestStoreBacksPersistenceContext(t *testing.T) {
	b, mr := localBucket(t)
	ctx := context.Background()
	reg, err := domain.NewRegistry(memo.Type())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := kv.New(b, reg, "entities/")
	factory, err := persistence.NewFactory(store, reg)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	pc, _ := factory.CreateContext()
	if err := pc.Transaction().Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := pc.Persist(ctx, &memo.Memo{ID: 1, Username: "Robbie", Contents: "hello"}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := pc.Persist(ctx, &memo.Memo{ID: 2, Username: "Alice", Contents: "bye"}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := pc.Transaction().Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = pc.Close(ctx)
	if !mr.Exists("entities/memo/i:1") || !mr.Exists("entities/memo/i:2") {
		t.Fatalf("expected both memos stored, keys %v", mr.Keys())
	}

	next, _ := factory.CreateContext()
	defer func() { _ = next.Close(ctx) }()
	if err := next.Transaction().Begin(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	found, ok, err := next.Find(ctx, memo.TypeName, int64(2))
	if err != nil || !ok {
		t.Fatalf("find: %v %v", ok, err)
	}
	if err := next.Remove(ctx, found); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := next.Transaction().Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if mr.Exists("entities/memo/i:2") || !mr.Exists("entities/memo/i:1") {
		t.Fatalf("unexpected keys after delete %v", mr.Keys())
	}
}
