package storage

import (
	"context"
	"os"
	"path/filepath"
	"persistkit/internal/config"
	"persistkit/internal/infra/persistence/kv"
	"persistkit/internal/infra/persistence/memory"
	"persistkit/internal/infra/persistence/sqlite"
	"persistkit/pkg/domain"
	"persistkit/pkg/memo"
	"strings"
	"testing"
)

func newRegistry(t *testing.T) *domain.Registry {
	t.Helper()
	reg, err := domain.NewRegistry(memo.Type())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestOpenMemoryByDefault(t *testing.T) {
	b, err := Open(context.Background(), config.Storage{}, newRegistry(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := b.Store.(*memory.Store); !ok || b.Driver != config.DriverMemory {
		t.Fatalf("expected memory store, got %T (%s)", b.Store, b.Driver)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.db")
	b, err := Open(context.Background(), config.Storage{Driver: "SQLite", SQLitePath: path}, newRegistry(t))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = b.Close() }()
	s, ok := b.Store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", b.Store)
	}
	if s.Path() != path {
		t.Fatalf("unexpected path %q", s.Path())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestOpenFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	b, err := Open(context.Background(), config.Storage{Driver: config.DriverFile, FileRoot: root}, newRegistry(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := b.Store.(*kv.Store); !ok {
		t.Fatalf("expected *kv.Store, got %T", b.Store)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Fatalf("expected root directory: %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, config.Storage{Driver: "oracle"}, newRegistry(t)); err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
	if _, err := Open(ctx, config.Storage{Driver: config.DriverS3}, newRegistry(t)); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestNilBackendClose(t *testing.T) {
	var b *Backend
	if err := b.Close(); err != nil {
		t.Fatalf("nil backend close: %v", err)
	}
}
