// Package sqlite provides a SQLite-backed store using the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"persistkit/internal/infra/persistence/sqlstore"
	"persistkit/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring sqlite.Store adheres to the domain store interface.
var _ domain.Store = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "persistkit.db"

// Store persists entities to the entities table of a SQLite database file.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating if needed) the database at path and ensures the
// entities table exists.
func NewStore(ctx context.Context, path string, registry *domain.Registry) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{Store: sqlstore.New(db, sqlstore.SQLite, registry), path: path}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// dsn enables WAL and a busy timeout so reads outside a transaction do not
// fail while another connection holds the write lock.
func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
