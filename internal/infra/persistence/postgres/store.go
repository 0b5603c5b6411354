// Package postgres provides a Postgres-backed store reached through the pgx
// database/sql driver. Rows live in the shared entities table with JSONB
// payloads.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"persistkit/internal/infra/persistence/sqlstore"
	"persistkit/pkg/domain"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/sethvargo/go-retry"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Store = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN keeps parity with the storage defaults.
	DefaultDSN = "postgres://localhost/persistkit?sslmode=disable"

	defaultPingRetries = 5
	defaultPingBackoff = time.Second
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Config controls how the store connects.
type Config struct {
	DSN string
	// PingRetries bounds the connection attempts made while the server is
	// still starting. Zero selects the default.
	PingRetries uint64
	// PingBackoff is the base of the Fibonacci backoff between attempts.
	PingBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.DSN == "" {
		c.DSN = DefaultDSN
	}
	if c.PingRetries == 0 {
		c.PingRetries = defaultPingRetries
	}
	if c.PingBackoff <= 0 {
		c.PingBackoff = defaultPingBackoff
	}
	return c
}

// Store persists entities to Postgres.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a Postgres-backed store, waits for the server to answer a
// ping and ensures the entities table exists.
func NewStore(ctx context.Context, cfg Config, registry *domain.Registry) (*Store, error) {
	cfg = cfg.withDefaults()
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, cfg.DSN)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := ping(ctx, db, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{Store: sqlstore.New(db, sqlstore.Postgres, registry)}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func ping(ctx context.Context, db *sql.DB, cfg Config) error {
	b := retry.WithMaxRetries(cfg.PingRetries, retry.NewFibonacci(cfg.PingBackoff))
	if err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
