// Package sqlstore maps the store boundary onto a single entities table reached
// through database/sql. Rows hold one JSON payload per entity, keyed by type
// name and encoded primary key. Dialects only differ in placeholders and the
// payload column type.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"persistkit/pkg/domain"
	"strconv"
)

// Compile-time contract assertion ensuring sqlstore.Store adheres to the domain store interface.
var _ domain.Store = (*Store)(nil)

// TableName is the table every SQL-backed store writes to.
const TableName = "entities"

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	PayloadType string
}

// Supported dialects.
var (
	SQLite = Dialect{
		Name:        "sqlite",
		Placeholder: func(int) string { return "?" },
		PayloadType: "TEXT",
	}
	Postgres = Dialect{
		Name:        "postgres",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		PayloadType: "JSONB",
	}
)

type statements struct {
	create string
	find   string
	insert string
	update string
	delete string
	count  string
}

func buildStatements(d Dialect) statements {
	p := d.Placeholder
	return statements{
		create: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		entity_type TEXT NOT NULL,
		entity_key TEXT NOT NULL,
		payload %s NOT NULL,
		PRIMARY KEY (entity_type, entity_key)
	)`, TableName, d.PayloadType),
		find:   fmt.Sprintf(`SELECT payload FROM %s WHERE entity_type=%s AND entity_key=%s`, TableName, p(1), p(2)),
		insert: fmt.Sprintf(`INSERT INTO %s (entity_type, entity_key, payload) VALUES (%s,%s,%s)`, TableName, p(1), p(2), p(3)),
		update: fmt.Sprintf(`UPDATE %s SET payload=%s WHERE entity_type=%s AND entity_key=%s`, TableName, p(1), p(2), p(3)),
		delete: fmt.Sprintf(`DELETE FROM %s WHERE entity_type=%s AND entity_key=%s`, TableName, p(1), p(2)),
		count:  fmt.Sprintf(`SELECT entity_type FROM %s`, TableName),
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a domain.Store over a database/sql handle.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	registry *domain.Registry
	stmts    statements
}

// New wraps db. The registry supplies the declared fields used to encode and
// decode payloads.
func New(db *sql.DB, dialect Dialect, registry *domain.Registry) *Store {
	return &Store{db: db, dialect: dialect, registry: registry, stmts: buildStatements(dialect)}
}

// EnsureSchema creates the entities table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.stmts.create); err != nil {
		return fmt.Errorf("ensure %s table: %w", TableName, err)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the SQL dialect in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Len counts stored rows.
func (s *Store) Len(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, s.stmts.count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", TableName, err)
	}
	defer func() { _ = rows.Close() }()
	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("count %s: %w", TableName, err)
	}
	return n, nil
}

// Find implements domain.Store.
func (s *Store) Find(ctx context.Context, key domain.Key) (domain.Record, bool, error) {
	return s.find(ctx, s.db, key)
}

func (s *Store) find(ctx context.Context, q querier, key domain.Key) (domain.Record, bool, error) {
	typ, err := s.registry.Lookup(key.Type)
	if err != nil {
		return domain.Record{}, false, err
	}
	var payload []byte
	err = q.QueryRowContext(ctx, s.stmts.find, key.Type, key.EncodeID()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("select %s: %w", key, err)
	}
	values, err := domain.DecodeValues(typ, payload)
	if err != nil {
		return domain.Record{}, false, err
	}
	return domain.Record{Key: key, Values: values}, true, nil
}

func (s *Store) encode(key domain.Key, v domain.Values) (string, error) {
	typ, err := s.registry.Lookup(key.Type)
	if err != nil {
		return "", err
	}
	data, err := domain.EncodeValues(typ, v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Begin implements domain.Store.
func (s *Store) Begin(ctx context.Context) (domain.StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &transaction{store: s, tx: tx}, nil
}

type transaction struct {
	store *Store
	tx    *sql.Tx
}

func (t *transaction) Find(ctx context.Context, key domain.Key) (domain.Record, bool, error) {
	return t.store.find(ctx, t.tx, key)
}

func (t *transaction) Insert(ctx context.Context, rec domain.Record) error {
	_, exists, err := t.store.find(ctx, t.tx, rec.Key)
	if err != nil {
		return err
	}
	if exists {
		return &domain.DuplicateKeyError{Key: rec.Key}
	}
	payload, err := t.store.encode(rec.Key, rec.Values)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, t.store.stmts.insert, rec.Key.Type, rec.Key.EncodeID(), payload); err != nil {
		return fmt.Errorf("insert %s: %w", rec.Key, err)
	}
	return nil
}

// Update rewrites the payload with changes applied over the stored values.
func (t *transaction) Update(ctx context.Context, key domain.Key, changes domain.Values) error {
	current, exists, err := t.store.find(ctx, t.tx, key)
	if err != nil {
		return err
	}
	if !exists {
		return &domain.NotFoundError{Key: key}
	}
	for name, v := range changes {
		current.Values[name] = v
	}
	payload, err := t.store.encode(key, current.Values)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, t.store.stmts.update, payload, key.Type, key.EncodeID())
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (t *transaction) Delete(ctx context.Context, key domain.Key) error {
	res, err := t.tx.ExecContext(ctx, t.store.stmts.delete, key.Type, key.EncodeID())
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return requireRow(res, key)
}

func requireRow(res sql.Result, key domain.Key) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", key, err)
	}
	if n == 0 {
		return &domain.NotFoundError{Key: key}
	}
	return nil
}

func (t *transaction) Commit(_ context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *transaction) Rollback(_ context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
