// Package memory provides an in-memory implementation of the store boundary
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"persistkit/pkg/domain"
	"sort"
	"sync"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain store interface.
var _ domain.Store = (*Store)(nil)

var errTxDone = errors.New("memory: transaction already finished")

type memoryState struct {
	rows map[domain.Key]domain.Values
}

func newMemoryState() memoryState {
	return memoryState{rows: make(map[domain.Key]domain.Values)}
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{rows: make(map[domain.Key]domain.Values, len(s.rows))}
	for k, v := range s.rows {
		cloned.rows[k] = v.Clone()
	}
	return cloned
}

// Snapshot captures a point-in-time clone of the store state, ordered by key.
type Snapshot struct {
	Rows []domain.Record
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	rows := make([]domain.Record, 0, len(state.rows))
	for k, v := range state.rows {
		rows = append(rows, domain.Record{Key: k, Values: v.Clone()})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key.Compare(rows[j].Key) < 0 })
	return Snapshot{Rows: rows}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for _, rec := range s.Rows {
		state.rows[rec.Key] = rec.Values.Clone()
	}
	return state
}

// Store provides an in-memory transactional store. Each transaction works on
// a private copy of the state and replays its changes onto the live state at
// commit, failing when a concurrent commit invalidated one of them.
type Store struct {
	mu    sync.RWMutex
	state memoryState
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{state: newMemoryState()}
}

// ExportState clones the current store state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.rows)
}

// Find implements domain.Store.
func (s *Store) Find(_ context.Context, key domain.Key) (domain.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.find(key)
}

func (s memoryState) find(key domain.Key) (domain.Record, bool, error) {
	v, ok := s.rows[key]
	if !ok {
		return domain.Record{}, false, nil
	}
	return domain.Record{Key: key, Values: v.Clone()}, true, nil
}

// Begin implements domain.Store.
func (s *Store) Begin(_ context.Context) (domain.StoreTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &transaction{store: s, state: s.state.clone()}, nil
}

type changeAction int

const (
	actionInsert changeAction = iota
	actionUpdate
	actionDelete
)

type change struct {
	action changeAction
	key    domain.Key
	values domain.Values
}

// transaction records changes against a private copy of the state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []change
	done    bool
}

func (tx *transaction) recordChange(c change) {
	tx.changes = append(tx.changes, c)
}

func (s memoryState) apply(c change) error {
	switch c.action {
	case actionInsert:
		if _, exists := s.rows[c.key]; exists {
			return &domain.DuplicateKeyError{Key: c.key}
		}
		s.rows[c.key] = c.values.Clone()
	case actionUpdate:
		row, exists := s.rows[c.key]
		if !exists {
			return &domain.NotFoundError{Key: c.key}
		}
		for name, v := range c.values.Clone() {
			row[name] = v
		}
	case actionDelete:
		if _, exists := s.rows[c.key]; !exists {
			return &domain.NotFoundError{Key: c.key}
		}
		delete(s.rows, c.key)
	}
	return nil
}

func (tx *transaction) do(c change) error {
	if tx.done {
		return errTxDone
	}
	if err := tx.state.apply(c); err != nil {
		return err
	}
	tx.recordChange(c)
	return nil
}

func (tx *transaction) Insert(_ context.Context, rec domain.Record) error {
	return tx.do(change{action: actionInsert, key: rec.Key, values: rec.Values})
}

func (tx *transaction) Update(_ context.Context, key domain.Key, changes domain.Values) error {
	return tx.do(change{action: actionUpdate, key: key, values: changes})
}

func (tx *transaction) Delete(_ context.Context, key domain.Key) error {
	return tx.do(change{action: actionDelete, key: key})
}

func (tx *transaction) Find(_ context.Context, key domain.Key) (domain.Record, bool, error) {
	if tx.done {
		return domain.Record{}, false, errTxDone
	}
	return tx.state.find(key)
}

// Commit replays the recorded changes onto the live state atomically.
func (tx *transaction) Commit(_ context.Context) error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	if len(tx.changes) == 0 {
		return nil
	}
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	for _, c := range tx.changes {
		if err := next.apply(c); err != nil {
			return fmt.Errorf("memory: commit conflict: %w", err)
		}
	}
	s.state = next
	return nil
}

func (tx *transaction) Rollback(_ context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.changes = nil
	return nil
}
