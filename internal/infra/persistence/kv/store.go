// Package kv adapts byte-oriented key-value backends (object storage, Redis)
// to the store boundary. Each entity is one value holding its JSON payload.
// Transactions buffer writes in an overlay and apply them at commit after
// re-checking the preconditions each write relied on.
package kv

import (
	"context"
	"errors"
	"fmt"
	"persistkit/pkg/domain"
	"sort"
	"strings"
	"sync"
)

// Compile-time contract assertion ensuring kv.Store adheres to the domain store interface.
var _ domain.Store = (*Store)(nil)

// Bucket is the minimal surface a key-value backend provides.
type Bucket interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Write is one buffered mutation.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Batcher is implemented by buckets that can apply a set of writes atomically.
type Batcher interface {
	Apply(ctx context.Context, writes []Write) error
}

var errTxDone = errors.New("kv: transaction already finished")

// Store maps entities onto bucket keys of the form <prefix><type>/<encoded id>.
type Store struct {
	bucket   Bucket
	registry *domain.Registry
	prefix   string
	// mu serialises commits from this process.
	mu sync.Mutex
}

// New wraps bucket. prefix namespaces every key written.
func New(bucket Bucket, registry *domain.Registry, prefix string) *Store {
	return &Store{bucket: bucket, registry: registry, prefix: prefix}
}

// Bucket returns the wrapped backend.
func (s *Store) Bucket() Bucket { return s.bucket }

// ObjectKey renders the bucket key for an entity key.
func (s *Store) ObjectKey(key domain.Key) string {
	return s.prefix + key.Type + "/" + key.EncodeID()
}

// ParseObjectKey reverses ObjectKey.
func (s *Store) ParseObjectKey(objectKey string) (domain.Key, error) {
	rest, ok := strings.CutPrefix(objectKey, s.prefix)
	if !ok {
		return domain.Key{}, fmt.Errorf("%w: %q outside prefix %q", domain.ErrInvalidKey, objectKey, s.prefix)
	}
	typ, encoded, ok := strings.Cut(rest, "/")
	if !ok {
		return domain.Key{}, fmt.Errorf("%w: malformed object key %q", domain.ErrInvalidKey, objectKey)
	}
	id, err := domain.DecodeID(encoded)
	if err != nil {
		return domain.Key{}, err
	}
	return domain.NewKey(typ, id)
}

// Find implements domain.Store.
func (s *Store) Find(ctx context.Context, key domain.Key) (domain.Record, bool, error) {
	typ, err := s.registry.Lookup(key.Type)
	if err != nil {
		return domain.Record{}, false, err
	}
	data, ok, err := s.bucket.Get(ctx, s.ObjectKey(key))
	if err != nil {
		return domain.Record{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return domain.Record{}, false, nil
	}
	return decode(typ, key, data)
}

func decode(typ domain.Type, key domain.Key, data []byte) (domain.Record, bool, error) {
	values, err := domain.DecodeValues(typ, data)
	if err != nil {
		return domain.Record{}, false, err
	}
	return domain.Record{Key: key, Values: values}, true, nil
}

// Begin implements domain.Store.
func (s *Store) Begin(_ context.Context) (domain.StoreTx, error) {
	return &transaction{store: s, overlay: make(map[string]*pending)}, nil
}

// pending is the buffered state of one object key. A nil data slice with
// deleted set marks a removal.
type pending struct {
	key     domain.Key
	data    []byte
	deleted bool
	// existed records what the backend held when the key was first written.
	existed bool
}

type transaction struct {
	store   *Store
	overlay map[string]*pending
	done    bool
}

func (t *transaction) Find(ctx context.Context, key domain.Key) (domain.Record, bool, error) {
	if t.done {
		return domain.Record{}, false, errTxDone
	}
	p, ok := t.overlay[t.store.ObjectKey(key)]
	if !ok {
		return t.store.Find(ctx, key)
	}
	if p.deleted {
		return domain.Record{}, false, nil
	}
	typ, err := t.store.registry.Lookup(key.Type)
	if err != nil {
		return domain.Record{}, false, err
	}
	return decode(typ, key, p.data)
}

// stage records a write, remembering whether the backend held the key
// before this transaction touched it.
func (t *transaction) stage(key domain.Key, existedBefore bool, data []byte, deleted bool) {
	objectKey := t.store.ObjectKey(key)
	p, ok := t.overlay[objectKey]
	if !ok {
		p = &pending{key: key, existed: existedBefore}
		t.overlay[objectKey] = p
	}
	p.data = data
	p.deleted = deleted
}

// baseline reports whether key existed in the backend before this transaction.
func (t *transaction) baseline(ctx context.Context, key domain.Key) (bool, error) {
	if p, ok := t.overlay[t.store.ObjectKey(key)]; ok {
		return p.existed, nil
	}
	_, ok, err := t.store.Find(ctx, key)
	return ok, err
}

func (t *transaction) encode(key domain.Key, v domain.Values) ([]byte, error) {
	typ, err := t.store.registry.Lookup(key.Type)
	if err != nil {
		return nil, err
	}
	return domain.EncodeValues(typ, v)
}

func (t *transaction) Insert(ctx context.Context, rec domain.Record) error {
	if t.done {
		return errTxDone
	}
	_, exists, err := t.Find(ctx, rec.Key)
	if err != nil {
		return err
	}
	if exists {
		return &domain.DuplicateKeyError{Key: rec.Key}
	}
	before, err := t.baseline(ctx, rec.Key)
	if err != nil {
		return err
	}
	data, err := t.encode(rec.Key, rec.Values)
	if err != nil {
		return err
	}
	t.stage(rec.Key, before, data, false)
	return nil
}

func (t *transaction) Update(ctx context.Context, key domain.Key, changes domain.Values) error {
	if t.done {
		return errTxDone
	}
	current, exists, err := t.Find(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return &domain.NotFoundError{Key: key}
	}
	for name, v := range changes {
		current.Values[name] = v
	}
	data, err := t.encode(key, current.Values)
	if err != nil {
		return err
	}
	before, err := t.baseline(ctx, key)
	if err != nil {
		return err
	}
	t.stage(key, before, data, false)
	return nil
}

func (t *transaction) Delete(ctx context.Context, key domain.Key) error {
	if t.done {
		return errTxDone
	}
	_, exists, err := t.Find(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return &domain.NotFoundError{Key: key}
	}
	before, err := t.baseline(ctx, key)
	if err != nil {
		return err
	}
	t.stage(key, before, nil, true)
	return nil
}

// Commit verifies that every touched key still has the existence it had when
// first read, then applies the overlay in key order.
func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	if len(t.overlay) == 0 {
		return nil
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(t.overlay))
	for k := range t.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writes := make([]Write, 0, len(keys))
	for _, k := range keys {
		p := t.overlay[k]
		_, exists, err := s.bucket.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("kv: commit check %s: %w", p.key, err)
		}
		if exists != p.existed {
			if exists {
				return fmt.Errorf("kv: commit conflict: %w", &domain.DuplicateKeyError{Key: p.key})
			}
			return fmt.Errorf("kv: commit conflict: %w", &domain.NotFoundError{Key: p.key})
		}
		if p.deleted && !p.existed {
			continue
		}
		writes = append(writes, Write{Key: k, Value: p.data, Delete: p.deleted})
	}
	if b, ok := s.bucket.(Batcher); ok {
		if err := b.Apply(ctx, writes); err != nil {
			return fmt.Errorf("kv: apply: %w", err)
		}
		return nil
	}
	for _, w := range writes {
		var err error
		if w.Delete {
			err = s.bucket.Delete(ctx, w.Key)
		} else {
			err = s.bucket.Put(ctx, w.Key, w.Value)
		}
		if err != nil {
			return fmt.Errorf("kv: apply %s: %w", w.Key, err)
		}
	}
	return nil
}

func (t *transaction) Rollback(_ context.Context) error {
	t.done = true
	t.overlay = nil
	return nil
}
