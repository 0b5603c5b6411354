// Package persistence implements a persistence context: a unit of work that
// tracks entity identity and lifecycle, detects changes by snapshot diffing
// and defers writes to flush or commit.
//
// A Context is scoped to one goroutine and one transaction at a time. Obtain
// one from a Factory and pass it explicitly to the code that needs it.
package persistence

import (
	"context"
	"fmt"
	"persistkit/pkg/domain"
	"time"

	"github.com/google/uuid"
)

// Context tracks managed entities for a unit of work.
type Context struct {
	id       uuid.UUID
	store    domain.Store
	registry *domain.Registry
	opts     options

	entities *identityMap
	queue    *actionQueue
	// seen remembers every instance this context has managed so detached
	// instances can be told apart from transient ones.
	seen   map[domain.Entity]struct{}
	tx     *Transaction
	closed bool
}

func newContext(store domain.Store, registry *domain.Registry, opts options) *Context {
	c := &Context{
		id:       uuid.New(),
		store:    store,
		registry: registry,
		opts:     opts,
		entities: newIdentityMap(),
		queue:    &actionQueue{},
		seen:     make(map[domain.Entity]struct{}),
	}
	c.tx = &Transaction{pc: c}
	return c
}

// ID identifies the context in logs.
func (c *Context) ID() uuid.UUID { return c.id }

// Transaction returns the context's transaction handle.
func (c *Context) Transaction() *Transaction { return c.tx }

// IsOpen reports whether Close has not been called yet.
func (c *Context) IsOpen() bool { return !c.closed }

func (c *Context) checkOpen() error {
	if c.closed {
		return domain.ErrContextClosed
	}
	return nil
}

func (c *Context) observe(ctx context.Context, op string, start time.Time, err error) {
	c.opts.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

// describe resolves the declared type and key of e.
func (c *Context) describe(e domain.Entity) (domain.Type, domain.Key, error) {
	if e == nil {
		return domain.Type{}, domain.Key{}, fmt.Errorf("%w: nil entity", domain.ErrInvalidKey)
	}
	typ, err := c.registry.Lookup(e.EntityType())
	if err != nil {
		return domain.Type{}, domain.Key{}, err
	}
	key, err := domain.NewKey(typ.Name, e.PrimaryKey())
	if err != nil {
		return domain.Type{}, domain.Key{}, err
	}
	return typ, key, nil
}

func (c *Context) manage(ent *entry) {
	c.entities.put(ent)
	c.seen[ent.entity] = struct{}{}
}

// Persist makes a transient entity managed and queues its insert. The
// snapshot is taken once the insert reaches the store at flush.
func (c *Context) Persist(ctx context.Context, e domain.Entity) error {
	start := time.Now()
	err := c.persist(e)
	c.observe(ctx, "persist", start, err)
	return err
}

func (c *Context) persist(e domain.Entity) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	typ, key, err := c.describe(e)
	if err != nil {
		return err
	}
	if err := typ.Check(typ.Project(e.Values())); err != nil {
		return err
	}
	if ent := c.entities.get(key); ent != nil {
		if ent.entity != e {
			return &domain.DuplicateKeyError{Key: key}
		}
		if ent.state == StateRemoved {
			c.queue.removeKey(key, ActionDelete)
			ent.state = StateManaged
		}
		return nil
	}
	if _, ok := c.seen[e]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDetachedEntity, key)
	}
	c.manage(&entry{key: key, typ: typ, entity: e, state: StateManaged})
	c.queue.enqueue(Action{Kind: ActionInsert, Key: key, Entity: e})
	return nil
}

// Find returns the managed instance for (entityType, id). The identity map
// is consulted first; only a miss reaches the store. A removed entity, or a
// key the store does not hold, yields (nil, false, nil).
func (c *Context) Find(ctx context.Context, entityType string, id any) (domain.Entity, bool, error) {
	start := time.Now()
	e, ok, err := c.find(ctx, entityType, id)
	c.observe(ctx, "find", start, err)
	return e, ok, err
}

func (c *Context) find(ctx context.Context, entityType string, id any) (domain.Entity, bool, error) {
	if err := c.checkOpen(); err != nil {
		return nil, false, err
	}
	typ, err := c.registry.Lookup(entityType)
	if err != nil {
		return nil, false, err
	}
	key, err := domain.NewKey(typ.Name, id)
	if err != nil {
		return nil, false, err
	}
	if ent := c.entities.get(key); ent != nil {
		c.opts.metrics.Incr(ctx, EventIdentityMapHit)
		if ent.state == StateRemoved {
			return nil, false, nil
		}
		return ent.entity, true, nil
	}
	c.opts.metrics.Incr(ctx, EventIdentityMapMiss)
	rec, found, err := c.load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("find %s: %w", key, err)
	}
	if !found {
		return nil, false, nil
	}
	e, err := c.registry.Instantiate(rec)
	if err != nil {
		return nil, false, err
	}
	c.manage(&entry{key: key, typ: typ, entity: e, state: StateManaged, snapshot: newSnapshot(typ, e.Values())})
	return e, true, nil
}

// Get is Find with a missing entity reported as a *domain.NotFoundError.
func (c *Context) Get(ctx context.Context, entityType string, id any) (domain.Entity, error) {
	e, ok, err := c.Find(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		key, kerr := domain.NewKey(entityType, id)
		if kerr != nil {
			return nil, kerr
		}
		return nil, &domain.NotFoundError{Key: key}
	}
	return e, nil
}

// load reads through the active store transaction when there is one.
func (c *Context) load(ctx context.Context, key domain.Key) (domain.Record, bool, error) {
	if c.tx.storeTx != nil {
		return c.tx.storeTx.Find(ctx, key)
	}
	return c.store.Find(ctx, key)
}

// Remove queues the deletion of a managed entity. Removing an entity whose
// insert has not been flushed cancels the insert instead; nothing reaches
// the store and the instance becomes transient again.
func (c *Context) Remove(ctx context.Context, e domain.Entity) error {
	start := time.Now()
	err := c.remove(ctx, e)
	c.observe(ctx, "remove", start, err)
	return err
}

func (c *Context) remove(ctx context.Context, e domain.Entity) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, key, err := c.describe(e)
	if err != nil {
		return err
	}
	ent := c.entities.get(key)
	if ent == nil || ent.entity != e {
		return fmt.Errorf("%w: %s", domain.ErrNotManaged, key)
	}
	if ent.state == StateRemoved {
		return nil
	}
	if ent.snapshot == nil {
		c.queue.removeKey(key)
		c.entities.remove(key)
		delete(c.seen, e)
		c.opts.metrics.Incr(ctx, EventInsertCancelled)
		return nil
	}
	ent.state = StateRemoved
	c.queue.enqueue(Action{Kind: ActionDelete, Key: key})
	return nil
}

// Detach stops tracking e and drops its pending writes. The instance keeps
// its values. Detaching an instance this context does not manage is a no-op.
func (c *Context) Detach(ctx context.Context, e domain.Entity) error {
	start := time.Now()
	err := c.detach(e)
	c.observe(ctx, "detach", start, err)
	return err
}

func (c *Context) detach(e domain.Entity) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	if _, err := c.registry.Lookup(e.EntityType()); err != nil {
		return err
	}
	key, err := domain.NewKey(e.EntityType(), e.PrimaryKey())
	if err != nil {
		return nil
	}
	ent := c.entities.get(key)
	if ent == nil || ent.entity != e {
		return nil
	}
	c.entities.remove(key)
	c.queue.removeKey(key)
	return nil
}

// Clear detaches every managed entity and discards pending writes.
func (c *Context) Clear(ctx context.Context) error {
	start := time.Now()
	err := c.clear()
	c.observe(ctx, "clear", start, err)
	return err
}

func (c *Context) clear() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.entities.clear()
	c.queue.reset()
	return nil
}

// Close rolls back an active transaction and makes the context unusable.
func (c *Context) Close(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	var rbErr error
	if c.tx.IsActive() {
		c.opts.logger.Warn("closing context with active transaction", "context", c.id, "transaction", c.tx.id)
		rbErr = c.tx.Rollback(ctx)
	}
	c.entities.clear()
	c.queue.reset()
	c.closed = true
	c.opts.logger.Debug("persistence context closed", "context", c.id)
	return rbErr
}

// Contains reports whether e is a managed (not removed) instance.
func (c *Context) Contains(e domain.Entity) bool {
	return c.StateOf(e) == StateManaged
}

// StateOf reports the lifecycle state of e relative to this context.
func (c *Context) StateOf(e domain.Entity) State {
	if e == nil {
		return StateTransient
	}
	if key, err := domain.NewKey(e.EntityType(), e.PrimaryKey()); err == nil {
		if ent := c.entities.get(key); ent != nil && ent.entity == e {
			return ent.state
		}
	}
	if _, ok := c.seen[e]; ok {
		return StateDetached
	}
	return StateTransient
}

// Pending returns a copy of the queued writes in enqueue order.
func (c *Context) Pending() []Action { return c.queue.list() }

// Managed returns the number of entries in the identity map.
func (c *Context) Managed() int { return c.entities.len() }

// discard drops all tracked state after a rollback; values held by the
// instances may no longer match the store.
func (c *Context) discard() {
	c.entities.clear()
	c.queue.reset()
}
