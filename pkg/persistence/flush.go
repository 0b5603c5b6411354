package persistence

import (
	"context"
	"fmt"
	"persistkit/pkg/domain"
	"time"
)

// FlushError reports the first store failure during a flush. The failing
// action and everything after it remain queued.
type FlushError struct {
	Action Action
	Err    error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush %s: %v", e.Action, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// Flush runs the dirty-check sweep and drains the action queue through the
// active store transaction.
func (c *Context) Flush(ctx context.Context) error {
	start := time.Now()
	err := c.flush(ctx)
	c.observe(ctx, "flush", start, err)
	return err
}

func (c *Context) flush(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if !c.tx.IsActive() {
		return domain.ErrTransactionRequired
	}
	if err := c.sweep(); err != nil {
		return err
	}
	plan := c.queue.plan(c.opts.flushOrder)
	if len(plan) == 0 {
		c.queue.reset()
		return nil
	}
	applied := make(map[uint64]struct{}, len(plan))
	for _, a := range plan {
		if err := c.submit(ctx, a); err != nil {
			c.queue.drop(applied)
			c.tx.rollbackOnly = true
			c.opts.logger.Error("flush failed", "context", c.id, "action", a.String(), "applied", len(applied), "error", err)
			return &FlushError{Action: a, Err: err}
		}
		applied[a.seq] = struct{}{}
	}
	c.queue.reset()
	c.opts.logger.Debug("flushed", "context", c.id, "actions", len(plan), "order", c.opts.flushOrder.String())
	return nil
}

// sweep diffs every managed entry that has a snapshot and queues an update
// for each changed entity, replacing its snapshot with the current values.
func (c *Context) sweep() error {
	for _, ent := range c.entities.sorted() {
		if ent.state != StateManaged || ent.snapshot == nil {
			continue
		}
		current := ent.typ.Project(ent.entity.Values())
		changes := ent.snapshot.diff(ent.typ, current)
		if changes == nil {
			continue
		}
		if err := ent.typ.Check(current); err != nil {
			return fmt.Errorf("flush %s: %w", ent.key, err)
		}
		if err := bumpVersion(ent.typ, ent.entity, ent.snapshot.values, current, changes); err != nil {
			return fmt.Errorf("flush %s: %w", ent.key, err)
		}
		ent.snapshot = newSnapshot(ent.typ, current)
		c.queue.enqueue(Action{Kind: ActionUpdate, Key: ent.key, Changes: changes})
	}
	return nil
}

// bumpVersion increments the version field of a versioned type relative to
// the baseline and records it in both current and changes.
func bumpVersion(t domain.Type, e domain.Entity, baseline, current, changes domain.Values) error {
	if !t.Versioned() {
		return nil
	}
	next := versionOf(baseline, t.VersionField) + 1
	if err := e.Apply(domain.Values{t.VersionField: next}); err != nil {
		return err
	}
	current[t.VersionField] = next
	changes[t.VersionField] = next
	return nil
}

func versionOf(v domain.Values, field string) int64 {
	n, _ := v[field].(int64)
	return n
}

func (c *Context) submit(ctx context.Context, a Action) error {
	stx := c.tx.storeTx
	switch a.Kind {
	case ActionInsert:
		typ, err := c.registry.Lookup(a.Key.Type)
		if err != nil {
			return err
		}
		values := typ.Project(a.Entity.Values())
		if err := typ.Check(values); err != nil {
			return err
		}
		if err := stx.Insert(ctx, domain.Record{Key: a.Key, Values: values.Clone()}); err != nil {
			return err
		}
		if ent := c.entities.get(a.Key); ent != nil && ent.entity == a.Entity {
			ent.snapshot = newSnapshot(typ, values)
		}
	case ActionUpdate:
		if err := stx.Update(ctx, a.Key, a.Changes.Clone()); err != nil {
			return err
		}
	case ActionDelete:
		if err := stx.Delete(ctx, a.Key); err != nil {
			return err
		}
		if ent := c.entities.get(a.Key); ent != nil && ent.state == StateRemoved {
			c.entities.remove(a.Key)
			delete(c.seen, ent.entity)
		}
	default:
		return fmt.Errorf("unknown action kind %d", a.Kind)
	}
	c.opts.metrics.Incr(ctx, "action_"+a.Kind.String())
	return nil
}
