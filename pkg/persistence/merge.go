package persistence

import (
	"context"
	"fmt"
	"persistkit/pkg/domain"
	"time"
)

// Merge copies the state of a detached or transient entity into the managed
// instance for its key and returns that instance. The argument itself is
// never registered, and the result never aliases it.
//
// When the key is already managed the input values are copied onto the
// managed instance. Otherwise the row is loaded through the store: a stored
// row yields a fresh managed instance carrying the input values, while a
// missing row is handled by the configured MergeMissingPolicy. Any field that
// differs from the baseline (snapshot or stored row) is queued as an update
// and the snapshot is set to the post-merge values.
func (c *Context) Merge(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	start := time.Now()
	out, err := c.merge(ctx, e)
	c.observe(ctx, "merge", start, err)
	return out, err
}

func (c *Context) merge(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	typ, key, err := c.describe(e)
	if err != nil {
		return nil, err
	}
	input := typ.Project(e.Values())
	if err := typ.Check(input); err != nil {
		return nil, err
	}

	if ent := c.entities.get(key); ent != nil {
		if ent.state == StateRemoved {
			return nil, fmt.Errorf("%w: %s", domain.ErrEntityRemoved, key)
		}
		if ent.entity == e {
			return e, nil
		}
		baseline := typ.Project(ent.entity.Values())
		if ent.snapshot != nil {
			baseline = ent.snapshot.values
		}
		if err := checkVersion(typ, key, baseline, input); err != nil {
			return nil, err
		}
		if err := ent.entity.Apply(input.Clone()); err != nil {
			return nil, fmt.Errorf("merge %s: %w", key, err)
		}
		if ent.snapshot != nil {
			if err := c.reconcile(ent, baseline); err != nil {
				return nil, err
			}
		}
		return ent.entity, nil
	}

	rec, found, err := c.load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w", key, err)
	}
	if !found && c.opts.mergeMissing == MergeMissingFail {
		return nil, &domain.NotFoundError{Key: key}
	}
	if found {
		if err := checkVersion(typ, key, rec.Values, input); err != nil {
			return nil, err
		}
	}
	managed := typ.New()
	if err := managed.SetPrimaryKey(key.ID); err != nil {
		return nil, fmt.Errorf("merge %s: %w", key, err)
	}
	if err := managed.Apply(input.Clone()); err != nil {
		return nil, fmt.Errorf("merge %s: %w", key, err)
	}
	ent := &entry{key: key, typ: typ, entity: managed, state: StateManaged}
	if !found {
		c.manage(ent)
		c.queue.enqueue(Action{Kind: ActionInsert, Key: key, Entity: managed})
		return managed, nil
	}
	ent.snapshot = newSnapshot(typ, rec.Values)
	if err := c.reconcile(ent, rec.Values); err != nil {
		return nil, err
	}
	c.manage(ent)
	return managed, nil
}

// reconcile queues an update for whatever the merged instance changed
// relative to baseline and seats the post-merge snapshot, so the next sweep
// sees no delta.
func (c *Context) reconcile(ent *entry, baseline domain.Values) error {
	post := ent.typ.Project(ent.entity.Values())
	changes := domain.Diff(ent.typ.Fields, baseline, post)
	if changes != nil {
		if err := bumpVersion(ent.typ, ent.entity, baseline, post, changes); err != nil {
			return fmt.Errorf("merge %s: %w", ent.key, err)
		}
		c.queue.enqueue(Action{Kind: ActionUpdate, Key: ent.key, Changes: changes})
	}
	ent.snapshot = newSnapshot(ent.typ, post)
	return nil
}

func checkVersion(t domain.Type, key domain.Key, baseline, input domain.Values) error {
	if !t.Versioned() {
		return nil
	}
	expected := versionOf(baseline, t.VersionField)
	actual := versionOf(input, t.VersionField)
	if expected != actual {
		return &domain.MergeConflictError{Key: key, Expected: expected, Actual: actual}
	}
	return nil
}
