package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"persistkit/pkg/domain"
	"persistkit/pkg/memo"
	"persistkit/pkg/persistence"
)

// Memo IDs used by the scenarios. reset removes them first so the replay is
// repeatable against durable stores.
var scenarioIDs = []int64{1, 2, 3, 4, 5}

type demo struct {
	factory *persistence.Factory
	out     io.Writer
}

func (d *demo) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(d.out, format+"\n", args...)
}

// unit runs fn inside a fresh context and transaction, committing on success.
func (d *demo) unit(ctx context.Context, fn func(pc *persistence.Context) error) error {
	pc, err := d.factory.CreateContext()
	if err != nil {
		return err
	}
	defer func() { _ = pc.Close(ctx) }()
	tx := pc.Transaction()
	if err := tx.Begin(ctx); err != nil {
		return err
	}
	if err := fn(pc); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// read runs fn in a fresh context without a transaction.
func (d *demo) read(ctx context.Context, fn func(pc *persistence.Context) error) error {
	pc, err := d.factory.CreateContext()
	if err != nil {
		return err
	}
	defer func() { _ = pc.Close(ctx) }()
	return fn(pc)
}

func findMemo(ctx context.Context, pc *persistence.Context, id int64) (*memo.Memo, error) {
	e, err := pc.Get(ctx, memo.TypeName, id)
	if err != nil {
		return nil, err
	}
	return e.(*memo.Memo), nil
}

func (d *demo) replay(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"reset", d.reset},
		{"persist", d.persist},
		{"identity", d.identity},
		{"dirty-check", d.dirtyCheck},
		{"write-behind", d.writeBehind},
		{"cancelled-insert", d.cancelledInsert},
		{"detach", d.detach},
		{"clear", d.clear},
		{"merge", d.merge},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func (d *demo) reset(ctx context.Context) error {
	return d.unit(ctx, func(pc *persistence.Context) error {
		for _, id := range scenarioIDs {
			e, ok, err := pc.Find(ctx, memo.TypeName, id)
			if err != nil {
				return err
			}
			if ok {
				if err := pc.Remove(ctx, e); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (d *demo) persist(ctx context.Context) error {
	err := d.unit(ctx, func(pc *persistence.Context) error {
		return pc.Persist(ctx, &memo.Memo{ID: 1, Username: "Robbie", Contents: "first memo"})
	})
	if err != nil {
		return err
	}
	return d.read(ctx, func(pc *persistence.Context) error {
		m, err := findMemo(ctx, pc, 1)
		if err != nil {
			return err
		}
		d.printf("persist: stored memo#%d by %s: %q", m.ID, m.Username, m.Contents)
		return nil
	})
}

func (d *demo) identity(ctx context.Context) error {
	return d.read(ctx, func(pc *persistence.Context) error {
		a, err := findMemo(ctx, pc, 1)
		if err != nil {
			return err
		}
		b, err := findMemo(ctx, pc, 1)
		if err != nil {
			return err
		}
		d.printf("identity: same instance=%t", a == b)
		return nil
	})
}

func (d *demo) dirtyCheck(ctx context.Context) error {
	err := d.unit(ctx, func(pc *persistence.Context) error {
		m, err := findMemo(ctx, pc, 1)
		if err != nil {
			return err
		}
		m.Contents = "edited in place"
		return nil
	})
	if err != nil {
		return err
	}
	return d.read(ctx, func(pc *persistence.Context) error {
		m, err := findMemo(ctx, pc, 1)
		if err != nil {
			return err
		}
		d.printf("dirty-check: contents now %q", m.Contents)
		return nil
	})
}

func (d *demo) writeBehind(ctx context.Context) error {
	return d.unit(ctx, func(pc *persistence.Context) error {
		if err := pc.Persist(ctx, &memo.Memo{ID: 2, Username: "Ada", Contents: "queued"}); err != nil {
			return err
		}
		d.printf("write-behind: pending before flush=%d", len(pc.Pending()))
		if err := pc.Flush(ctx); err != nil {
			return err
		}
		d.printf("write-behind: pending after flush=%d", len(pc.Pending()))
		return nil
	})
}

func (d *demo) cancelledInsert(ctx context.Context) error {
	err := d.unit(ctx, func(pc *persistence.Context) error {
		m := &memo.Memo{ID: 3, Username: "Grace", Contents: "never stored"}
		if err := pc.Persist(ctx, m); err != nil {
			return err
		}
		return pc.Remove(ctx, m)
	})
	if err != nil {
		return err
	}
	return d.read(ctx, func(pc *persistence.Context) error {
		_, err := findMemo(ctx, pc, 3)
		d.printf("cancelled-insert: found=%t", !errors.Is(err, domain.ErrNotFound))
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	})
}

func (d *demo) detach(ctx context.Context) error {
	err := d.unit(ctx, func(pc *persistence.Context) error {
		m, err := findMemo(ctx, pc, 2)
		if err != nil {
			return err
		}
		if err := pc.Detach(ctx, m); err != nil {
			return err
		}
		m.Contents = "lost edit"
		return nil
	})
	if err != nil {
		return err
	}
	return d.read(ctx, func(pc *persistence.Context) error {
		m, err := findMemo(ctx, pc, 2)
		if err != nil {
			return err
		}
		d.printf("detach: contents still %q", m.Contents)
		return nil
	})
}

func (d *demo) clear(ctx context.Context) error {
	return d.read(ctx, func(pc *persistence.Context) error {
		a, err := findMemo(ctx, pc, 1)
		if err != nil {
			return err
		}
		if err := pc.Clear(ctx); err != nil {
			return err
		}
		b, err := findMemo(ctx, pc, 1)
		if err != nil {
			return err
		}
		d.printf("clear: fresh instance=%t", a != b)
		return nil
	})
}

func (d *demo) merge(ctx context.Context) error {
	copyOf := &memo.Memo{ID: 1, Username: "Robbie", Contents: "merged from a copy"}
	var merged domain.Entity
	err := d.unit(ctx, func(pc *persistence.Context) error {
		var err error
		merged, err = pc.Merge(ctx, copyOf)
		return err
	})
	if err != nil {
		return err
	}
	d.printf("merge: returned copy distinct=%t", merged != domain.Entity(copyOf))
	return d.read(ctx, func(pc *persistence.Context) error {
		m, err := findMemo(ctx, pc, 1)
		if err != nil {
			return err
		}
		d.printf("merge: contents now %q", m.Contents)
		return nil
	})
}
