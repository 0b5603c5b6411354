package persistence

import (
	"context"
	"fmt"
	"persistkit/pkg/domain"
	"time"

	"github.com/google/uuid"
)

// Transaction brackets a unit of work on its Context. Commit flushes the
// context and then commits the store transaction; Rollback discards the
// context's pending state and may be called unconditionally.
type Transaction struct {
	pc           *Context
	id           uuid.UUID
	storeTx      domain.StoreTx
	rollbackOnly bool
}

// ID identifies the current (or last) transaction. It is the zero UUID
// before the first Begin.
func (t *Transaction) ID() uuid.UUID { return t.id }

// IsActive reports whether Begin succeeded and neither Commit nor Rollback
// has completed since.
func (t *Transaction) IsActive() bool { return t.storeTx != nil }

// RollbackOnly reports whether a failure has doomed the transaction.
func (t *Transaction) RollbackOnly() bool { return t.rollbackOnly }

// SetRollbackOnly marks the active transaction so Commit refuses to proceed.
func (t *Transaction) SetRollbackOnly() error {
	if !t.IsActive() {
		return domain.ErrTransactionRequired
	}
	t.rollbackOnly = true
	return nil
}

// Begin opens a store transaction.
func (t *Transaction) Begin(ctx context.Context) error {
	start := time.Now()
	err := t.begin(ctx)
	t.pc.observe(ctx, "begin", start, err)
	return err
}

func (t *Transaction) begin(ctx context.Context) error {
	if err := t.pc.checkOpen(); err != nil {
		return err
	}
	if t.IsActive() {
		return domain.ErrTransactionActive
	}
	stx, err := t.pc.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	t.storeTx = stx
	t.id = uuid.New()
	t.rollbackOnly = false
	t.pc.opts.logger.Info("transaction begun", "context", t.pc.id, "transaction", t.id)
	return nil
}

// Commit flushes pending writes and makes them durable. On failure the
// transaction stays active and rollback-only; the caller must Rollback.
func (t *Transaction) Commit(ctx context.Context) error {
	start := time.Now()
	err := t.commit(ctx)
	t.pc.observe(ctx, "commit", start, err)
	return err
}

func (t *Transaction) commit(ctx context.Context) error {
	if err := t.pc.checkOpen(); err != nil {
		return err
	}
	if !t.IsActive() {
		return domain.ErrTransactionRequired
	}
	if t.rollbackOnly {
		return domain.ErrRollbackOnly
	}
	if err := t.pc.flush(ctx); err != nil {
		t.rollbackOnly = true
		return err
	}
	if err := t.storeTx.Commit(ctx); err != nil {
		t.rollbackOnly = true
		t.pc.opts.logger.Error("store commit failed", "context", t.pc.id, "transaction", t.id, "error", err)
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.storeTx = nil
	t.pc.queue.reset()
	t.pc.opts.logger.Info("transaction committed", "context", t.pc.id, "transaction", t.id)
	return nil
}

// Rollback aborts the store transaction and detaches every managed entity.
// It is a no-op when no transaction is active.
func (t *Transaction) Rollback(ctx context.Context) error {
	if !t.IsActive() {
		return nil
	}
	start := time.Now()
	stx := t.storeTx
	t.storeTx = nil
	t.rollbackOnly = false
	t.pc.discard()
	err := stx.Rollback(ctx)
	if err != nil {
		err = fmt.Errorf("rollback transaction: %w", err)
	}
	t.pc.observe(ctx, "rollback", start, err)
	t.pc.opts.logger.Info("transaction rolled back", "context", t.pc.id, "transaction", t.id)
	return err
}
