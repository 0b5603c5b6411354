package domain

import "context"

// Store is the boundary between the persistence context and a backing
// medium. Implementations must be safe for concurrent use.
type Store interface {
	// Find reads a row outside any transaction.
	Find(ctx context.Context, key Key) (Record, bool, error)
	// Begin opens a store transaction used for one unit of work.
	Begin(ctx context.Context) (StoreTx, error)
}

// StoreTx applies writes within a single store transaction. Nothing written
// through it is durable before Commit.
type StoreTx interface {
	// Insert fails with ErrDuplicateKey when the row already exists.
	Insert(ctx context.Context, rec Record) error
	// Update overwrites the supplied fields; ErrNotFound when the row is absent.
	Update(ctx context.Context, key Key, changes Values) error
	// Delete removes the row; ErrNotFound when it is absent.
	Delete(ctx context.Context, key Key) error
	// Find reads a row, observing this transaction's own writes.
	Find(ctx context.Context, key Key) (Record, bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
