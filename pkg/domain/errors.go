package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrContextClosed       = errors.New("persistkit: persistence context is closed")
	ErrFactoryClosed       = errors.New("persistkit: factory is closed")
	ErrNotFound            = errors.New("persistkit: entity not found")
	ErrDuplicateKey        = errors.New("persistkit: duplicate key")
	ErrTransactionRequired = errors.New("persistkit: no active transaction")
	ErrTransactionActive   = errors.New("persistkit: transaction already active")
	ErrRollbackOnly        = errors.New("persistkit: transaction is marked rollback-only")
	ErrNotManaged          = errors.New("persistkit: entity is not managed")
	ErrEntityRemoved       = errors.New("persistkit: entity is removed")
	ErrDetachedEntity      = errors.New("persistkit: detached entity passed to persist")
	ErrUnknownType         = errors.New("persistkit: unknown entity type")
	ErrInvalidType         = errors.New("persistkit: invalid entity type declaration")
	ErrInvalidKey          = errors.New("persistkit: invalid primary key")
	ErrInvalidValue        = errors.New("persistkit: invalid field value")
	ErrMergeConflict       = errors.New("persistkit: merge conflict")
)

// NotFoundError reports a key that neither the identity map nor the store holds.
type NotFoundError struct {
	Key Key
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Key)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicateKeyError reports a key already tracked under another instance, or
// already present in a store.
type DuplicateKeyError struct {
	Key Key
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %s", e.Key)
}

// Is matches ErrDuplicateKey.
func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

// MergeConflictError reports a detached copy whose version disagrees with the
// current baseline.
type MergeConflictError struct {
	Key      Key
	Expected int64
	Actual   int64
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict on %s: detached version %d, current version %d", e.Key, e.Actual, e.Expected)
}

// Is matches ErrMergeConflict.
func (e *MergeConflictError) Is(target error) bool { return target == ErrMergeConflict }
