package session

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	// ErrRecordNotFound is returned when no record exists for a key.
	ErrRecordNotFound = errors.New("session record not found")
	// ErrVersionConflict is returned by PutIf when the stored version no
	// longer matches the expected one.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("session store is closed")
)

// Store abstracts durable session record persistence.
// Implementations must be safe for concurrent use and must surface I/O
// failures rather than swallowing them; resolvers decide on degraded
// behavior at the call site.
type Store interface {
	// Get retrieves the current record for a key.
	// Returns ErrRecordNotFound if no record exists.
	Get(ctx context.Context, sessionKey string) (*Record, error)

	// Put writes a record unconditionally, keyed by rec.SessionKey.
	Put(ctx context.Context, rec *Record) error

	// PutIf writes a record only if the stored version equals
	// expectedVersion. expectedVersion 0 requires that no record exists.
	// Returns ErrVersionConflict otherwise. This makes the read-decide-write
	// version bump safe under concurrent invocations.
	PutIf(ctx context.Context, rec *Record, expectedVersion int64) error

	// Touch updates only LastActivity on the current record.
	Touch(ctx context.Context, sessionKey string, now int64) error

	// Close releases resources held by the store.
	Close() error
}
