package persistence

import (
	"fmt"

	"github.com/google/uuid"
)

// DuplicateCommitError indicates that a commit with the same CommitID was
// already present, either at the targeted StreamID/CommitSequence or, since
// CommitIDs are unique across all streams, anywhere else in the store. It
// is not an error condition from the caller's point of view: a commit with
// that CommitID is already durable.
type DuplicateCommitError struct {
	StreamID       uuid.UUID
	CommitSequence uint64
}

func (e DuplicateCommitError) Error() string {
	return fmt.Sprintf(
		"commit %d already exists for stream %s with the same commit id",
		e.CommitSequence,
		e.StreamID,
	)
}

// ConcurrencyError indicates that a different commit already occupies the
// targeted StreamID/CommitSequence. The caller is operating against a
// stale view of the stream and must reload it before retrying.
type ConcurrencyError struct {
	StreamID       uuid.UUID
	CommitSequence uint64
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf(
		"commit %d already exists for stream %s with a different commit id",
		e.CommitSequence,
		e.StreamID,
	)
}

// StorageError wraps an error returned by a backend that is not otherwise
// classified. Callers should treat the underlying cause as opaque, but may
// still inspect it with errors.As/errors.Is via Unwrap.
type StorageError struct {
	Cause error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage error: %s", e.Cause)
}

// Unwrap returns the underlying backend error.
func (e StorageError) Unwrap() error {
	return e.Cause
}

// InvalidCommitError indicates that a commit failed structural validation
// before it was ever presented to a backend.
type InvalidCommitError struct {
	Reason string
}

func (e InvalidCommitError) Error() string {
	return fmt.Sprintf("invalid commit: %s", e.Reason)
}
