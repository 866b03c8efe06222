package persistence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Commit is an immutable, ordered batch of events appended to a single
// stream in a single atomic write.
type Commit struct {
	// StreamID identifies the stream this commit belongs to.
	StreamID uuid.UUID

	// CommitID uniquely identifies this commit. It is assigned by the
	// caller and is idempotent: replaying the same CommitID against the
	// same StreamID is a no-op, not a new commit.
	CommitID uuid.UUID

	// CommitSequence is the 1-based ordinal of this commit within its
	// stream. It is contiguous and gapless.
	CommitSequence uint64

	// CommitStamp is the time the commit was accepted by the store.
	CommitStamp time.Time

	// StartingStreamRevision is the revision of the first event in this
	// commit.
	StartingStreamRevision uint64

	// StreamRevision is the revision of the last event in this commit.
	StreamRevision uint64

	// Headers carries caller-supplied metadata for the commit as a whole.
	// It is opaque to the engine.
	Headers map[string]interface{}

	// Events holds the events appended by this commit, in order. It is
	// opaque to the engine; only the Serializer understands its contents.
	Events []interface{}

	// Dispatched records whether an external subscriber has been notified
	// of this commit. It is the only mutable field on a commit; every
	// other field is fixed for the life of the commit.
	Dispatched bool
}

// EventCount returns the number of events carried by the commit.
func (c *Commit) EventCount() uint64 {
	return c.StreamRevision - c.StartingStreamRevision + 1
}

// Validate checks the commit's structural invariants, independent of any
// backend. It does not check for duplicate or concurrent commits; that is
// the backend's responsibility during Commit().
func (c *Commit) Validate() error {
	if c.StreamID == uuid.Nil {
		return InvalidCommitError{Reason: "stream id must not be empty"}
	}
	if c.CommitID == uuid.Nil {
		return InvalidCommitError{Reason: "commit id must not be empty"}
	}
	if c.CommitSequence == 0 {
		return InvalidCommitError{Reason: "commit sequence must be at least 1"}
	}
	if c.StartingStreamRevision == 0 {
		return InvalidCommitError{Reason: "starting stream revision must be at least 1"}
	}
	if c.StreamRevision < c.StartingStreamRevision {
		return InvalidCommitError{Reason: "stream revision must not precede the starting stream revision"}
	}
	if len(c.Events) == 0 {
		return InvalidCommitError{Reason: "commit must contain at least one event"}
	}
	if uint64(len(c.Events)) != c.EventCount() {
		return InvalidCommitError{
			Reason: fmt.Sprintf(
				"commit contains %d events but the revision range implies %d",
				len(c.Events),
				c.EventCount(),
			),
		}
	}

	return nil
}
