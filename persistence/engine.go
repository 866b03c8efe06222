package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MaxRevision is used as the upper bound of a revision range to mean "no
// upper bound."
const MaxRevision = ^uint64(0)

// Engine is the persistence contract implemented by every backend. A
// caller that only depends on Engine and Serializer can swap the backing
// store without any other code change.
type Engine interface {
	// Initialize prepares the backend for use, creating any schema,
	// buckets or indexes it requires. It is safe to call more than once;
	// subsequent calls are no-ops.
	Initialize(ctx context.Context) error

	// Commit appends c to its stream.
	//
	// It returns DuplicateCommitError if a commit with the same CommitID
	// was already accepted, at c.StreamID/c.CommitSequence or in any other
	// stream or position, or ConcurrencyError if a different commit
	// already occupies that position.
	Commit(ctx context.Context, c *Commit) error

	// GetFromRevision returns every commit for streamID with a
	// StreamRevision of at least minRevision, in commit order. It is
	// equivalent to GetFromRevisionRange(ctx, streamID, minRevision,
	// MaxRevision).
	GetFromRevision(ctx context.Context, streamID uuid.UUID, minRevision uint64) ([]*Commit, error)

	// GetFromRevisionRange returns every commit for streamID whose
	// revision range intersects [minRevision, maxRevision], in commit
	// order.
	GetFromRevisionRange(ctx context.Context, streamID uuid.UUID, minRevision, maxRevision uint64) ([]*Commit, error)

	// GetFromTime returns every commit with a CommitStamp of at least
	// start, across all streams, in commit-stamp order.
	GetFromTime(ctx context.Context, start time.Time) ([]*Commit, error)

	// GetUndispatchedCommits returns every commit across all streams that
	// has not yet been marked as dispatched, in commit-stamp order.
	GetUndispatchedCommits(ctx context.Context) ([]*Commit, error)

	// MarkCommitAsDispatched marks the identified commit as dispatched.
	// It is idempotent.
	MarkCommitAsDispatched(ctx context.Context, streamID uuid.UUID, commitSequence uint64) error

	// GetSnapshot returns the most recent snapshot for streamID with a
	// StreamRevision of at most maxRevision, or nil if none exists.
	GetSnapshot(ctx context.Context, streamID uuid.UUID, maxRevision uint64) (*Snapshot, error)

	// AddSnapshot stores s. It is not an error to add a snapshot older
	// than, or equal to, an existing one; the backend keeps all of them.
	AddSnapshot(ctx context.Context, s *Snapshot) error

	// GetStreamHead returns the current derived summary for streamID, or
	// a StreamHead carrying only streamID, with HeadRevision and
	// SnapshotRevision 0, if no summary exists for the stream yet.
	GetStreamHead(ctx context.Context, streamID uuid.UUID) (StreamHead, error)

	// GetStreamsToSnapshot returns the IDs of streams whose unsnapshotted
	// revision count is at least threshold, based on the best-effort
	// derived stream heads.
	GetStreamsToSnapshot(ctx context.Context, threshold uint64) ([]uuid.UUID, error)

	// Close releases any resources held by the engine. It is safe to call
	// more than once.
	Close() error
}

// Serializer converts event and header payloads to and from their durable
// representation. It is the sole component aware of the concrete types
// carried by a Commit's Events and Headers.
type Serializer interface {
	// Serialize encodes v into its durable byte representation.
	Serialize(v interface{}) ([]byte, error)

	// Deserialize decodes data into v, which must be a pointer.
	Deserialize(data []byte, v interface{}) error
}
