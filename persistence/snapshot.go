package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is a materialized view of a stream's state as of a specific
// revision, used to avoid replaying a stream's entire commit history.
type Snapshot struct {
	// StreamID identifies the stream this snapshot was taken of.
	StreamID uuid.UUID

	// StreamRevision is the revision the snapshot was taken at. Replaying
	// commits with a StreamRevision greater than this value reconstructs
	// the state beyond the snapshot.
	StreamRevision uint64

	// CommitStamp is the time the snapshot was added to the store.
	CommitStamp time.Time

	// Payload holds the opaque, serialized snapshot state.
	Payload interface{}
}

// StreamHead is a best-effort, derived summary of a stream, maintained
// asynchronously to avoid scanning the full commit history to answer
// "does this stream need a snapshot" queries.
type StreamHead struct {
	// StreamID identifies the stream this head describes.
	StreamID uuid.UUID

	// HeadRevision is the revision of the most recent commit the store has
	// observed for this stream.
	HeadRevision uint64

	// SnapshotRevision is the revision of the most recent snapshot taken
	// for this stream, or zero if none exists.
	SnapshotRevision uint64
}

// UnsnapshottedRevisionCount returns the number of stream revisions
// committed since the last snapshot.
func (h StreamHead) UnsnapshottedRevisionCount() uint64 {
	return h.HeadRevision - h.SnapshotRevision
}
