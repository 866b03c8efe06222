package boltpersistence

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// commitKey returns the primary key for a commit: the stream id followed
// by the big-endian commit sequence, which keeps commits ordered by
// sequence within a stream under bbolt's byte-wise key ordering.
func commitKey(streamID uuid.UUID, commitSequence uint64) []byte {
	k := make([]byte, 16+8)
	copy(k, streamID[:])
	binary.BigEndian.PutUint64(k[16:], commitSequence)
	return k
}

func splitCommitKey(k []byte) (streamID uuid.UUID, commitSequence uint64) {
	copy(streamID[:], k[:16])
	commitSequence = binary.BigEndian.Uint64(k[16:])
	return
}

// commitByIDKey returns the key used by the commits_by_id index: the
// commit id alone, so that CommitId uniqueness is enforced globally
// across every stream rather than scoped to one.
func commitByIDKey(commitID uuid.UUID) []byte {
	k := make([]byte, 16)
	copy(k, commitID[:])
	return k
}

// stampKey returns the composite key used by the commits_by_stamp and
// undispatched indexes: the commit's nanosecond Unix timestamp in
// big-endian form (so bbolt's byte ordering matches time ordering),
// followed by its primary commitKey so entries are unique even when two
// commits share a timestamp.
func stampKey(unixNano int64, streamID uuid.UUID, commitSequence uint64) []byte {
	k := make([]byte, 8+16+8)
	binary.BigEndian.PutUint64(k[:8], uint64(unixNano))
	copy(k[8:24], streamID[:])
	binary.BigEndian.PutUint64(k[24:], commitSequence)
	return k
}

func stampKeyPrefix(unixNano int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(unixNano))
	return k
}

func stampKeyCommit(k []byte) (streamID uuid.UUID, commitSequence uint64) {
	copy(streamID[:], k[8:24])
	commitSequence = binary.BigEndian.Uint64(k[24:])
	return
}

// snapshotKey returns the key used by the snapshots bucket: the stream id
// followed by the big-endian stream revision.
func snapshotKey(streamID uuid.UUID, streamRevision uint64) []byte {
	k := make([]byte, 16+8)
	copy(k, streamID[:])
	binary.BigEndian.PutUint64(k[16:], streamRevision)
	return k
}
