package boltpersistence

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/Tigraine/EventStore/internal/x/bboltx"
	"github.com/Tigraine/EventStore/persistence"
)

type snapshotRecord struct {
	CommitStampUnixNano int64
	Payload             []byte
}

// GetSnapshot returns the most recent snapshot for streamID with a
// StreamRevision of at most maxRevision, or nil if none exists.
func (e *Engine) GetSnapshot(ctx context.Context, streamID uuid.UUID, maxRevision uint64) (snap *persistence.Snapshot, err error) {
	if err := e.mu.RLock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	err = e.db.View(func(tx *bbolt.Tx) (err error) {
		defer bboltx.Recover(&err)

		snapshots := tx.Bucket(bucketSnapshots)
		cur := snapshots.Cursor()

		seekKey := snapshotKey(streamID, maxRevision)

		var bestKey, bestVal []byte
		if k, v := cur.Seek(seekKey); k != nil && bytes.Equal(k, seekKey) {
			// Exact match: a snapshot exists at precisely maxRevision.
			bestKey, bestVal = k, v
		} else if k, v := cur.Prev(); k != nil && hasPrefix(k, streamID[:]) {
			// The closest key at or above seekKey either doesn't exist or
			// belongs to a later stream/revision; the preceding entry is the
			// greatest remaining candidate for this stream.
			bestKey, bestVal = k, v
		}

		if bestKey == nil {
			return nil
		}

		var r snapshotRecord
		bboltx.Must(json.Unmarshal(bestVal, &r))

		var payload interface{}
		if len(r.Payload) > 0 {
			if err := e.serializer.Deserialize(r.Payload, &payload); err != nil {
				return err
			}
		}

		rev := binary.BigEndian.Uint64(bestKey[16:])

		snap = &persistence.Snapshot{
			StreamID:       streamID,
			StreamRevision: rev,
			CommitStamp:    unixNanoToTime(r.CommitStampUnixNano),
			Payload:        payload,
		}

		return nil
	})

	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	return snap, nil
}

// AddSnapshot stores s.
func (e *Engine) AddSnapshot(ctx context.Context, s *persistence.Snapshot) error {
	if err := e.mu.Lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	var headRevision uint64

	err := e.db.Update(func(tx *bbolt.Tx) (err error) {
		defer bboltx.Recover(&err)

		payload, serErr := e.serializer.Serialize(s.Payload)
		if serErr != nil {
			return serErr
		}

		rec := snapshotRecord{
			CommitStampUnixNano: s.CommitStamp.UnixNano(),
			Payload:             payload,
		}

		data, marshalErr := json.Marshal(rec)
		bboltx.Must(marshalErr)

		bboltx.Put(tx.Bucket(bucketSnapshots), snapshotKey(s.StreamID, s.StreamRevision), data)

		if v := tx.Bucket(bucketStreamHeads).Get(s.StreamID[:]); v != nil {
			headRevision = binary.BigEndian.Uint64(v[:8])
		}

		return nil
	})

	if err != nil {
		return persistence.StorageError{Cause: err}
	}

	e.maintainer.NotifySnapshot(s.StreamID, headRevision, s.StreamRevision)

	return nil
}

// GetStreamHead returns the current derived summary for streamID.
func (e *Engine) GetStreamHead(ctx context.Context, streamID uuid.UUID) (head persistence.StreamHead, err error) {
	if err := e.mu.RLock(ctx); err != nil {
		return persistence.StreamHead{}, err
	}
	defer e.mu.RUnlock()

	head.StreamID = streamID

	err = e.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketStreamHeads).Get(streamID[:])
		if v == nil {
			return nil
		}

		head.HeadRevision = binary.BigEndian.Uint64(v[:8])
		head.SnapshotRevision = binary.BigEndian.Uint64(v[8:])

		return nil
	})

	if err != nil {
		return persistence.StreamHead{}, persistence.StorageError{Cause: err}
	}

	return head, nil
}

// GetStreamsToSnapshot returns the IDs of streams whose unsnapshotted
// revision count is at least threshold.
func (e *Engine) GetStreamsToSnapshot(ctx context.Context, threshold uint64) (result []uuid.UUID, err error) {
	if err := e.mu.RLock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	err = e.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(bucketStreamHeads).Cursor()

		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var streamID uuid.UUID
			copy(streamID[:], k)

			head := persistence.StreamHead{
				StreamID:         streamID,
				HeadRevision:     binary.BigEndian.Uint64(v[:8]),
				SnapshotRevision: binary.BigEndian.Uint64(v[8:]),
			}

			if head.UnsnapshottedRevisionCount() >= threshold {
				result = append(result, streamID)
			}
		}

		return nil
	})

	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	return result, nil
}

// Upsert implements streamhead.Updater.
func (e *Engine) Upsert(ctx context.Context, streamID uuid.UUID, headRevision uint64, snapshotRevision *uint64) error {
	return e.db.Update(func(tx *bbolt.Tx) (err error) {
		defer bboltx.Recover(&err)

		bucket := tx.Bucket(bucketStreamHeads)

		var head, snap uint64
		if v := bucket.Get(streamID[:]); v != nil {
			head = binary.BigEndian.Uint64(v[:8])
			snap = binary.BigEndian.Uint64(v[8:])
		} else {
			// This is the first time this stream's head is being maintained
			// in this process. Rebuild it from the durable commit/snapshot
			// log rather than trusting headRevision/snapshotRevision alone,
			// in case an earlier update for this stream was dropped before
			// the maintainer ever saw it.
			head, snap = rebuildStreamHead(tx, streamID)
		}

		if headRevision > head {
			head = headRevision
		}
		if snapshotRevision != nil && *snapshotRevision > snap {
			snap = *snapshotRevision
		}

		v := make([]byte, 16)
		binary.BigEndian.PutUint64(v[:8], head)
		binary.BigEndian.PutUint64(v[8:], snap)

		return bucket.Put(streamID[:], v)
	})
}

// rebuildStreamHead derives streamID's head and snapshot revisions by
// scanning the commits and snapshots buckets directly, rather than
// trusting any previously maintained summary.
func rebuildStreamHead(tx *bbolt.Tx, streamID uuid.UUID) (head, snap uint64) {
	prefix := streamID[:]

	commits := tx.Bucket(bucketCommits)
	cur := commits.Cursor()
	for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
		var r commitRecord
		bboltx.Must(json.Unmarshal(v, &r))
		if r.StreamRevision > head {
			head = r.StreamRevision
		}
	}

	snapshots := tx.Bucket(bucketSnapshots)
	scur := snapshots.Cursor()
	for k, _ := scur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = scur.Next() {
		rev := binary.BigEndian.Uint64(k[16:])
		if rev > snap {
			snap = rev
		}
	}

	return head, snap
}

func unixNanoToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
