package boltpersistence

import (
	"context"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/Tigraine/EventStore/internal/x/bboltx"
	"github.com/Tigraine/EventStore/persistence"
)

// commitRecord is the backend-specific, wire representation of a Commit.
// Header and event payloads are pre-serialized by the engine's
// persistence.Serializer before being stored here.
type commitRecord struct {
	CommitID               uuid.UUID
	StartingStreamRevision uint64
	StreamRevision         uint64
	CommitStampUnixNano    int64
	Headers                []byte
	Events                 [][]byte
	Dispatched             bool
}

func (e *Engine) toRecord(c *persistence.Commit) (*commitRecord, error) {
	headers, err := e.serializer.Serialize(c.Headers)
	if err != nil {
		return nil, err
	}

	events := make([][]byte, len(c.Events))
	for i, ev := range c.Events {
		data, err := e.serializer.Serialize(ev)
		if err != nil {
			return nil, err
		}
		events[i] = data
	}

	return &commitRecord{
		CommitID:               c.CommitID,
		StartingStreamRevision: c.StartingStreamRevision,
		StreamRevision:         c.StreamRevision,
		CommitStampUnixNano:    c.CommitStamp.UnixNano(),
		Headers:                headers,
		Events:                 events,
		Dispatched:             c.Dispatched,
	}, nil
}

func (e *Engine) fromRecord(streamID uuid.UUID, commitSequence uint64, r *commitRecord) (*persistence.Commit, error) {
	var headers map[string]interface{}
	if len(r.Headers) > 0 {
		if err := e.serializer.Deserialize(r.Headers, &headers); err != nil {
			return nil, err
		}
	}

	events := make([]interface{}, len(r.Events))
	for i, data := range r.Events {
		var v interface{}
		if err := e.serializer.Deserialize(data, &v); err != nil {
			return nil, err
		}
		events[i] = v
	}

	return &persistence.Commit{
		StreamID:               streamID,
		CommitID:               r.CommitID,
		CommitSequence:         commitSequence,
		CommitStamp:            time.Unix(0, r.CommitStampUnixNano).UTC(),
		StartingStreamRevision: r.StartingStreamRevision,
		StreamRevision:         r.StreamRevision,
		Headers:                headers,
		Events:                 events,
		Dispatched:             r.Dispatched,
	}, nil
}

// Commit appends c to its stream.
func (e *Engine) Commit(ctx context.Context, c *persistence.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := e.mu.Lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	err := e.db.Update(func(tx *bbolt.Tx) (err error) {
		defer bboltx.Recover(&err)

		commits := tx.Bucket(bucketCommits)
		byID := tx.Bucket(bucketCommitsByID)

		key := commitKey(c.StreamID, c.CommitSequence)

		// CommitId is unique globally, not just within this stream, so the
		// commits_by_id index is the authoritative duplicate check: if it
		// already has an entry, the caller has retried (or misused) a
		// CommitId that has already been durably committed, regardless of
		// which stream or position it was committed at.
		if byID.Get(commitByIDKey(c.CommitID)) != nil {
			return persistence.DuplicateCommitError{
				StreamID:       c.StreamID,
				CommitSequence: c.CommitSequence,
			}
		}

		if commits.Get(key) != nil {
			return persistence.ConcurrencyError{
				StreamID:       c.StreamID,
				CommitSequence: c.CommitSequence,
			}
		}

		rec, serErr := e.toRecord(c)
		if serErr != nil {
			return serErr
		}

		data, marshalErr := json.Marshal(rec)
		bboltx.Must(marshalErr)

		bboltx.Put(commits, key, data)
		bboltx.Put(byID, commitByIDKey(c.CommitID), key)

		sk := stampKey(c.CommitStamp.UnixNano(), c.StreamID, c.CommitSequence)
		bboltx.Put(tx.Bucket(bucketCommitsByStamp), sk, nil)
		bboltx.Put(tx.Bucket(bucketUndispatched), sk, nil)

		return nil
	})
	if err != nil {
		return err
	}

	e.maintainer.NotifyCommit(c.StreamID, c.StreamRevision)

	return nil
}

// GetFromRevision returns every commit for streamID with a StreamRevision
// of at least minRevision.
func (e *Engine) GetFromRevision(ctx context.Context, streamID uuid.UUID, minRevision uint64) ([]*persistence.Commit, error) {
	return e.GetFromRevisionRange(ctx, streamID, minRevision, persistence.MaxRevision)
}

// GetFromRevisionRange returns every commit for streamID whose revision
// range intersects [minRevision, maxRevision].
func (e *Engine) GetFromRevisionRange(ctx context.Context, streamID uuid.UUID, minRevision, maxRevision uint64) (result []*persistence.Commit, err error) {
	if err := e.mu.RLock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	err = e.db.View(func(tx *bbolt.Tx) (err error) {
		defer bboltx.Recover(&err)

		commits := tx.Bucket(bucketCommits)
		c := commits.Cursor()

		prefix := streamID[:]
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			_, seq := splitCommitKey(k)

			var r commitRecord
			bboltx.Must(json.Unmarshal(v, &r))

			if r.StreamRevision < minRevision || r.StartingStreamRevision > maxRevision {
				continue
			}

			commit, convErr := e.fromRecord(streamID, seq, &r)
			if convErr != nil {
				return convErr
			}

			result = append(result, commit)
		}

		return nil
	})

	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	return result, nil
}

// GetFromTime returns every commit with a CommitStamp of at least start,
// across all streams, in commit-stamp order.
func (e *Engine) GetFromTime(ctx context.Context, start time.Time) (result []*persistence.Commit, err error) {
	if err := e.mu.RLock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	err = e.db.View(func(tx *bbolt.Tx) (err error) {
		defer bboltx.Recover(&err)

		byStamp := tx.Bucket(bucketCommitsByStamp)
		commits := tx.Bucket(bucketCommits)
		cur := byStamp.Cursor()

		from := stampKeyPrefix(start.UnixNano())
		for k, _ := cur.Seek(from); k != nil; k, _ = cur.Next() {
			streamID, seq := stampKeyCommit(k)

			v := commits.Get(commitKey(streamID, seq))
			if v == nil {
				continue
			}

			var r commitRecord
			bboltx.Must(json.Unmarshal(v, &r))

			commit, convErr := e.fromRecord(streamID, seq, &r)
			if convErr != nil {
				return convErr
			}

			result = append(result, commit)
		}

		return nil
	})

	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	return result, nil
}

// GetUndispatchedCommits returns every commit across all streams that has
// not yet been marked as dispatched, in commit-stamp order.
func (e *Engine) GetUndispatchedCommits(ctx context.Context) (result []*persistence.Commit, err error) {
	if err := e.mu.RLock(ctx); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	err = e.db.View(func(tx *bbolt.Tx) (err error) {
		defer bboltx.Recover(&err)

		undispatched := tx.Bucket(bucketUndispatched)
		commits := tx.Bucket(bucketCommits)
		cur := undispatched.Cursor()

		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			streamID, seq := stampKeyCommit(k)

			v := commits.Get(commitKey(streamID, seq))
			if v == nil {
				continue
			}

			var r commitRecord
			bboltx.Must(json.Unmarshal(v, &r))

			commit, convErr := e.fromRecord(streamID, seq, &r)
			if convErr != nil {
				return convErr
			}

			result = append(result, commit)
		}

		return nil
	})

	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	return result, nil
}

// MarkCommitAsDispatched marks the identified commit as dispatched.
func (e *Engine) MarkCommitAsDispatched(ctx context.Context, streamID uuid.UUID, commitSequence uint64) error {
	if err := e.mu.Lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	err := e.db.Update(func(tx *bbolt.Tx) (err error) {
		defer bboltx.Recover(&err)

		commits := tx.Bucket(bucketCommits)
		key := commitKey(streamID, commitSequence)

		v := commits.Get(key)
		if v == nil {
			return nil
		}

		var r commitRecord
		bboltx.Must(json.Unmarshal(v, &r))

		if r.Dispatched {
			return nil
		}

		r.Dispatched = true

		data, marshalErr := json.Marshal(r)
		bboltx.Must(marshalErr)
		bboltx.Put(commits, key, data)

		sk := stampKey(r.CommitStampUnixNano, streamID, commitSequence)
		bboltx.Must(tx.Bucket(bucketUndispatched).Delete(sk))

		return nil
	})

	if err != nil {
		return persistence.StorageError{Cause: err}
	}

	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
