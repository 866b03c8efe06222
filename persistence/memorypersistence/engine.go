// Package memorypersistence provides an in-memory persistence.Engine,
// intended for tests and single-process use. It has no durability.
package memorypersistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tigraine/EventStore/internal/streamhead"
	"github.com/Tigraine/EventStore/persistence"
)

// Engine is an in-memory persistence.Engine.
type Engine struct {
	maintainer *streamhead.Maintainer

	mu          sync.RWMutex
	commits     map[uuid.UUID][]*persistence.Commit  // by stream id, ordered by commit sequence
	commitByID  map[uuid.UUID]commitPosition          // by commit id, global across streams
	snapshots   map[uuid.UUID][]*persistence.Snapshot
	streamHeads map[uuid.UUID]persistence.StreamHead
	closed      bool
}

// commitPosition locates a durable commit by its (StreamID, CommitSequence)
// primary key, so commitByID can report where a reused CommitId already
// lives without holding a second copy of the whole commit.
type commitPosition struct {
	streamID       uuid.UUID
	commitSequence uint64
}

// New returns a new, empty in-memory engine.
func New(options ...streamhead.Option) *Engine {
	e := &Engine{
		commits:     make(map[uuid.UUID][]*persistence.Commit),
		commitByID:  make(map[uuid.UUID]commitPosition),
		snapshots:   make(map[uuid.UUID][]*persistence.Snapshot),
		streamHeads: make(map[uuid.UUID]persistence.StreamHead),
	}
	e.maintainer = streamhead.New(e, options...)
	return e
}

// Initialize is a no-op; the in-memory engine requires no setup.
func (e *Engine) Initialize(context.Context) error {
	return nil
}

// Commit appends c to its stream.
func (e *Engine) Commit(_ context.Context, c *persistence.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// CommitId is unique globally, not just within this stream: a reused
	// CommitId, even at a different position or in a different stream, is
	// always a duplicate of the commit already stored at pos.
	if pos, ok := e.commitByID[c.CommitID]; ok {
		return persistence.DuplicateCommitError{
			StreamID:       pos.streamID,
			CommitSequence: pos.commitSequence,
		}
	}

	stream := e.commits[c.StreamID]

	for _, existing := range stream {
		if existing.CommitSequence == c.CommitSequence {
			return persistence.ConcurrencyError{
				StreamID:       c.StreamID,
				CommitSequence: c.CommitSequence,
			}
		}
	}

	stored := cloneCommit(c)
	e.commits[c.StreamID] = append(stream, stored)
	e.commitByID[c.CommitID] = commitPosition{streamID: c.StreamID, commitSequence: c.CommitSequence}

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
func (e *Engine) GetFromRevisionRange(_ context.Context, streamID uuid.UUID, minRevision, maxRevision uint64) ([]*persistence.Commit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []*persistence.Commit
	for _, c := range e.commits[streamID] {
		if c.StreamRevision >= minRevision && c.StartingStreamRevision <= maxRevision {
			result = append(result, cloneCommit(c))
		}
	}

	return result, nil
}

// GetFromTime returns every commit with a CommitStamp of at least start,
// across all streams, in commit-stamp order.
func (e *Engine) GetFromTime(_ context.Context, start time.Time) ([]*persistence.Commit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []*persistence.Commit
	for _, stream := range e.commits {
		for _, c := range stream {
			if !c.CommitStamp.Before(start) {
				result = append(result, cloneCommit(c))
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CommitStamp.Before(result[j].CommitStamp)
	})

	return result, nil
}

// GetUndispatchedCommits returns every commit across all streams that has
// not yet been marked as dispatched.
func (e *Engine) GetUndispatchedCommits(_ context.Context) ([]*persistence.Commit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []*persistence.Commit
	for _, stream := range e.commits {
		for _, c := range stream {
			if !c.Dispatched {
				result = append(result, cloneCommit(c))
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CommitStamp.Before(result[j].CommitStamp)
	})

	return result, nil
}

// MarkCommitAsDispatched marks the identified commit as dispatched.
func (e *Engine) MarkCommitAsDispatched(_ context.Context, streamID uuid.UUID, commitSequence uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range e.commits[streamID] {
		if c.CommitSequence == commitSequence {
			c.Dispatched = true
			return nil
		}
	}

	return nil
}

// GetSnapshot returns the most recent snapshot for streamID with a
// StreamRevision of at most maxRevision, or nil if none exists.
func (e *Engine) GetSnapshot(_ context.Context, streamID uuid.UUID, maxRevision uint64) (*persistence.Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var best *persistence.Snapshot
	for _, s := range e.snapshots[streamID] {
		if s.StreamRevision <= maxRevision && (best == nil || s.StreamRevision > best.StreamRevision) {
			best = s
		}
	}

	if best == nil {
		return nil, nil
	}

	clone := *best
	return &clone, nil
}

// AddSnapshot stores s. Adding a snapshot that already exists at
// (StreamID, StreamRevision) is a silent no-op, not an error.
func (e *Engine) AddSnapshot(_ context.Context, s *persistence.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.snapshots[s.StreamID] {
		if existing.StreamRevision == s.StreamRevision {
			return nil
		}
	}

	clone := *s
	e.snapshots[s.StreamID] = append(e.snapshots[s.StreamID], &clone)

	head := e.streamHeads[s.StreamID]
	e.maintainer.NotifySnapshot(s.StreamID, head.HeadRevision, s.StreamRevision)

	return nil
}

// GetStreamHead returns the current derived summary for streamID.
func (e *Engine) GetStreamHead(_ context.Context, streamID uuid.UUID) (persistence.StreamHead, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	head, ok := e.streamHeads[streamID]
	if !ok {
		return persistence.StreamHead{StreamID: streamID}, nil
	}

	return head, nil
}

// GetStreamsToSnapshot returns the IDs of streams whose unsnapshotted
// revision count is at least threshold.
func (e *Engine) GetStreamsToSnapshot(_ context.Context, threshold uint64) ([]uuid.UUID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []uuid.UUID
	for id, head := range e.streamHeads {
		if head.UnsnapshottedRevisionCount() >= threshold {
			result = append(result, id)
		}
	}

	return result, nil
}

// Close stops the stream-head maintainer.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	return e.maintainer.Close()
}

// Upsert implements streamhead.Updater, applying a single stream-head
// update directly against the in-memory map under the engine's own mutex.
func (e *Engine) Upsert(_ context.Context, streamID uuid.UUID, headRevision uint64, snapshotRevision *uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	head, seen := e.streamHeads[streamID]
	if !seen {
		// First time this stream's head is being maintained in this
		// process: rebuild it from the commit/snapshot history rather than
		// trusting headRevision/snapshotRevision alone, in case an earlier
		// update for this stream was dropped before reaching here.
		head = e.rebuildStreamHead(streamID)
	}

	head.StreamID = streamID
	if headRevision > head.HeadRevision {
		head.HeadRevision = headRevision
	}
	if snapshotRevision != nil && *snapshotRevision > head.SnapshotRevision {
		head.SnapshotRevision = *snapshotRevision
	}
	e.streamHeads[streamID] = head

	return nil
}

// rebuildStreamHead derives streamID's head and snapshot revisions
// directly from its stored commits and snapshots.
func (e *Engine) rebuildStreamHead(streamID uuid.UUID) persistence.StreamHead {
	head := persistence.StreamHead{StreamID: streamID}

	for _, c := range e.commits[streamID] {
		if c.StreamRevision > head.HeadRevision {
			head.HeadRevision = c.StreamRevision
		}
	}

	for _, s := range e.snapshots[streamID] {
		if s.StreamRevision > head.SnapshotRevision {
			head.SnapshotRevision = s.StreamRevision
		}
	}

	return head
}

func cloneCommit(c *persistence.Commit) *persistence.Commit {
	clone := *c

	if c.Headers != nil {
		clone.Headers = make(map[string]interface{}, len(c.Headers))
		for k, v := range c.Headers {
			clone.Headers[k] = v
		}
	}

	clone.Events = append([]interface{}(nil), c.Events...)

	return &clone
}
