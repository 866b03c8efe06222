package memorypersistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Tigraine/EventStore/persistence"
	"github.com/Tigraine/EventStore/persistence/memorypersistence"
)

func newCommit(streamID uuid.UUID, seq uint64) *persistence.Commit {
	return &persistence.Commit{
		StreamID:               streamID,
		CommitID:               uuid.New(),
		CommitSequence:         seq,
		CommitStamp:            time.Now(),
		StartingStreamRevision: seq,
		StreamRevision:         seq,
		Events:                 []interface{}{"event"},
	}
}

func TestEngineCommitAndGetFromRevision(t *testing.T) {
	ctx := context.Background()
	e := memorypersistence.New()
	defer e.Close()

	streamID := uuid.New()

	for seq := uint64(1); seq <= 3; seq++ {
		if err := e.Commit(ctx, newCommit(streamID, seq)); err != nil {
			t.Fatalf("Commit() returned an unexpected error: %s", err)
		}
	}

	commits, err := e.GetFromRevision(ctx, streamID, 2)
	if err != nil {
		t.Fatalf("GetFromRevision() returned an unexpected error: %s", err)
	}

	if len(commits) != 2 {
		t.Fatalf("len(commits) = %d, want 2", len(commits))
	}
}

func TestEngineCommitDetectsDuplicateCommit(t *testing.T) {
	ctx := context.Background()
	e := memorypersistence.New()
	defer e.Close()

	streamID := uuid.New()
	c := newCommit(streamID, 1)

	if err := e.Commit(ctx, c); err != nil {
		t.Fatalf("Commit() returned an unexpected error: %s", err)
	}

	if err := e.Commit(ctx, c); err == nil {
		t.Fatal("expected a DuplicateCommitError, got nil")
	} else if _, ok := err.(persistence.DuplicateCommitError); !ok {
		t.Fatalf("Commit() returned %T, want persistence.DuplicateCommitError", err)
	}
}

func TestEngineCommitDetectsCommitIDReusedAcrossStreams(t *testing.T) {
	ctx := context.Background()
	e := memorypersistence.New()
	defer e.Close()

	c1 := newCommit(uuid.New(), 1)
	if err := e.Commit(ctx, c1); err != nil {
		t.Fatalf("Commit() returned an unexpected error: %s", err)
	}

	reused := newCommit(uuid.New(), 1)
	reused.CommitID = c1.CommitID

	if err := e.Commit(ctx, reused); err == nil {
		t.Fatal("expected a DuplicateCommitError, got nil")
	} else if _, ok := err.(persistence.DuplicateCommitError); !ok {
		t.Fatalf("Commit() returned %T, want persistence.DuplicateCommitError", err)
	}
}

func TestEngineCommitDetectsConcurrency(t *testing.T) {
	ctx := context.Background()
	e := memorypersistence.New()
	defer e.Close()

	streamID := uuid.New()

	if err := e.Commit(ctx, newCommit(streamID, 1)); err != nil {
		t.Fatalf("Commit() returned an unexpected error: %s", err)
	}

	conflicting := newCommit(streamID, 1)
	if err := e.Commit(ctx, conflicting); err == nil {
		t.Fatal("expected a ConcurrencyError, got nil")
	} else if _, ok := err.(persistence.ConcurrencyError); !ok {
		t.Fatalf("Commit() returned %T, want persistence.ConcurrencyError", err)
	}
}

func TestEngineMarkCommitAsDispatched(t *testing.T) {
	ctx := context.Background()
	e := memorypersistence.New()
	defer e.Close()

	streamID := uuid.New()
	if err := e.Commit(ctx, newCommit(streamID, 1)); err != nil {
		t.Fatalf("Commit() returned an unexpected error: %s", err)
	}

	undispatched, err := e.GetUndispatchedCommits(ctx)
	if err != nil {
		t.Fatalf("GetUndispatchedCommits() returned an unexpected error: %s", err)
	}
	if len(undispatched) != 1 {
		t.Fatalf("len(undispatched) = %d, want 1", len(undispatched))
	}

	if err := e.MarkCommitAsDispatched(ctx, streamID, 1); err != nil {
		t.Fatalf("MarkCommitAsDispatched() returned an unexpected error: %s", err)
	}

	undispatched, err = e.GetUndispatchedCommits(ctx)
	if err != nil {
		t.Fatalf("GetUndispatchedCommits() returned an unexpected error: %s", err)
	}
	if len(undispatched) != 0 {
		t.Fatalf("len(undispatched) = %d, want 0", len(undispatched))
	}
}

func TestEngineSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := memorypersistence.New()
	defer e.Close()

	streamID := uuid.New()
	snap := &persistence.Snapshot{
		StreamID:       streamID,
		StreamRevision: 5,
		CommitStamp:    time.Now(),
		Payload:        "state",
	}

	if err := e.AddSnapshot(ctx, snap); err != nil {
		t.Fatalf("AddSnapshot() returned an unexpected error: %s", err)
	}

	got, err := e.GetSnapshot(ctx, streamID, persistence.MaxRevision)
	if err != nil {
		t.Fatalf("GetSnapshot() returned an unexpected error: %s", err)
	}
	if got == nil {
		t.Fatal("GetSnapshot() returned nil")
	}
	if got.StreamRevision != 5 {
		t.Fatalf("got.StreamRevision = %d, want 5", got.StreamRevision)
	}
}

func TestEngineGetSnapshotReturnsNilWhenNoneExists(t *testing.T) {
	ctx := context.Background()
	e := memorypersistence.New()
	defer e.Close()

	got, err := e.GetSnapshot(ctx, uuid.New(), persistence.MaxRevision)
	if err != nil {
		t.Fatalf("GetSnapshot() returned an unexpected error: %s", err)
	}
	if got != nil {
		t.Fatalf("GetSnapshot() = %v, want nil", got)
	}
}

func TestEngineClonesCommitsToPreventExternalMutation(t *testing.T) {
	ctx := context.Background()
	e := memorypersistence.New()
	defer e.Close()

	streamID := uuid.New()
	c := newCommit(streamID, 1)
	if err := e.Commit(ctx, c); err != nil {
		t.Fatalf("Commit() returned an unexpected error: %s", err)
	}

	commits, err := e.GetFromRevision(ctx, streamID, 1)
	if err != nil {
		t.Fatalf("GetFromRevision() returned an unexpected error: %s", err)
	}

	commits[0].Events[0] = "mutated"

	commits2, err := e.GetFromRevision(ctx, streamID, 1)
	if err != nil {
		t.Fatalf("GetFromRevision() returned an unexpected error: %s", err)
	}

	if commits2[0].Events[0] == "mutated" {
		t.Fatal("mutating a returned commit affected the store's internal state")
	}
}
