package persistence_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Tigraine/EventStore/persistence"
)

func validCommit() *persistence.Commit {
	return &persistence.Commit{
		StreamID:               uuid.New(),
		CommitID:               uuid.New(),
		CommitSequence:         1,
		CommitStamp:            time.Now(),
		StartingStreamRevision: 1,
		StreamRevision:         2,
		Events:                 []interface{}{"a", "b"},
	}
}

func TestCommitValidateAcceptsWellFormedCommit(t *testing.T) {
	c := validCommit()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() returned an unexpected error: %s", err)
	}
}

func TestCommitValidateRejectsEmptyStreamID(t *testing.T) {
	c := validCommit()
	c.StreamID = uuid.Nil

	if err := c.Validate(); err == nil {
		t.Fatal("expected an error, got nil")
	}
}

func TestCommitValidateRejectsEmptyCommitID(t *testing.T) {
	c := validCommit()
	c.CommitID = uuid.Nil

	if err := c.Validate(); err == nil {
		t.Fatal("expected an error, got nil")
	}
}

func TestCommitValidateRejectsZeroCommitSequence(t *testing.T) {
	c := validCommit()
	c.CommitSequence = 0

	if err := c.Validate(); err == nil {
		t.Fatal("expected an error, got nil")
	}
}

func TestCommitValidateRejectsRevisionOutOfOrder(t *testing.T) {
	c := validCommit()
	c.StartingStreamRevision = 5
	c.StreamRevision = 3

	if err := c.Validate(); err == nil {
		t.Fatal("expected an error, got nil")
	}
}

func TestCommitValidateRejectsEmptyEvents(t *testing.T) {
	c := validCommit()
	c.Events = nil

	if err := c.Validate(); err == nil {
		t.Fatal("expected an error, got nil")
	}
}

func TestCommitValidateRejectsEventCountMismatch(t *testing.T) {
	c := validCommit()
	c.Events = []interface{}{"only-one"}

	if err := c.Validate(); err == nil {
		t.Fatal("expected an error, got nil")
	}
}

func TestCommitEventCount(t *testing.T) {
	c := validCommit()

	if got, want := c.EventCount(), uint64(2); got != want {
		t.Fatalf("EventCount() = %d, want %d", got, want)
	}
}
