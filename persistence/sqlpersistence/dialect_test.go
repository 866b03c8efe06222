package sqlpersistence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Tigraine/EventStore/internal/testing/sqltest"
	"github.com/Tigraine/EventStore/persistence/sqlpersistence"
	"github.com/Tigraine/EventStore/persistence/sqlpersistence/postgres"
	"github.com/Tigraine/EventStore/persistence/sqlpersistence/sqlite"
)

func TestNewDialectDetectsCompatibleCandidate(t *testing.T) {
	db, close := sqltest.Open()
	defer close()

	dialect, err := sqlpersistence.NewDialect(context.Background(), db, postgres.Dialect, sqlite.Dialect)
	if err != nil {
		t.Fatalf("NewDialect() returned an unexpected error: %s", err)
	}

	if dialect.Name() != "sqlite" {
		t.Fatalf("NewDialect() selected %q, want %q", dialect.Name(), "sqlite")
	}
}

func TestNewDialectReturnsErrorWhenNoCandidateMatches(t *testing.T) {
	db, close := sqltest.Open()
	defer close()

	_, err := sqlpersistence.NewDialect(context.Background(), db, postgres.Dialect)
	if err == nil {
		t.Fatal("NewDialect() did not return an error")
	}

	var unsupportedErr *sqlpersistence.UnsupportedDriverError
	if !errors.As(err, &unsupportedErr) {
		t.Fatalf("expected *UnsupportedDriverError, got %T", err)
	}
}
