package postgres_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/lib/pq"

	"github.com/Tigraine/EventStore/persistence/sqlpersistence/postgres"
)

func TestDialectName(t *testing.T) {
	if got := postgres.Dialect.Name(); got != "postgres" {
		t.Fatalf("Name() = %q, want %q", got, "postgres")
	}
}

func TestDialectPlaceholder(t *testing.T) {
	if got := postgres.Dialect.Placeholder(1); got != "$1" {
		t.Fatalf("Placeholder(1) = %q, want %q", got, "$1")
	}
	if got := postgres.Dialect.Placeholder(9); got != "$9" {
		t.Fatalf("Placeholder(9) = %q, want %q", got, "$9")
	}
}

func TestDialectIsConflictError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pq.Error{Code: "23505"}, true},
		{"other SQLSTATE class", &pq.Error{Code: "42601"}, false},
		{"unrelated error", errors.New("boom"), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := postgres.Dialect.IsConflictError(c.err); got != c.want {
				t.Fatalf("IsConflictError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestDialectUpsertStreamHead(t *testing.T) {
	stmt := postgres.Dialect.UpsertStreamHead()
	if !strings.Contains(stmt, "ON CONFLICT") || !strings.Contains(stmt, "GREATEST") {
		t.Fatalf("UpsertStreamHead() does not look like an upsert: %s", stmt)
	}
}
