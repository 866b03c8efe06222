// Package sqlpersistence provides a persistence.Engine backed by a
// database/sql connection, parameterized by a Dialect so the same engine
// code runs against PostgreSQL, MySQL or SQLite.
package sqlpersistence

import (
	"context"
	"database/sql"
)

// Dialect adapts the generic Engine to a specific SQL database.
type Dialect interface {
	// Name identifies the dialect, for diagnostics.
	Name() string

	// IsCompatibleWith probes db to determine whether it is driven by
	// this dialect's driver. It is used by NewDialect to auto-detect the
	// dialect from an already-open *sql.DB.
	IsCompatibleWith(ctx context.Context, db *sql.DB) error

	// CreateSchema creates the tables and indexes used by the engine. It
	// must tolerate being called against a database that already has the
	// schema.
	CreateSchema(ctx context.Context, db *sql.DB) error

	// Placeholder returns the positional parameter placeholder for the
	// n-th (1-based) argument of a statement.
	Placeholder(n int) string

	// IsConflictError reports whether err represents a unique constraint
	// violation.
	IsConflictError(err error) bool

	// UpsertStreamHead returns the parameterized statement used to apply
	// a stream-head update, taking three positional arguments in order:
	// stream_id, head_revision, snapshot_revision. An existing row's
	// revisions are raised to the greater of their current value and the
	// incoming one, since updates may be applied out of order.
	UpsertStreamHead() string
}

// NewDialect probes db against every registered Dialect and returns the
// first one that reports compatibility.
func NewDialect(ctx context.Context, db *sql.DB, candidates ...Dialect) (Dialect, error) {
	var errs []error

	for _, d := range candidates {
		if err := d.IsCompatibleWith(ctx, db); err == nil {
			return d, nil
		} else {
			errs = append(errs, err)
		}
	}

	return nil, &UnsupportedDriverError{Causes: errs}
}

// UnsupportedDriverError is returned by NewDialect when no candidate
// dialect is compatible with the given database connection.
type UnsupportedDriverError struct {
	Causes []error
}

func (e *UnsupportedDriverError) Error() string {
	return "no compatible SQL dialect was found for this database connection"
}
