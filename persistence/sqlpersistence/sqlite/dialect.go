// Package sqlite provides the sqlpersistence.Dialect for SQLite, via
// github.com/mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/mattn/go-sqlite3"

	"github.com/Tigraine/EventStore/internal/x/sqlx"
	"github.com/Tigraine/EventStore/persistence/sqlpersistence"
)

// Dialect is the sqlpersistence.Dialect for SQLite.
var Dialect sqlpersistence.Dialect = dialect{}

type dialect struct{}

func (dialect) Name() string {
	return "sqlite"
}

// IsCompatibleWith returns nil if db is driven by mattn/go-sqlite3 and
// supports $n-style placeholders.
func (dialect) IsCompatibleWith(ctx context.Context, db *sql.DB) error {
	return db.QueryRowContext(ctx, `SELECT sqlite_version() WHERE 1 = $1`, 1).Err()
}

// CreateSchema creates the eventstore tables and indexes. It tolerates
// being run against a database that already has them.
func (dialect) CreateSchema(ctx context.Context, db *sql.DB) (err error) {
	defer sqlx.Recover(&err)

	tx := sqlx.Begin(ctx, db)
	defer tx.Rollback() // nolint:errcheck

	sqlx.Exec(ctx, tx, `
		CREATE TABLE IF NOT EXISTS eventstore_commit (
			stream_id                TEXT    NOT NULL,
			commit_id                TEXT    NOT NULL,
			commit_sequence          INTEGER NOT NULL,
			starting_stream_revision INTEGER NOT NULL,
			stream_revision          INTEGER NOT NULL,
			commit_stamp             INTEGER NOT NULL,
			headers                  BLOB    NOT NULL,
			payload                  BLOB    NOT NULL,
			dispatched               INTEGER NOT NULL DEFAULT 0,

			PRIMARY KEY (stream_id, commit_sequence),
			UNIQUE      (commit_id),
			UNIQUE      (stream_id, stream_revision)
		)
	`)

	sqlx.Exec(ctx, tx, `
		CREATE INDEX IF NOT EXISTS eventstore_commit_stamp
		ON eventstore_commit (commit_stamp)
	`)

	sqlx.Exec(ctx, tx, `
		CREATE INDEX IF NOT EXISTS eventstore_commit_undispatched
		ON eventstore_commit (dispatched, commit_stamp)
	`)

	sqlx.Exec(ctx, tx, `
		CREATE INDEX IF NOT EXISTS eventstore_commit_revision_range
		ON eventstore_commit (stream_id, starting_stream_revision, stream_revision)
	`)

	sqlx.Exec(ctx, tx, `
		CREATE TABLE IF NOT EXISTS eventstore_snapshot (
			stream_id       TEXT    NOT NULL,
			stream_revision INTEGER NOT NULL,
			commit_stamp    INTEGER NOT NULL,
			payload         BLOB    NOT NULL,

			PRIMARY KEY (stream_id, stream_revision)
		)
	`)

	sqlx.Exec(ctx, tx, `
		CREATE TABLE IF NOT EXISTS eventstore_stream_head (
			stream_id         TEXT    NOT NULL PRIMARY KEY,
			head_revision     INTEGER NOT NULL,
			snapshot_revision INTEGER NOT NULL
		)
	`)

	return tx.Commit()
}

// Placeholder returns the $n-style placeholder accepted by
// mattn/go-sqlite3.
func (dialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// IsConflictError reports whether err is a unique or primary key
// constraint violation, as reported by mattn/go-sqlite3. ExtendedCode
// distinguishes these from other constraint failures (NOT NULL, CHECK,
// foreign key) that Code alone would also match. SQLite reports a
// violated composite PRIMARY KEY as ErrConstraintPrimaryKey, not
// ErrConstraintUnique.
func (dialect) IsConflictError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// UpsertStreamHead returns the ON CONFLICT DO UPDATE statement used to
// apply stream-head updates. SQLite's scalar MAX() takes the greater of
// its two arguments when given exactly two.
func (dialect) UpsertStreamHead() string {
	return `
		INSERT INTO eventstore_stream_head (stream_id, head_revision, snapshot_revision)
		VALUES ($1, $2, $3)
		ON CONFLICT(stream_id) DO UPDATE SET
			head_revision     = MAX(head_revision, excluded.head_revision),
			snapshot_revision = MAX(snapshot_revision, excluded.snapshot_revision)
	`
}
