// Package postgres provides the sqlpersistence.Dialect for PostgreSQL,
// via github.com/lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/Tigraine/EventStore/internal/x/sqlx"
	"github.com/Tigraine/EventStore/persistence/sqlpersistence"
)

// Dialect is the sqlpersistence.Dialect for PostgreSQL.
var Dialect sqlpersistence.Dialect = dialect{}

type dialect struct{}

func (dialect) Name() string {
	return "postgres"
}

// IsCompatibleWith returns nil if db is driven by lib/pq.
func (dialect) IsCompatibleWith(ctx context.Context, db *sql.DB) error {
	return db.QueryRowContext(ctx, `SELECT pg_backend_pid() WHERE 1 = $1`, 1).Err()
}

// CreateSchema creates the eventstore tables and indexes. It tolerates
// being run against a database that already has them.
func (dialect) CreateSchema(ctx context.Context, db *sql.DB) (err error) {
	defer sqlx.Recover(&err)

	tx := sqlx.Begin(ctx, db)
	defer tx.Rollback() // nolint:errcheck

	sqlx.Exec(ctx, tx, `
		CREATE TABLE IF NOT EXISTS eventstore_commit (
			stream_id                CHAR(36) NOT NULL,
			commit_id                CHAR(36) NOT NULL,
			commit_sequence          BIGINT   NOT NULL,
			starting_stream_revision BIGINT   NOT NULL,
			stream_revision          BIGINT   NOT NULL,
			commit_stamp             BIGINT   NOT NULL,
			headers                  BYTEA    NOT NULL,
			payload                  BYTEA    NOT NULL,
			dispatched               BOOLEAN  NOT NULL DEFAULT FALSE,

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
		WHERE dispatched = FALSE
	`)

	sqlx.Exec(ctx, tx, `
		CREATE INDEX IF NOT EXISTS eventstore_commit_revision_range
		ON eventstore_commit (stream_id, starting_stream_revision, stream_revision)
	`)

	sqlx.Exec(ctx, tx, `
		CREATE TABLE IF NOT EXISTS eventstore_snapshot (
			stream_id       CHAR(36) NOT NULL,
			stream_revision BIGINT   NOT NULL,
			commit_stamp    BIGINT   NOT NULL,
			payload         BYTEA    NOT NULL,

			PRIMARY KEY (stream_id, stream_revision)
		)
	`)

	sqlx.Exec(ctx, tx, `
		CREATE TABLE IF NOT EXISTS eventstore_stream_head (
			stream_id         CHAR(36) NOT NULL PRIMARY KEY,
			head_revision     BIGINT   NOT NULL,
			snapshot_revision BIGINT   NOT NULL
		)
	`)

	return tx.Commit()
}

// Placeholder returns the $n-style placeholder used by lib/pq.
func (dialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// IsConflictError reports whether err is a unique_violation (SQLSTATE
// class 23) reported by lib/pq.
func (dialect) IsConflictError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return strings.HasPrefix(string(pqErr.Code), "23")
}

// UpsertStreamHead returns the ON CONFLICT DO UPDATE statement used to
// apply stream-head updates.
func (dialect) UpsertStreamHead() string {
	return `
		INSERT INTO eventstore_stream_head (stream_id, head_revision, snapshot_revision)
		VALUES ($1, $2, $3)
		ON CONFLICT (stream_id) DO UPDATE SET
			head_revision     = GREATEST(eventstore_stream_head.head_revision, EXCLUDED.head_revision),
			snapshot_revision = GREATEST(eventstore_stream_head.snapshot_revision, EXCLUDED.snapshot_revision)
	`
}
