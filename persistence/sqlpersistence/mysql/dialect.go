// Package mysql provides the sqlpersistence.Dialect for MySQL, via
// github.com/go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/Tigraine/EventStore/internal/x/sqlx"
	"github.com/Tigraine/EventStore/persistence/sqlpersistence"
)

// mysqlDuplicateEntry is the error number MySQL reports for a violated
// unique index.
const mysqlDuplicateEntry = 1062

// Dialect is the sqlpersistence.Dialect for MySQL.
var Dialect sqlpersistence.Dialect = dialect{}

type dialect struct{}

func (dialect) Name() string {
	return "mysql"
}

// IsCompatibleWith returns nil if db accepts ?-style placeholders and
// MySQL's SHOW VARIABLES statement. The probe succeeds whether or not the
// innodb_page_size variable is present; InnoDB support is not checked.
func (dialect) IsCompatibleWith(ctx context.Context, db *sql.DB) error {
	if err := db.QueryRowContext(ctx, `SELECT ?`, 1).Err(); err != nil {
		return err
	}

	return db.QueryRowContext(ctx, `SHOW VARIABLES LIKE "innodb_page_size"`).Err()
}

// CreateSchema creates the eventstore tables and indexes. It tolerates
// being run against a database that already has them.
func (dialect) CreateSchema(ctx context.Context, db *sql.DB) (err error) {
	defer sqlx.Recover(&err)

	tx := sqlx.Begin(ctx, db)
	defer tx.Rollback() // nolint:errcheck

	sqlx.Exec(ctx, tx, `
		CREATE TABLE IF NOT EXISTS eventstore_commit (
			stream_id                CHAR(36)     NOT NULL,
			commit_id                CHAR(36)     NOT NULL,
			commit_sequence          BIGINT       NOT NULL,
			starting_stream_revision BIGINT       NOT NULL,
			stream_revision          BIGINT       NOT NULL,
			commit_stamp             BIGINT       NOT NULL,
			headers                  LONGBLOB     NOT NULL,
			payload                  LONGBLOB     NOT NULL,
			dispatched               BOOLEAN      NOT NULL DEFAULT FALSE,

			PRIMARY KEY (stream_id, commit_sequence),
			UNIQUE KEY eventstore_commit_id (commit_id),
			UNIQUE KEY eventstore_commit_stream_revision (stream_id, stream_revision),
			KEY eventstore_commit_stamp (commit_stamp),
			KEY eventstore_commit_undispatched (dispatched, commit_stamp),
			KEY eventstore_commit_revision_range (stream_id, starting_stream_revision, stream_revision)
		) ENGINE=InnoDB
	`)

	sqlx.Exec(ctx, tx, `
		CREATE TABLE IF NOT EXISTS eventstore_snapshot (
			stream_id       CHAR(36) NOT NULL,
			stream_revision BIGINT   NOT NULL,
			commit_stamp    BIGINT   NOT NULL,
			payload         LONGBLOB NOT NULL,

			PRIMARY KEY (stream_id, stream_revision)
		) ENGINE=InnoDB
	`)

	sqlx.Exec(ctx, tx, `
		CREATE TABLE IF NOT EXISTS eventstore_stream_head (
			stream_id         CHAR(36) NOT NULL PRIMARY KEY,
			head_revision     BIGINT   NOT NULL,
			snapshot_revision BIGINT   NOT NULL
		) ENGINE=InnoDB
	`)

	return tx.Commit()
}

// Placeholder returns the ?-style placeholder used by go-sql-driver/mysql.
// MySQL does not support numbered placeholders, so n is ignored.
func (dialect) Placeholder(int) string {
	return "?"
}

// IsConflictError reports whether err is error 1062 (ER_DUP_ENTRY), as
// reported by go-sql-driver/mysql.
func (dialect) IsConflictError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return false
	}
	return mysqlErr.Number == mysqlDuplicateEntry
}

// UpsertStreamHead returns the ON DUPLICATE KEY UPDATE statement used to
// apply stream-head updates.
func (dialect) UpsertStreamHead() string {
	return `
		INSERT INTO eventstore_stream_head (stream_id, head_revision, snapshot_revision)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			head_revision     = GREATEST(head_revision, VALUES(head_revision)),
			snapshot_revision = GREATEST(snapshot_revision, VALUES(snapshot_revision))
	`
}
