package sqlpersistence

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Tigraine/EventStore/internal/x/sqlx"
	"github.com/Tigraine/EventStore/persistence"
)

// GetSnapshot returns the most recent snapshot for streamID with a
// StreamRevision of at most maxRevision, or nil if none exists.
func (e *Engine) GetSnapshot(ctx context.Context, streamID uuid.UUID, maxRevision uint64) (*persistence.Snapshot, error) {
	// See GetFromRevisionRange: bounds above math.MaxInt64 are clamped so
	// that database/sql accepts them.
	if maxRevision > math.MaxInt64 {
		maxRevision = math.MaxInt64
	}

	query := fmt.Sprintf(
		`SELECT stream_revision, commit_stamp, payload
		FROM eventstore_snapshot
		WHERE stream_id = %s AND stream_revision <= %s
		ORDER BY stream_revision DESC`,
		e.dialect.Placeholder(1),
		e.dialect.Placeholder(2),
	)

	rows, err := e.db.QueryContext(ctx, query, streamID.String(), maxRevision)
	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, persistence.StorageError{Cause: err}
		}
		return nil, nil
	}

	var (
		streamRevision uint64
		stampUnixNano  int64
		payload        []byte
	)
	if err := rows.Scan(&streamRevision, &stampUnixNano, &payload); err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	var value interface{}
	if len(payload) > 0 {
		if err := e.serializer.Deserialize(payload, &value); err != nil {
			return nil, persistence.StorageError{Cause: err}
		}
	}

	return &persistence.Snapshot{
		StreamID:       streamID,
		StreamRevision: streamRevision,
		CommitStamp:    time.Unix(0, stampUnixNano).UTC(),
		Payload:        value,
	}, nil
}

// AddSnapshot stores s. Adding a snapshot that already exists at
// (StreamID, StreamRevision) is a silent no-op, not an error.
func (e *Engine) AddSnapshot(ctx context.Context, s *persistence.Snapshot) error {
	payload, serErr := e.serializer.Serialize(s.Payload)
	if serErr != nil {
		return serErr
	}

	query := fmt.Sprintf(
		`INSERT INTO eventstore_snapshot (stream_id, stream_revision, commit_stamp, payload)
		VALUES (%s, %s, %s, %s)`,
		e.dialect.Placeholder(1),
		e.dialect.Placeholder(2),
		e.dialect.Placeholder(3),
		e.dialect.Placeholder(4),
	)

	insertErr := func() (err error) {
		defer sqlx.Recover(&err)
		sqlx.Exec(ctx, e.db, query, s.StreamID.String(), s.StreamRevision, s.CommitStamp.UnixNano(), payload)
		return nil
	}()

	if insertErr != nil && !e.dialect.IsConflictError(insertErr) {
		return persistence.StorageError{Cause: insertErr}
	}

	head, headErr := e.GetStreamHead(ctx, s.StreamID)
	if headErr != nil {
		return headErr
	}

	e.maintainer.NotifySnapshot(s.StreamID, head.HeadRevision, s.StreamRevision)

	return nil
}

// GetStreamHead returns the current derived summary for streamID.
func (e *Engine) GetStreamHead(ctx context.Context, streamID uuid.UUID) (persistence.StreamHead, error) {
	query := fmt.Sprintf(
		`SELECT head_revision, snapshot_revision FROM eventstore_stream_head WHERE stream_id = %s`,
		e.dialect.Placeholder(1),
	)

	rows, err := e.db.QueryContext(ctx, query, streamID.String())
	if err != nil {
		return persistence.StreamHead{}, persistence.StorageError{Cause: err}
	}
	defer rows.Close()

	head := persistence.StreamHead{StreamID: streamID}

	if rows.Next() {
		if err := rows.Scan(&head.HeadRevision, &head.SnapshotRevision); err != nil {
			return persistence.StreamHead{}, persistence.StorageError{Cause: err}
		}
	}

	return head, rows.Err()
}

// GetStreamsToSnapshot returns the IDs of streams whose unsnapshotted
// revision count is at least threshold.
func (e *Engine) GetStreamsToSnapshot(ctx context.Context, threshold uint64) ([]uuid.UUID, error) {
	query := fmt.Sprintf(
		`SELECT stream_id FROM eventstore_stream_head WHERE (head_revision - snapshot_revision) >= %s`,
		e.dialect.Placeholder(1),
	)

	rows, err := e.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}
	defer rows.Close()

	var result []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, persistence.StorageError{Cause: err}
		}

		id, err := uuid.Parse(s)
		if err != nil {
			return nil, persistence.StorageError{Cause: err}
		}

		result = append(result, id)
	}

	return result, rows.Err()
}

// Upsert implements streamhead.Updater.
func (e *Engine) Upsert(ctx context.Context, streamID uuid.UUID, headRevision uint64, snapshotRevision *uint64) (err error) {
	defer sqlx.Recover(&err)

	var snap uint64
	if snapshotRevision != nil {
		snap = *snapshotRevision
	}

	seen, existsErr := e.streamHeadExists(ctx, streamID)
	if existsErr != nil {
		return existsErr
	}
	if !seen {
		// First time this stream's head is being maintained: rebuild it
		// from the durable commit/snapshot log rather than trusting
		// headRevision/snapshotRevision alone, in case an earlier update
		// for this stream was dropped before reaching here.
		rebuiltHead, rebuiltSnap, rebuildErr := e.rebuildStreamHead(ctx, streamID)
		if rebuildErr != nil {
			return rebuildErr
		}
		if rebuiltHead > headRevision {
			headRevision = rebuiltHead
		}
		if rebuiltSnap > snap {
			snap = rebuiltSnap
		}
	}

	query := e.dialect.UpsertStreamHead()

	stmt, prepErr := e.stmts.Prepare(ctx, query)
	if prepErr != nil {
		return prepErr
	}

	_, execErr := stmt.ExecContext(ctx, streamID.String(), headRevision, snap)
	sqlx.Must(execErr)

	return nil
}

// streamHeadExists reports whether streamID already has a maintained
// stream-head row.
func (e *Engine) streamHeadExists(ctx context.Context, streamID uuid.UUID) (bool, error) {
	query := fmt.Sprintf(
		`SELECT 1 FROM eventstore_stream_head WHERE stream_id = %s`,
		e.dialect.Placeholder(1),
	)

	row := e.db.QueryRowContext(ctx, query, streamID.String())

	var discard int
	switch err := row.Scan(&discard); err {
	case nil:
		return true, nil
	case sql.ErrNoRows:
		return false, nil
	default:
		return false, persistence.StorageError{Cause: err}
	}
}

// rebuildStreamHead derives streamID's head and snapshot revisions by
// scanning the commit and snapshot tables directly, rather than trusting
// any previously maintained summary.
func (e *Engine) rebuildStreamHead(ctx context.Context, streamID uuid.UUID) (head, snap uint64, err error) {
	headQuery := fmt.Sprintf(
		`SELECT COALESCE(MAX(stream_revision), 0) FROM eventstore_commit WHERE stream_id = %s`,
		e.dialect.Placeholder(1),
	)
	if err := e.db.QueryRowContext(ctx, headQuery, streamID.String()).Scan(&head); err != nil {
		return 0, 0, persistence.StorageError{Cause: err}
	}

	snapQuery := fmt.Sprintf(
		`SELECT COALESCE(MAX(stream_revision), 0) FROM eventstore_snapshot WHERE stream_id = %s`,
		e.dialect.Placeholder(1),
	)
	if err := e.db.QueryRowContext(ctx, snapQuery, streamID.String()).Scan(&snap); err != nil {
		return 0, 0, persistence.StorageError{Cause: err}
	}

	return head, snap, nil
}
