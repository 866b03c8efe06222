package sqlpersistence

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Tigraine/EventStore/internal/x/sqlx"
	"github.com/Tigraine/EventStore/persistence"
)

func (e *Engine) marshalHeaders(headers map[string]interface{}) ([]byte, error) {
	return e.serializer.Serialize(headers)
}

func (e *Engine) unmarshalHeaders(data []byte) (map[string]interface{}, error) {
	var headers map[string]interface{}
	if len(data) == 0 {
		return nil, nil
	}
	if err := e.serializer.Deserialize(data, &headers); err != nil {
		return nil, err
	}
	return headers, nil
}

// marshalEvents serializes each event individually (so the Serializer
// never has to deal with a heterogeneous slice directly) and packs the
// results into a single JSON array of base64 strings for storage in one
// column.
func (e *Engine) marshalEvents(events []interface{}) ([]byte, error) {
	parts := make([]string, len(events))
	for i, ev := range events {
		data, err := e.serializer.Serialize(ev)
		if err != nil {
			return nil, err
		}
		parts[i] = base64.StdEncoding.EncodeToString(data)
	}
	return json.Marshal(parts)
}

func (e *Engine) unmarshalEvents(data []byte) ([]interface{}, error) {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, err
	}

	events := make([]interface{}, len(parts))
	for i, p := range parts {
		raw, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return nil, err
		}

		var v interface{}
		if err := e.serializer.Deserialize(raw, &v); err != nil {
			return nil, err
		}
		events[i] = v
	}

	return events, nil
}

// Commit appends c to its stream.
func (e *Engine) Commit(ctx context.Context, c *persistence.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	headers, err := e.marshalHeaders(c.Headers)
	if err != nil {
		return err
	}

	payload, err := e.marshalEvents(c.Events)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO eventstore_commit (
			stream_id, commit_id, commit_sequence,
			starting_stream_revision, stream_revision, commit_stamp,
			headers, payload, dispatched
		) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		e.dialect.Placeholder(1),
		e.dialect.Placeholder(2),
		e.dialect.Placeholder(3),
		e.dialect.Placeholder(4),
		e.dialect.Placeholder(5),
		e.dialect.Placeholder(6),
		e.dialect.Placeholder(7),
		e.dialect.Placeholder(8),
		e.dialect.Placeholder(9),
	)

	insertErr := func() (err error) {
		defer sqlx.Recover(&err)

		stmt, prepErr := e.stmts.Prepare(ctx, query)
		if prepErr != nil {
			return prepErr
		}

		_, execErr := stmt.ExecContext(
			ctx,
			c.StreamID.String(),
			c.CommitID.String(),
			c.CommitSequence,
			c.StartingStreamRevision,
			c.StreamRevision,
			c.CommitStamp.UnixNano(),
			headers,
			payload,
			false,
		)
		sqlx.Must(execErr)

		return nil
	}()

	if insertErr == nil {
		e.maintainer.NotifyCommit(c.StreamID, c.StreamRevision)
		return nil
	}

	if !e.dialect.IsConflictError(insertErr) {
		return persistence.StorageError{Cause: insertErr}
	}

	// A unique constraint fired. Perform the targeted lookup required to
	// discriminate a duplicate commit from a genuine concurrency conflict.
	existingCommitID, lookupErr := e.lookupCommitID(ctx, c.StreamID, c.CommitSequence)
	if errors.Is(lookupErr, sql.ErrNoRows) {
		// Nothing occupies (StreamID, CommitSequence), so the constraint that
		// fired is UNIQUE (commit_id) or UNIQUE (stream_id, stream_revision).
		// A CommitID that is already stored elsewhere is a duplicate;
		// otherwise another writer holds this revision range.
		var n int64
		lookupErr = e.db.QueryRowContext(
			ctx,
			`SELECT COUNT(*) FROM eventstore_commit WHERE commit_id = `+e.dialect.Placeholder(1),
			c.CommitID.String(),
		).Scan(&n)
		if lookupErr == nil && n > 0 {
			existingCommitID = c.CommitID
		}
	}
	if lookupErr != nil {
		return persistence.StorageError{Cause: lookupErr}
	}

	if existingCommitID == c.CommitID {
		return persistence.DuplicateCommitError{
			StreamID:       c.StreamID,
			CommitSequence: c.CommitSequence,
		}
	}

	return persistence.ConcurrencyError{
		StreamID:       c.StreamID,
		CommitSequence: c.CommitSequence,
	}
}

func (e *Engine) lookupCommitID(ctx context.Context, streamID uuid.UUID, commitSequence uint64) (id uuid.UUID, err error) {
	defer sqlx.Recover(&err)

	query := fmt.Sprintf(
		`SELECT commit_id FROM eventstore_commit WHERE stream_id = %s AND commit_sequence = %s`,
		e.dialect.Placeholder(1),
		e.dialect.Placeholder(2),
	)

	stmt, prepErr := e.stmts.Prepare(ctx, query)
	sqlx.Must(prepErr)

	var s string
	row := stmt.QueryRowContext(ctx, streamID.String(), commitSequence)
	sqlx.Must(row.Scan(&s))

	return uuid.Parse(s)
}

type commitRow struct {
	streamID               string
	commitID               string
	commitSequence         uint64
	startingStreamRevision uint64
	streamRevision         uint64
	commitStampUnixNano    int64
	headers                []byte
	payload                []byte
	dispatched             bool
}

func (e *Engine) scanCommits(rows *sql.Rows) ([]*persistence.Commit, error) {
	defer rows.Close()

	var result []*persistence.Commit
	for rows.Next() {
		var r commitRow
		if err := rows.Scan(
			&r.streamID,
			&r.commitID,
			&r.commitSequence,
			&r.startingStreamRevision,
			&r.streamRevision,
			&r.commitStampUnixNano,
			&r.headers,
			&r.payload,
			&r.dispatched,
		); err != nil {
			return nil, err
		}

		c, err := e.fromRow(&r)
		if err != nil {
			return nil, err
		}

		result = append(result, c)
	}

	return result, rows.Err()
}

func (e *Engine) fromRow(r *commitRow) (*persistence.Commit, error) {
	streamID, err := uuid.Parse(r.streamID)
	if err != nil {
		return nil, err
	}

	commitID, err := uuid.Parse(r.commitID)
	if err != nil {
		return nil, err
	}

	headers, err := e.unmarshalHeaders(r.headers)
	if err != nil {
		return nil, err
	}

	events, err := e.unmarshalEvents(r.payload)
	if err != nil {
		return nil, err
	}

	return &persistence.Commit{
		StreamID:               streamID,
		CommitID:               commitID,
		CommitSequence:         r.commitSequence,
		CommitStamp:            time.Unix(0, r.commitStampUnixNano).UTC(),
		StartingStreamRevision: r.startingStreamRevision,
		StreamRevision:         r.streamRevision,
		Headers:                headers,
		Events:                 events,
		Dispatched:             r.dispatched,
	}, nil
}

// GetFromRevision returns every commit for streamID with a StreamRevision
// of at least minRevision.
func (e *Engine) GetFromRevision(ctx context.Context, streamID uuid.UUID, minRevision uint64) ([]*persistence.Commit, error) {
	return e.GetFromRevisionRange(ctx, streamID, minRevision, persistence.MaxRevision)
}

// GetFromRevisionRange returns every commit for streamID whose revision
// range intersects [minRevision, maxRevision].
func (e *Engine) GetFromRevisionRange(ctx context.Context, streamID uuid.UUID, minRevision, maxRevision uint64) ([]*persistence.Commit, error) {
	// database/sql rejects uint64 arguments with the high bit set, and
	// revisions are stored as signed 64-bit integers, so any upper bound
	// above math.MaxInt64 selects the same rows as math.MaxInt64.
	if maxRevision > math.MaxInt64 {
		maxRevision = math.MaxInt64
	}

	query := fmt.Sprintf(
		`SELECT stream_id, commit_id, commit_sequence, starting_stream_revision,
			stream_revision, commit_stamp, headers, payload, dispatched
		FROM eventstore_commit
		WHERE stream_id = %s AND stream_revision >= %s AND starting_stream_revision <= %s
		ORDER BY commit_sequence ASC`,
		e.dialect.Placeholder(1),
		e.dialect.Placeholder(2),
		e.dialect.Placeholder(3),
	)

	rows, err := e.db.QueryContext(ctx, query, streamID.String(), minRevision, maxRevision)
	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	result, err := e.scanCommits(rows)
	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	return result, nil
}

// GetFromTime returns every commit with a CommitStamp of at least start,
// across all streams, in commit-stamp order.
func (e *Engine) GetFromTime(ctx context.Context, start time.Time) ([]*persistence.Commit, error) {
	query := fmt.Sprintf(
		`SELECT stream_id, commit_id, commit_sequence, starting_stream_revision,
			stream_revision, commit_stamp, headers, payload, dispatched
		FROM eventstore_commit
		WHERE commit_stamp >= %s
		ORDER BY commit_stamp ASC`,
		e.dialect.Placeholder(1),
	)

	rows, err := e.db.QueryContext(ctx, query, start.UnixNano())
	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	result, err := e.scanCommits(rows)
	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	return result, nil
}

// GetUndispatchedCommits returns every commit across all streams that has
// not yet been marked as dispatched, in commit-stamp order.
func (e *Engine) GetUndispatchedCommits(ctx context.Context) ([]*persistence.Commit, error) {
	query := `SELECT stream_id, commit_id, commit_sequence, starting_stream_revision,
			stream_revision, commit_stamp, headers, payload, dispatched
		FROM eventstore_commit
		WHERE dispatched = ` + falseLiteral(e.dialect) + `
		ORDER BY commit_stamp ASC`

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	result, err := e.scanCommits(rows)
	if err != nil {
		return nil, persistence.StorageError{Cause: err}
	}

	return result, nil
}

// MarkCommitAsDispatched marks the identified commit as dispatched.
func (e *Engine) MarkCommitAsDispatched(ctx context.Context, streamID uuid.UUID, commitSequence uint64) (err error) {
	defer sqlx.Recover(&err)

	query := fmt.Sprintf(
		`UPDATE eventstore_commit SET dispatched = %s WHERE stream_id = %s AND commit_sequence = %s`,
		trueLiteral(e.dialect),
		e.dialect.Placeholder(1),
		e.dialect.Placeholder(2),
	)

	sqlx.Exec(ctx, e.db, query, streamID.String(), commitSequence)

	return nil
}

// falseLiteral and trueLiteral exist because the three dialects disagree
// on boolean literal syntax (SQLite has no native boolean and uses 0/1).
func falseLiteral(d Dialect) string {
	if d.Name() == "sqlite" {
		return "0"
	}
	return "FALSE"
}

func trueLiteral(d Dialect) string {
	if d.Name() == "sqlite" {
		return "1"
	}
	return "TRUE"
}
