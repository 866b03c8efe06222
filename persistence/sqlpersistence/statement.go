package sqlpersistence

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/multierr"
)

// preparer is satisfied by *sql.DB.
type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// StatementBuilder caches prepared statements for an Engine's hottest
// queries, keyed by their text. A statement is prepared at most once per
// distinct query, regardless of how many times Prepare is called for it.
type StatementBuilder struct {
	db preparer

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

// NewStatementBuilder returns a StatementBuilder that prepares statements
// against db.
func NewStatementBuilder(db preparer) *StatementBuilder {
	return &StatementBuilder{
		db:    db,
		stmts: map[string]*sql.Stmt{},
	}
}

// Prepare returns a cached *sql.Stmt for query, preparing it against the
// builder's connection if this is the first time query has been seen.
func (b *StatementBuilder) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if stmt, ok := b.stmts[query]; ok {
		return stmt, nil
	}

	stmt, err := b.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	b.stmts[query] = stmt
	return stmt, nil
}

// Close releases every statement the builder has prepared. A failure to
// close one statement does not prevent the rest from being released; any
// errors encountered are aggregated and returned together.
func (b *StatementBuilder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	for query, stmt := range b.stmts {
		err = multierr.Append(err, stmt.Close())
		delete(b.stmts, query)
	}

	return err
}
