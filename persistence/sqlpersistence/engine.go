package sqlpersistence

import (
	"context"
	"database/sql"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tigraine/EventStore/internal/streamhead"
	"github.com/Tigraine/EventStore/persistence"
)

// Engine is a database/sql-backed persistence.Engine, parameterized by a
// Dialect.
type Engine struct {
	db         *sql.DB
	dialect    Dialect
	serializer persistence.Serializer
	logger     *zap.Logger
	stmts      *StatementBuilder

	maintainer        *streamhead.Maintainer
	streamHeadOptions []streamhead.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for ambient diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStreamHeadOptions forwards options to the engine's stream-head
// maintainer.
func WithStreamHeadOptions(options ...streamhead.Option) Option {
	return func(e *Engine) {
		e.streamHeadOptions = append(e.streamHeadOptions, options...)
	}
}

// New returns a new engine backed by db and dialect, using s to serialize
// event and header payloads.
func New(db *sql.DB, dialect Dialect, s persistence.Serializer, options ...Option) *Engine {
	e := &Engine{
		db:         db,
		dialect:    dialect,
		serializer: s,
		logger:     zap.NewNop(),
		stmts:      NewStatementBuilder(db),
	}

	for _, opt := range options {
		opt(e)
	}

	shOpts := append([]streamhead.Option{streamhead.WithLogger(e.logger)}, e.streamHeadOptions...)
	e.maintainer = streamhead.New(e, shOpts...)

	return e
}

// Initialize creates the engine's schema. It is idempotent.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.dialect.CreateSchema(ctx, e.db); err != nil {
		return persistence.StorageError{Cause: err}
	}

	e.logger.Debug("eventstore schema ensured", zap.String("dialect", e.dialect.Name()))

	return nil
}

// Close stops the stream-head maintainer, releases any prepared
// statements the engine has accumulated, and closes the underlying
// *sql.DB. It is safe to call more than once.
func (e *Engine) Close() error {
	return multierr.Combine(e.maintainer.Close(), e.stmts.Close(), e.db.Close())
}
