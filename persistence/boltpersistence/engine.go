// Package boltpersistence provides a persistence.Engine backed by a
// go.etcd.io/bbolt database file.
package boltpersistence

import (
	"context"

	"go.etcd.io/bbolt"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tigraine/EventStore/internal/streamhead"
	"github.com/Tigraine/EventStore/internal/x/syncx"
	"github.com/Tigraine/EventStore/persistence"
)

var (
	bucketCommits        = []byte("commits")
	bucketCommitsByID    = []byte("commits_by_id")
	bucketCommitsByStamp = []byte("commits_by_stamp")
	bucketUndispatched   = []byte("undispatched")
	bucketSnapshots      = []byte("snapshots")
	bucketStreamHeads    = []byte("stream_heads")
)

// Engine is a bbolt-backed persistence.Engine.
//
// bbolt permits only one writer at a time for the entire database, so
// every operation acquires a context-aware syncx.RWMutex before opening
// its bbolt transaction; this lets a caller's context cancellation abort a
// pending operation instead of blocking on bbolt's own internal lock.
type Engine struct {
	db         *bbolt.DB
	serializer persistence.Serializer
	logger     *zap.Logger

	mu                syncx.RWMutex
	maintainer        *streamhead.Maintainer
	streamHeadOptions []streamhead.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for ambient diagnostics, such as
// dropped or failed stream-head updates.
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

// New returns a new engine backed by db, using s to serialize event and
// header payloads.
func New(db *bbolt.DB, s persistence.Serializer, options ...Option) *Engine {
	e := &Engine{
		db:         db,
		serializer: s,
		logger:     zap.NewNop(),
	}

	for _, opt := range options {
		opt(e)
	}

	shOpts := append([]streamhead.Option{streamhead.WithLogger(e.logger)}, e.streamHeadOptions...)
	e.maintainer = streamhead.New(e, shOpts...)

	return e
}

// Initialize creates the buckets used by the engine. It is idempotent.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.mu.Lock(ctx); err != nil {
		return err
	}
	defer e.mu.Unlock()

	err := e.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketCommits,
			bucketCommitsByID,
			bucketCommitsByStamp,
			bucketUndispatched,
			bucketSnapshots,
			bucketStreamHeads,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		return persistence.StorageError{Cause: err}
	}

	e.logger.Debug("eventstore buckets ensured")

	return nil
}

// Close stops the stream-head maintainer and closes the underlying
// *bbolt.DB. It is safe to call more than once.
func (e *Engine) Close() error {
	return multierr.Append(e.maintainer.Close(), e.db.Close())
}
