// Package streamhead implements the asynchronous, best-effort maintenance
// of a stream's derived head revision and snapshot revision, shared by
// every persistence.Engine backend.
package streamhead

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Updater is implemented by a backend to apply a single stream-head update.
//
// snapshotRevision is nil when the update is the result of a commit, and
// non-nil when the update is the result of a new snapshot being added.
type Updater interface {
	Upsert(ctx context.Context, streamID uuid.UUID, headRevision uint64, snapshotRevision *uint64) error
}

// Maintainer applies stream-head updates on a bounded pool of background
// goroutines. It never blocks the caller that requests an update, and it
// never returns an error to that caller: a failed or dropped update only
// means that GetStreamsToSnapshot may be stale until the next commit or
// snapshot succeeds, which is the best-effort contract of a derived value.
type Maintainer struct {
	logger  *zap.Logger
	updater Updater

	queue chan update

	once    sync.Once
	group   *errgroup.Group
	groupCtx context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	dropped uint64
}

type update struct {
	streamID         uuid.UUID
	headRevision     uint64
	snapshotRevision *uint64
}

// Option configures a Maintainer.
type Option func(*config)

type config struct {
	workers   int
	queueSize int
	logger    *zap.Logger
}

// WithWorkerCount sets the number of background goroutines applying
// updates. The default is runtime.GOMAXPROCS(0).
func WithWorkerCount(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueSize sets the number of pending updates that may be buffered
// before new updates are dropped. The default is 256.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithLogger sets the logger used to report dropped or failed updates. The
// default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// New starts a Maintainer that applies updates via u.
func New(u Updater, options ...Option) *Maintainer {
	cfg := config{
		workers:   runtime.GOMAXPROCS(0),
		queueSize: 256,
		logger:    zap.NewNop(),
	}

	for _, opt := range options {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	m := &Maintainer{
		logger:   cfg.logger,
		updater:  u,
		queue:    make(chan update, cfg.queueSize),
		group:    group,
		groupCtx: groupCtx,
		cancel:   cancel,
	}

	for i := 0; i < cfg.workers; i++ {
		group.Go(m.run)
	}

	return m
}

func (m *Maintainer) run() error {
	for {
		select {
		case <-m.groupCtx.Done():
			return nil

		case u, ok := <-m.queue:
			if !ok {
				return nil
			}

			if err := m.updater.Upsert(m.groupCtx, u.streamID, u.headRevision, u.snapshotRevision); err != nil {
				m.logger.Warn(
					"failed to update stream head",
					zap.String("stream_id", u.streamID.String()),
					zap.Uint64("head_revision", u.headRevision),
					zap.Error(err),
				)
			}
		}
	}
}

// NotifyCommit schedules an update reflecting a newly committed revision.
// It never blocks: if the queue is full the update is dropped and logged.
func (m *Maintainer) NotifyCommit(streamID uuid.UUID, headRevision uint64) {
	m.enqueue(update{streamID: streamID, headRevision: headRevision})
}

// NotifySnapshot schedules an update reflecting a newly added snapshot. It
// never blocks: if the queue is full the update is dropped and logged.
func (m *Maintainer) NotifySnapshot(streamID uuid.UUID, headRevision, snapshotRevision uint64) {
	sr := snapshotRevision
	m.enqueue(update{streamID: streamID, headRevision: headRevision, snapshotRevision: &sr})
}

func (m *Maintainer) enqueue(u update) {
	select {
	case m.queue <- u:
	default:
		m.mu.Lock()
		m.dropped++
		n := m.dropped
		m.mu.Unlock()

		m.logger.Warn(
			"dropped stream head update, queue is full",
			zap.String("stream_id", u.streamID.String()),
			zap.Uint64("dropped_stream_head_updates", n),
		)
	}
}

// Close stops the background workers and waits for them to exit. It does
// not flush the pending queue; any updates still buffered are discarded.
func (m *Maintainer) Close() error {
	m.once.Do(func() {
		m.cancel()
	})

	return m.group.Wait()
}
