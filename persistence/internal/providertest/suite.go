// Package providertest declares a standard conformance suite, run against
// every persistence.Engine implementation, so new backends are held to the
// same behavioral contract without duplicating the test bodies.
package providertest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/Tigraine/EventStore/internal/x/gomegax"
	"github.com/Tigraine/EventStore/persistence"
)

// Out is returned by the provider-specific setup function supplied to
// Declare.
type Out struct {
	// Engine is the persistence.Engine under test. It must already be
	// initialized.
	Engine persistence.Engine
}

// DefaultTestTimeout bounds each individual test's context.
const DefaultTestTimeout = 3 * time.Second

// Declare declares the standard behavioral test suite for a
// persistence.Engine implementation. before constructs and initializes a
// fresh engine ahead of each test; after releases whatever before
// allocated.
func Declare(
	before func(context.Context) Out,
	after func(),
) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		out    Out
	)

	ginkgo.BeforeEach(func() {
		setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelSetup()

		out = before(setupCtx)

		ctx, cancel = context.WithTimeout(context.Background(), DefaultTestTimeout)
	})

	ginkgo.AfterEach(func() {
		cancel()
		after()
	})

	ginkgo.Describe("Commit", func() {
		ginkgo.It("persists the first commit on a new stream", func() {
			// S1
			streamID := uuid.New()
			c := newCommit(streamID, 1, 1, 3, "e1", "e2", "e3")

			gomega.Expect(out.Engine.Commit(ctx, c)).To(gomega.Succeed())

			got, err := out.Engine.GetFromRevision(ctx, streamID, 1)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got).To(gomega.HaveLen(1))
			gomega.Expect(got[0].CommitID).To(gomega.Equal(c.CommitID))
			gomega.Expect(got[0].Events).To(gomegax.EqualX(c.Events))
			gomega.Expect(got[0].Headers).To(gomegax.EqualX(c.Headers))

			gomega.Eventually(func() (uint64, error) {
				streams, err := out.Engine.GetStreamsToSnapshot(ctx, 0)
				if err != nil {
					return 0, err
				}
				for _, id := range streams {
					if id == streamID {
						head, err := out.Engine.GetStreamHead(ctx, streamID)
						if err != nil {
							return 0, err
						}
						return head.HeadRevision, nil
					}
				}
				return 0, nil
			}).Should(gomega.BeNumerically("==", 3))
		})

		ginkgo.It("rejects a concurrent commit at the same sequence with a different commit ID", func() {
			// S2
			streamID := uuid.New()
			c1 := newCommit(streamID, 1, 1, 3, "e1", "e2", "e3")
			gomega.Expect(out.Engine.Commit(ctx, c1)).To(gomega.Succeed())

			winner := newCommit(streamID, 2, 4, 5, "e4", "e5")
			loser := newCommit(streamID, 2, 4, 5, "e4", "e5")

			gomega.Expect(out.Engine.Commit(ctx, winner)).To(gomega.Succeed())

			err := out.Engine.Commit(ctx, loser)
			gomega.Expect(err).To(gomega.HaveOccurred())

			var concurrencyErr persistence.ConcurrencyError
			gomega.Expect(errors.As(err, &concurrencyErr)).To(gomega.BeTrue())
		})

		ginkgo.It("treats a retried commit with the same commit ID as a duplicate", func() {
			// S3
			streamID := uuid.New()
			c1 := newCommit(streamID, 1, 1, 3, "e1", "e2", "e3")
			gomega.Expect(out.Engine.Commit(ctx, c1)).To(gomega.Succeed())

			c2 := newCommit(streamID, 2, 4, 5, "e4", "e5")
			gomega.Expect(out.Engine.Commit(ctx, c2)).To(gomega.Succeed())

			retry := *c2
			err := out.Engine.Commit(ctx, &retry)
			gomega.Expect(err).To(gomega.HaveOccurred())

			var dupErr persistence.DuplicateCommitError
			gomega.Expect(errors.As(err, &dupErr)).To(gomega.BeTrue())

			got, err := out.Engine.GetFromRevision(ctx, streamID, 1)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got).To(gomega.HaveLen(2))
		})

		ginkgo.It("rejects a commit id reused in a different stream", func() {
			streamA, streamB := uuid.New(), uuid.New()

			c1 := newCommit(streamA, 1, 1, 1, "e1")
			gomega.Expect(out.Engine.Commit(ctx, c1)).To(gomega.Succeed())

			reused := newCommit(streamB, 1, 1, 1, "e1")
			reused.CommitID = c1.CommitID

			err := out.Engine.Commit(ctx, reused)
			gomega.Expect(err).To(gomega.HaveOccurred())

			var dupErr persistence.DuplicateCommitError
			gomega.Expect(errors.As(err, &dupErr)).To(gomega.BeTrue())

			got, err := out.Engine.GetFromRevision(ctx, streamB, 1)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got).To(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("Snapshots", func() {
		ginkgo.It("returns the snapshot with the greatest revision at or below the query revision", func() {
			// S4
			streamID := uuid.New()

			gomega.Expect(out.Engine.AddSnapshot(ctx, &persistence.Snapshot{
				StreamID:       streamID,
				StreamRevision: 3,
				CommitStamp:    time.Now(),
				Payload:        "snap-3",
			})).To(gomega.Succeed())

			gomega.Expect(out.Engine.AddSnapshot(ctx, &persistence.Snapshot{
				StreamID:       streamID,
				StreamRevision: 5,
				CommitStamp:    time.Now(),
				Payload:        "snap-5",
			})).To(gomega.Succeed())

			got, err := out.Engine.GetSnapshot(ctx, streamID, 6)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got).NotTo(gomega.BeNil())
			gomega.Expect(got.StreamRevision).To(gomega.BeNumerically("==", 5))
			gomega.Expect(got.Payload).To(gomega.Equal("snap-5"))

			none, err := out.Engine.GetSnapshot(ctx, streamID, 2)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(none).To(gomega.BeNil())
		})

		ginkgo.It("never raises when a snapshot for an existing revision is added again", func() {
			streamID := uuid.New()

			snap := &persistence.Snapshot{
				StreamID:       streamID,
				StreamRevision: 1,
				CommitStamp:    time.Now(),
				Payload:        "first",
			}

			gomega.Expect(out.Engine.AddSnapshot(ctx, snap)).To(gomega.Succeed())
			gomega.Expect(out.Engine.AddSnapshot(ctx, snap)).To(gomega.Succeed())
		})
	})

	ginkgo.Describe("Dispatch", func() {
		ginkgo.It("excludes a commit once it has been marked as dispatched", func() {
			// S5
			streamID := uuid.New()
			c := newCommit(streamID, 1, 1, 3, "e1", "e2", "e3")
			gomega.Expect(out.Engine.Commit(ctx, c)).To(gomega.Succeed())

			undispatched, err := out.Engine.GetUndispatchedCommits(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(containsCommitID(undispatched, c.CommitID)).To(gomega.BeTrue())

			gomega.Expect(out.Engine.MarkCommitAsDispatched(ctx, streamID, c.CommitSequence)).To(gomega.Succeed())

			undispatched, err = out.Engine.GetUndispatchedCommits(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(containsCommitID(undispatched, c.CommitID)).To(gomega.BeFalse())

			gomega.Expect(out.Engine.MarkCommitAsDispatched(ctx, streamID, c.CommitSequence)).To(gomega.Succeed())
		})
	})

	ginkgo.Describe("Temporal query", func() {
		ginkgo.It("returns commits across streams in ascending commit-stamp order", func() {
			// S6
			base := time.Now().Add(-time.Hour)

			s1, s2, s3 := uuid.New(), uuid.New(), uuid.New()

			c1 := newCommit(s1, 1, 1, 1, "e1")
			c1.CommitStamp = base

			c2 := newCommit(s2, 1, 1, 1, "e2")
			c2.CommitStamp = base.Add(time.Minute)

			c3 := newCommit(s3, 1, 1, 1, "e3")
			c3.CommitStamp = base.Add(2 * time.Minute)

			gomega.Expect(out.Engine.Commit(ctx, c1)).To(gomega.Succeed())
			gomega.Expect(out.Engine.Commit(ctx, c2)).To(gomega.Succeed())
			gomega.Expect(out.Engine.Commit(ctx, c3)).To(gomega.Succeed())

			got, err := out.Engine.GetFromTime(ctx, c2.CommitStamp)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got).To(gomega.HaveLen(2))
			gomega.Expect(got[0].CommitID).To(gomega.Equal(c2.CommitID))
			gomega.Expect(got[1].CommitID).To(gomega.Equal(c3.CommitID))
		})
	})

	ginkgo.Describe("Initialize", func() {
		ginkgo.It("is idempotent", func() {
			gomega.Expect(out.Engine.Initialize(ctx)).To(gomega.Succeed())
			gomega.Expect(out.Engine.Initialize(ctx)).To(gomega.Succeed())
		})
	})
}

func newCommit(streamID uuid.UUID, seq, startRev, endRev uint64, events ...interface{}) *persistence.Commit {
	return &persistence.Commit{
		StreamID:               streamID,
		CommitID:               uuid.New(),
		CommitSequence:         seq,
		CommitStamp:            time.Now(),
		StartingStreamRevision: startRev,
		StreamRevision:         endRev,
		Headers:                map[string]interface{}{"test": true},
		Events:                 events,
	}
}

func containsCommitID(commits []*persistence.Commit, id uuid.UUID) bool {
	for _, c := range commits {
		if c.CommitID == id {
			return true
		}
	}
	return false
}
