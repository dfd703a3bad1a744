package migration_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/migration"
	testutils "github.com/loomsearch/loom/pkg/utils/test"
	"github.com/loomsearch/loom/pkg/vectorstore"
	"github.com/loomsearch/loom/pkg/vectorstore/memstore"
)

var _ = Describe("Engine", func() {
	const (
		totalRecords = 1000
		batchSize    = 100
	)

	var (
		source    *memstore.Store
		target    *memstore.Store
		jobs      *migration.MemoryJobStore
		publisher *testutils.MockPublisher
		engine    *migration.Engine
		ctx       context.Context
	)

	seedSource := func(n int) {
		Expect(source.CreateCollection(ctx, vectorstore.Collection{
			Name:      "src",
			Dimension: 4,
			Metric:    vectorstore.Cosine,
		})).To(Succeed())

		records := make([]vectorstore.Record, 0, n)
		for i := 0; i < n; i++ {
			records = append(records, vectorstore.Record{
				ID:     fmt.Sprintf("doc-%04d", i),
				Vector: testutils.DeterministicVector(fmt.Sprintf("doc-%04d", i), 4),
				Payload: map[string]any{
					vectorstore.PayloadText: fmt.Sprintf("document number %d", i),
					"position":              i,
				},
			})
		}
		Expect(source.Upsert(ctx, "src", records)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		source = memstore.New(zap.NewNop())
		target = memstore.New(zap.NewNop())
		jobs = migration.NewMemoryJobStore()
		publisher = testutils.NewMockPublisher()

		var err error
		engine, err = migration.NewEngine(jobs, publisher, migration.Config{
			BatchSize:  batchSize,
			SampleSize: 20,
			QueryCount: 10,
			OverlapK:   3,
			Seed:       42,
		}, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		seedSource(totalRecords)
	})

	Describe("Start", func() {
		It("copies every record and completes", func() {
			job, err := engine.Start(ctx, source, target, "src", "dst")
			Expect(err).NotTo(HaveOccurred())

			Expect(job.State).To(Equal(migration.StateCompleted))
			Expect(job.TotalRecords).To(Equal(int64(totalRecords)))
			Expect(job.RecordsCopied).To(Equal(int64(totalRecords)))
			Expect(job.BatchesCopied).To(Equal(totalRecords / batchSize))
			Expect(job.ChecksumLog).To(HaveLen(totalRecords / batchSize))

			count, err := target.Count(ctx, "dst")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(totalRecords)))
		})

		It("creates the target collection with the source config", func() {
			_, err := engine.Start(ctx, source, target, "src", "dst")
			Expect(err).NotTo(HaveOccurred())

			info, err := target.DescribeCollection(ctx, "dst")
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Dimension).To(Equal(4))
			Expect(info.Metric).To(Equal(vectorstore.Cosine))
		})

		It("publishes progress events through to completion", func() {
			job, err := engine.Start(ctx, source, target, "src", "dst")
			Expect(err).NotTo(HaveOccurred())

			Expect(publisher.MigrationEvents).NotTo(BeEmpty())
			last := publisher.MigrationEvents[len(publisher.MigrationEvents)-1]
			Expect(last.JobID).To(Equal(job.ID))
			Expect(last.State).To(Equal(string(migration.StateCompleted)))
			Expect(last.RecordsCopied).To(Equal(int64(totalRecords)))
		})

		It("completes an empty source immediately", func() {
			Expect(source.CreateCollection(ctx, vectorstore.Collection{
				Name:      "empty",
				Dimension: 4,
			})).To(Succeed())

			job, err := engine.Start(ctx, source, target, "empty", "empty-dst")
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(migration.StateCompleted))
			Expect(job.RecordsCopied).To(BeZero())
		})

		It("fails for an unknown source collection", func() {
			_, err := engine.Start(ctx, source, target, "nope", "dst")
			Expect(err).To(MatchError(vectorstore.ErrCollectionNotFound))
		})

		It("leaves an interrupted job resumable in state running", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			job, err := engine.Start(cancelled, source, target, "src", "dst")
			Expect(err).To(MatchError(context.Canceled))
			Expect(job.State).To(Equal(migration.StateRunning))
		})
	})

	Describe("checksum validation during copy", func() {
		var faulty *testutils.FaultyAdapter

		BeforeEach(func() {
			faulty = testutils.NewFaultyAdapter(target)
			faulty.CorruptUpsertOnCall = 5
		})

		It("detects a corrupted batch and fails the job there", func() {
			job, err := engine.Start(ctx, source, faulty, "src", "dst")
			Expect(err).To(MatchError(migration.ErrChecksumMismatch))

			Expect(job.State).To(Equal(migration.StateFailed))
			Expect(job.FailedBatch).To(Equal(5))
			Expect(job.BatchesCopied).To(Equal(4))
			Expect(job.RecordsCopied).To(Equal(int64(4 * batchSize)))
			Expect(job.Error).NotTo(BeEmpty())
		})

		It("never touches the source", func() {
			_, err := engine.Start(ctx, source, faulty, "src", "dst")
			Expect(err).To(HaveOccurred())

			count, err := source.Count(ctx, "src")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(totalRecords)))
		})

		It("resumes from the verified cursor and completes", func() {
			failed, err := engine.Start(ctx, source, faulty, "src", "dst")
			Expect(err).To(HaveOccurred())

			resumed, err := engine.Resume(ctx, failed.ID, source, target)
			Expect(err).NotTo(HaveOccurred())

			Expect(resumed.State).To(Equal(migration.StateCompleted))
			Expect(resumed.RecordsCopied).To(Equal(int64(totalRecords)))
			Expect(resumed.FailedBatch).To(BeZero())
			Expect(resumed.Error).To(BeEmpty())

			count, err := target.Count(ctx, "dst")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(totalRecords)))
		})

		It("does not re-copy verified batches on resume", func() {
			failed, err := engine.Start(ctx, source, faulty, "src", "dst")
			Expect(err).To(HaveOccurred())
			callsBeforeResume := faulty.UpsertCalls()

			faulty.CorruptUpsertOnCall = 0
			_, err = engine.Resume(ctx, failed.ID, source, faulty)
			Expect(err).NotTo(HaveOccurred())

			// Batches 1-4 were verified; only batches 5-10 copy again.
			Expect(faulty.UpsertCalls() - callsBeforeResume).To(Equal(6))
		})
	})

	Describe("Resume", func() {
		It("rejects resuming a completed job", func() {
			job, err := engine.Start(ctx, source, target, "src", "dst")
			Expect(err).NotTo(HaveOccurred())

			_, err = engine.Resume(ctx, job.ID, source, target)
			Expect(err).To(MatchError(migration.ErrInvalidTransition))
		})

		It("fails for unknown jobs", func() {
			_, err := engine.Resume(ctx, "missing", source, target)
			Expect(err).To(MatchError(migration.ErrJobNotFound))
		})
	})

	Describe("Rollback", func() {
		It("drops the target collection after a failure", func() {
			faulty := testutils.NewFaultyAdapter(target)
			faulty.FailUpsertOnCall = 3

			failed, err := engine.Start(ctx, source, faulty, "src", "dst")
			Expect(err).To(HaveOccurred())
			Expect(failed.State).To(Equal(migration.StateFailed))

			job, err := engine.Rollback(ctx, failed.ID, target)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(migration.StateRolledBack))

			_, err = target.DescribeCollection(ctx, "dst")
			Expect(err).To(MatchError(vectorstore.ErrCollectionNotFound))

			count, err := source.Count(ctx, "src")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(totalRecords)))
		})

		It("tolerates an already-dropped target collection", func() {
			faulty := testutils.NewFaultyAdapter(target)
			faulty.FailUpsertOnCall = 1

			failed, err := engine.Start(ctx, source, faulty, "src", "dst")
			Expect(err).To(HaveOccurred())

			Expect(target.DropCollection(ctx, "dst")).To(Succeed())

			job, err := engine.Rollback(ctx, failed.ID, target)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.State).To(Equal(migration.StateRolledBack))
		})

		It("rejects rolling back a completed job", func() {
			job, err := engine.Start(ctx, source, target, "src", "dst")
			Expect(err).NotTo(HaveOccurred())

			_, err = engine.Rollback(ctx, job.ID, target)
			Expect(err).To(MatchError(migration.ErrInvalidTransition))
		})
	})

	Describe("Job and Jobs", func() {
		It("exposes stored jobs", func() {
			started, err := engine.Start(ctx, source, target, "src", "dst")
			Expect(err).NotTo(HaveOccurred())

			got, err := engine.Job(ctx, started.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(started.ID))

			all, err := engine.Jobs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})
	})
})
