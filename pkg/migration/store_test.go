package migration_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/loomsearch/loom/pkg/migration"
)

func sampleJob(id string) *migration.Job {
	now := time.Now().UTC().Truncate(time.Second)
	return &migration.Job{
		ID:               id,
		SourceCollection: "src",
		TargetCollection: "dst",
		SourceProvider:   "memstore",
		TargetProvider:   "memstore",
		State:            migration.StateRunning,
		Cursor:           "doc-100",
		BatchesCopied:    2,
		RecordsCopied:    200,
		TotalRecords:     1000,
		ChecksumLog: []migration.BatchChecksum{
			{Batch: 1, Cursor: "doc-050", Records: 100, Checksum: "aaa"},
			{Batch: 2, Cursor: "doc-100", Records: 100, Checksum: "bbb"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var _ = Describe("MemoryJobStore", func() {
	var (
		store *migration.MemoryJobStore
		ctx   context.Context
	)

	BeforeEach(func() {
		store = migration.NewMemoryJobStore()
		ctx = context.Background()
	})

	It("returns ErrJobNotFound for unknown ids", func() {
		_, err := store.Get(ctx, "missing")
		Expect(err).To(MatchError(migration.ErrJobNotFound))
	})

	It("round-trips a job with its checksum log", func() {
		Expect(store.Save(ctx, sampleJob("job-1"))).To(Succeed())

		got, err := store.Get(ctx, "job-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(sampleJob("job-1")))
	})

	It("isolates stored jobs from caller mutation", func() {
		job := sampleJob("job-1")
		Expect(store.Save(ctx, job)).To(Succeed())

		job.State = migration.StateFailed
		job.ChecksumLog[0].Checksum = "mutated"

		got, err := store.Get(ctx, "job-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(migration.StateRunning))
		Expect(got.ChecksumLog[0].Checksum).To(Equal("aaa"))
	})

	It("replaces a job saved under the same id", func() {
		Expect(store.Save(ctx, sampleJob("job-1"))).To(Succeed())

		updated := sampleJob("job-1")
		updated.State = migration.StateCompleted
		Expect(store.Save(ctx, updated)).To(Succeed())

		got, err := store.Get(ctx, "job-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.State).To(Equal(migration.StateCompleted))

		jobs, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(1))
	})

	It("lists every saved job", func() {
		Expect(store.Save(ctx, sampleJob("job-1"))).To(Succeed())
		Expect(store.Save(ctx, sampleJob("job-2"))).To(Succeed())

		jobs, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(2))
	})
})

var _ = Describe("SQLiteJobStore", func() {
	var (
		store *migration.SQLiteJobStore
		ctx   context.Context
		path  string
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "jobs.db")
		var err error
		store, err = migration.NewSQLiteJobStore(path)
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("returns ErrJobNotFound for unknown ids", func() {
		_, err := store.Get(ctx, "missing")
		Expect(err).To(MatchError(migration.ErrJobNotFound))
	})

	It("round-trips a job through the database", func() {
		Expect(store.Save(ctx, sampleJob("job-1"))).To(Succeed())

		got, err := store.Get(ctx, "job-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(sampleJob("job-1")))
	})

	It("survives reopening the database file", func() {
		Expect(store.Save(ctx, sampleJob("job-1"))).To(Succeed())
		Expect(store.Close()).To(Succeed())

		reopened, err := migration.NewSQLiteJobStore(path)
		Expect(err).NotTo(HaveOccurred())
		store = reopened

		got, err := store.Get(ctx, "job-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Cursor).To(Equal("doc-100"))
		Expect(got.ChecksumLog).To(HaveLen(2))
	})

	It("upserts on conflicting ids", func() {
		Expect(store.Save(ctx, sampleJob("job-1"))).To(Succeed())

		updated := sampleJob("job-1")
		updated.State = migration.StateCompleted
		Expect(store.Save(ctx, updated)).To(Succeed())

		jobs, err := store.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(1))
		Expect(jobs[0].State).To(Equal(migration.StateCompleted))
	})
})
