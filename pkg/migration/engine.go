package migration

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/eventstream"
	"github.com/loomsearch/loom/pkg/vectorstore"
)

// Defaults for engine tuning.
const (
	DefaultBatchSize        = 500
	DefaultSampleSize       = 50
	DefaultQueryCount       = 50
	DefaultOverlapK         = 5
	DefaultOverlapThreshold = 0.9
)

// Config tunes batch copy and validation.
type Config struct {
	// BatchSize is the number of records copied per batch.
	BatchSize int

	// SampleSize is how many random ids the validator compares
	// record-by-record.
	SampleSize int

	// QueryCount is how many held-out query vectors the validator
	// runs against both collections.
	QueryCount int

	// OverlapK is the result depth of each validation query.
	OverlapK int

	// OverlapThreshold is the minimum mean id-set overlap across
	// validation queries. It tolerates ranking drift between exact
	// and approximate indexes.
	OverlapThreshold float64

	// Seed fixes the sampling sequence. Zero seeds from the clock.
	Seed int64
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.QueryCount <= 0 {
		c.QueryCount = DefaultQueryCount
	}
	if c.OverlapK <= 0 {
		c.OverlapK = DefaultOverlapK
	}
	if c.OverlapThreshold <= 0 {
		c.OverlapThreshold = DefaultOverlapThreshold
	}
}

// Engine drives migration jobs through their lifecycle. Batches copy
// sequentially with respect to the cursor; the cursor only advances
// past a batch whose target read-back checksum matched the source.
// Nothing retries across states: a failed job waits for an explicit
// Resume or Rollback.
type Engine struct {
	jobs      JobStore
	publisher eventstream.Publisher
	config    Config
	logger    *zap.Logger
	rng       *rand.Rand
}

// NewEngine creates a migration engine.
func NewEngine(jobs JobStore, publisher eventstream.Publisher, cfg Config, logger *zap.Logger) (*Engine, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	cfg.applyDefaults()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Engine{
		jobs:      jobs,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Start creates a job copying sourceCollection on source into
// targetCollection on target and runs it to a terminal or failed
// state. The target collection is created with the source's config if
// it does not exist. The returned job reflects the final state even
// when err is non-nil.
func (e *Engine) Start(ctx context.Context, source, target vectorstore.Adapter, sourceCollection, targetCollection string) (*Job, error) {
	sourceInfo, err := source.DescribeCollection(ctx, sourceCollection)
	if err != nil {
		return nil, fmt.Errorf("describing source collection: %w", err)
	}

	targetInfo := sourceInfo
	targetInfo.Name = targetCollection
	if err := target.CreateCollection(ctx, targetInfo); err != nil && !errors.Is(err, vectorstore.ErrAlreadyExists) {
		return nil, fmt.Errorf("creating target collection: %w", err)
	}

	total, err := source.Count(ctx, sourceCollection)
	if err != nil {
		return nil, fmt.Errorf("counting source collection: %w", err)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:               uuid.NewString(),
		SourceCollection: sourceCollection,
		TargetCollection: targetCollection,
		SourceProvider:   source.Capabilities().Name,
		TargetProvider:   target.Capabilities().Name,
		State:            StatePending,
		TotalRecords:     total,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("saving job: %w", err)
	}

	if err := e.transition(ctx, job, StateRunning); err != nil {
		return job, err
	}
	return job, e.run(ctx, job, source, target)
}

// Resume continues a failed job from its recorded cursor. The caller
// invokes it deliberately after addressing the failure; nothing
// resumes automatically.
func (e *Engine) Resume(ctx context.Context, jobID string, source, target vectorstore.Adapter) (*Job, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.State {
	case StateFailed:
		job.FailedBatch = 0
		job.Error = ""
		if err := e.transition(ctx, job, StateRunning); err != nil {
			return job, err
		}
	case StateRunning:
		// A crashed process left the job mid-flight; the cursor is
		// still at the last verified batch boundary.
	default:
		return job, fmt.Errorf("%w: cannot resume job in state %s", ErrInvalidTransition, job.State)
	}

	return job, e.run(ctx, job, source, target)
}

// Rollback drops the target collection and marks the job rolled back.
// The source collection is never touched and stays authoritative.
func (e *Engine) Rollback(ctx context.Context, jobID string, target vectorstore.Adapter) (*Job, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.State.CanTransition(StateRolledBack) {
		return job, fmt.Errorf("%w: cannot roll back job in state %s", ErrInvalidTransition, job.State)
	}

	if err := target.DropCollection(ctx, job.TargetCollection); err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return job, fmt.Errorf("dropping target collection: %w", err)
	}

	return job, e.transition(ctx, job, StateRolledBack)
}

// Job returns the stored job by id.
func (e *Engine) Job(ctx context.Context, jobID string) (*Job, error) {
	return e.jobs.Get(ctx, jobID)
}

// Jobs lists all stored jobs.
func (e *Engine) Jobs(ctx context.Context) ([]*Job, error) {
	return e.jobs.List(ctx)
}

func (e *Engine) run(ctx context.Context, job *Job, source, target vectorstore.Adapter) error {
	if err := e.copy(ctx, job, source, target); err != nil {
		return err
	}
	if err := e.transition(ctx, job, StateValidating); err != nil {
		return err
	}
	if err := e.validate(ctx, job, source, target); err != nil {
		return e.fail(ctx, job, 0, err)
	}
	return e.transition(ctx, job, StateCompleted)
}

// copy advances the cursor batch by batch. Cancellation is honored
// only between batches, so interrupted jobs always sit on a verified
// batch boundary.
func (e *Engine) copy(ctx context.Context, job *Job, source, target vectorstore.Adapter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		records, next, err := source.Scroll(ctx, job.SourceCollection, job.Cursor, e.config.BatchSize)
		if err != nil {
			return e.fail(ctx, job, job.BatchesCopied+1, fmt.Errorf("reading source batch: %w", err))
		}
		if len(records) == 0 {
			return nil
		}

		batch := job.BatchesCopied + 1
		sourceSum, err := batchChecksum(records)
		if err != nil {
			return e.fail(ctx, job, batch, err)
		}

		if err := target.Upsert(ctx, job.TargetCollection, records); err != nil {
			return e.fail(ctx, job, batch, fmt.Errorf("writing target batch: %w", err))
		}

		ids := make([]string, len(records))
		for i, rec := range records {
			ids[i] = rec.ID
		}
		written, err := target.Get(ctx, job.TargetCollection, ids)
		if err != nil {
			return e.fail(ctx, job, batch, fmt.Errorf("reading back target batch: %w", err))
		}
		if len(written) != len(records) {
			return e.fail(ctx, job, batch, fmt.Errorf("%w: target returned %d of %d records", ErrChecksumMismatch, len(written), len(records)))
		}
		targetSum, err := batchChecksum(written)
		if err != nil {
			return e.fail(ctx, job, batch, err)
		}
		if targetSum != sourceSum {
			return e.fail(ctx, job, batch, fmt.Errorf("%w: batch %d source %s target %s", ErrChecksumMismatch, batch, sourceSum[:12], targetSum[:12]))
		}

		job.Cursor = next
		job.BatchesCopied = batch
		job.RecordsCopied += int64(len(records))
		job.ChecksumLog = append(job.ChecksumLog, BatchChecksum{
			Batch:    batch,
			Cursor:   next,
			Records:  len(records),
			Checksum: sourceSum,
		})
		job.UpdatedAt = time.Now().UTC()
		if err := e.jobs.Save(ctx, job); err != nil {
			return fmt.Errorf("saving job progress: %w", err)
		}
		e.publishProgress(ctx, job)

		e.logger.Info("copied migration batch",
			zap.String("job_id", job.ID),
			zap.Int("batch", batch),
			zap.Int64("records_copied", job.RecordsCopied),
		)

		if next == "" {
			return nil
		}
	}
}

// validate compares source and target as whole collections: counts
// must match, a random sample of records must be byte-equal, and a
// held-out query set must retrieve overlapping top results.
func (e *Engine) validate(ctx context.Context, job *Job, source, target vectorstore.Adapter) error {
	sourceCount, err := source.Count(ctx, job.SourceCollection)
	if err != nil {
		return fmt.Errorf("counting source: %w", err)
	}
	targetCount, err := target.Count(ctx, job.TargetCollection)
	if err != nil {
		return fmt.Errorf("counting target: %w", err)
	}
	if sourceCount != targetCount {
		return fmt.Errorf("%w: source has %d records, target has %d", ErrValidationFailed, sourceCount, targetCount)
	}
	if sourceCount == 0 {
		return nil
	}

	sampleIDs, queries, err := e.sample(ctx, job.SourceCollection, source)
	if err != nil {
		return err
	}

	if err := e.validateSample(ctx, job, source, target, sampleIDs); err != nil {
		return err
	}
	return e.validateQueries(ctx, job, source, target, queries)
}

// sample makes one pass over the source, reservoir-sampling ids for
// record comparison and vectors for held-out queries.
func (e *Engine) sample(ctx context.Context, collection string, source vectorstore.Adapter) ([]string, [][]float32, error) {
	sampleIDs := make([]string, 0, e.config.SampleSize)
	queries := make([][]float32, 0, e.config.QueryCount)
	seen := 0

	cursor := ""
	for {
		records, next, err := source.Scroll(ctx, collection, cursor, e.config.BatchSize)
		if err != nil {
			return nil, nil, fmt.Errorf("sampling source: %w", err)
		}
		for _, rec := range records {
			if len(sampleIDs) < e.config.SampleSize {
				sampleIDs = append(sampleIDs, rec.ID)
			} else if j := e.rng.Intn(seen + 1); j < e.config.SampleSize {
				sampleIDs[j] = rec.ID
			}
			if len(queries) < e.config.QueryCount {
				queries = append(queries, rec.Vector)
			} else if j := e.rng.Intn(seen + 1); j < e.config.QueryCount {
				queries[j] = rec.Vector
			}
			seen++
		}
		if next == "" || len(records) == 0 {
			return sampleIDs, queries, nil
		}
		cursor = next
	}
}

func (e *Engine) validateSample(ctx context.Context, job *Job, source, target vectorstore.Adapter, ids []string) error {
	sourceRecords, err := source.Get(ctx, job.SourceCollection, ids)
	if err != nil {
		return fmt.Errorf("fetching sample from source: %w", err)
	}
	targetRecords, err := target.Get(ctx, job.TargetCollection, ids)
	if err != nil {
		return fmt.Errorf("fetching sample from target: %w", err)
	}
	if len(targetRecords) != len(sourceRecords) {
		return fmt.Errorf("%w: sample returned %d source and %d target records", ErrValidationFailed, len(sourceRecords), len(targetRecords))
	}

	sourceSum, err := batchChecksum(sourceRecords)
	if err != nil {
		return err
	}
	targetSum, err := batchChecksum(targetRecords)
	if err != nil {
		return err
	}
	if sourceSum != targetSum {
		return fmt.Errorf("%w: sampled records differ between source and target", ErrValidationFailed)
	}
	return nil
}

func (e *Engine) validateQueries(ctx context.Context, job *Job, source, target vectorstore.Adapter, queries [][]float32) error {
	if len(queries) == 0 {
		return nil
	}

	var totalOverlap float64
	for _, query := range queries {
		sourceHits, err := source.Search(ctx, job.SourceCollection, query, e.config.OverlapK, nil)
		if err != nil {
			return fmt.Errorf("validation query on source: %w", err)
		}
		targetHits, err := target.Search(ctx, job.TargetCollection, query, e.config.OverlapK, nil)
		if err != nil {
			return fmt.Errorf("validation query on target: %w", err)
		}

		sourceIDs := make(map[string]bool, len(sourceHits))
		for _, hit := range sourceHits {
			sourceIDs[hit.ID] = true
		}
		matched := 0
		for _, hit := range targetHits {
			if sourceIDs[hit.ID] {
				matched++
			}
		}
		totalOverlap += float64(matched) / float64(e.config.OverlapK)
	}

	mean := totalOverlap / float64(len(queries))
	if mean < e.config.OverlapThreshold {
		return fmt.Errorf("%w: mean top-%d overlap %.3f below threshold %.3f", ErrValidationFailed, e.config.OverlapK, mean, e.config.OverlapThreshold)
	}

	e.logger.Info("validation queries passed",
		zap.String("job_id", job.ID),
		zap.Float64("mean_overlap", mean),
	)
	return nil
}

func (e *Engine) fail(ctx context.Context, job *Job, batch int, cause error) error {
	job.FailedBatch = batch
	job.Error = cause.Error()
	if err := e.transition(ctx, job, StateFailed); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (e *Engine) transition(ctx context.Context, job *Job, next State) error {
	if !job.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, next)
	}
	job.State = next
	job.UpdatedAt = time.Now().UTC()
	if err := e.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("saving job state: %w", err)
	}
	e.publishProgress(ctx, job)
	return nil
}

// publishProgress is best effort; the event stream never blocks a
// migration.
func (e *Engine) publishProgress(ctx context.Context, job *Job) {
	event := &eventstream.MigrationProgressEvent{
		SchemaVersion:  eventstream.SchemaVersionV1,
		EventType:      eventstream.EventTypeMigrationProgress,
		EventID:        uuid.NewString(),
		EmittedAt:      time.Now().UTC(),
		JobID:          job.ID,
		State:          string(job.State),
		SourceProvider: job.SourceProvider,
		TargetProvider: job.TargetProvider,
		RecordsCopied:  job.RecordsCopied,
		TotalRecords:   job.TotalRecords,
	}
	if err := e.publisher.PublishMigration(ctx, event); err != nil {
		e.logger.Warn("failed to publish migration event",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}
