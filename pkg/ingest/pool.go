package ingest

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/embeddings"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Collection string
	Chunks     []embeddings.Chunk
}

// PoolConfig is the configuration options for the worker pool.
type PoolConfig struct {
	// Pipeline processes each job.
	Pipeline *Pipeline

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool processes ingest jobs asynchronously, decoupling chunk
// submission from the embedding and upsert path.
type Pool struct {
	config *PoolConfig
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *PoolConfig) (*Pool, error) {
	if c.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("ingest job queued",
			zap.String("collection", job.Collection),
			zap.Int("chunks", len(job.Chunks)),
		)
		return true
	default:
		p.logger.Error("ingest job not queued, queue full, job dropped",
			zap.String("collection", job.Collection),
			zap.Int("chunks", len(job.Chunks)),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("ingest worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		if err := p.config.Pipeline.Ingest(context.Background(), job.Collection, job.Chunks); err != nil {
			p.logger.Error("async ingest failed",
				zap.String("collection", job.Collection),
				zap.Int("chunks", len(job.Chunks)),
				zap.Error(err),
			)
		}
	}

	p.logger.Debug("ingest worker stopped", zap.Uint("worker_id", id))
}
