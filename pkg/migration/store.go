package migration

import (
	"context"
	"encoding/json"
	"sync"
)

// JobStore persists migration jobs so a crashed process can resume
// from the recorded cursor.
type JobStore interface {
	// Save writes the job, replacing any existing job with the same id.
	Save(ctx context.Context, job *Job) error

	// Get loads a job by id, or ErrJobNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns all known jobs.
	List(ctx context.Context) ([]*Job, error)

	// Close releases store resources.
	Close() error
}

// MemoryJobStore keeps jobs in process memory. Tests and single-run
// CLI invocations use it; anything that must survive a crash uses the
// SQLite store.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

func cloneJob(job *Job) (*Job, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	var out Job
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemoryJobStore) Save(_ context.Context, job *Job) error {
	copied, err := cloneJob(job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = copied
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job)
}

func (s *MemoryJobStore) List(_ context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied, err := cloneJob(job)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

func (s *MemoryJobStore) Close() error {
	return nil
}

var _ JobStore = (*MemoryJobStore)(nil)
