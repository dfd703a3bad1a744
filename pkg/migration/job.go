// Package migration copies collections between vector store backends
// with checksum validation, explicit resume, and rollback.
package migration

import "time"

// State is a migration job lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateValidating State = "validating"
	StateCompleted  State = "completed"
	StateRolledBack State = "rolled_back"
	StateFailed     State = "failed"
)

// transitions maps each state to the states it may move to. Terminal
// states completed and rolled_back have no exits; failed may only be
// resumed (back to running) or rolled back.
var transitions = map[State][]State{
	StatePending:    {StateRunning},
	StateRunning:    {StateValidating, StateFailed},
	StateValidating: {StateCompleted, StateRolledBack, StateFailed},
	StateFailed:     {StateRunning, StateRolledBack},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further progress
// without explicit caller action.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRolledBack
}

// BatchChecksum records the verified checksum of one copied batch.
type BatchChecksum struct {
	Batch    int    `json:"batch"`
	Cursor   string `json:"cursor"`
	Records  int    `json:"records"`
	Checksum string `json:"checksum"`
}

// Job is the persistent record of one migration. The cursor always
// points at the last fully-copied batch boundary, so a crashed or
// failed job resumes without re-copying verified batches.
type Job struct {
	ID               string          `json:"id"`
	SourceCollection string          `json:"source_collection"`
	TargetCollection string          `json:"target_collection"`
	SourceProvider   string          `json:"source_provider"`
	TargetProvider   string          `json:"target_provider"`
	State            State           `json:"state"`
	Cursor           string          `json:"cursor"`
	BatchesCopied    int             `json:"batches_copied"`
	RecordsCopied    int64           `json:"records_copied"`
	TotalRecords     int64           `json:"total_records"`
	ChecksumLog      []BatchChecksum `json:"checksum_log"`

	// FailedBatch is the 1-based index of the batch that failed, zero
	// when no batch has failed.
	FailedBatch int    `json:"failed_batch,omitempty"`
	Error       string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
