package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeChunksIngested is emitted after a batch of chunks is
	// embedded and upserted into a collection.
	EventTypeChunksIngested = "loom.chunks.ingested"

	// EventTypeMigrationProgress is emitted as a migration job moves
	// through its lifecycle.
	EventTypeMigrationProgress = "loom.migration.progress"
)

// ChunksIngestedEvent is a transport-neutral event payload for an
// ingested chunk batch.
type ChunksIngestedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	Collection    string    `json:"collection"`
	ChunkCount    int       `json:"chunk_count"`
	Model         string    `json:"model"`
	DurationMs    int64     `json:"duration_ms"`
}

// MigrationProgressEvent reports the state of a migration job.
type MigrationProgressEvent struct {
	SchemaVersion  int       `json:"schema_version"`
	EventType      string    `json:"event_type"`
	EventID        string    `json:"event_id"`
	EmittedAt      time.Time `json:"emitted_at"`
	JobID          string    `json:"job_id"`
	State          string    `json:"state"`
	SourceProvider string    `json:"source_provider"`
	TargetProvider string    `json:"target_provider"`
	RecordsCopied  int64     `json:"records_copied"`
	TotalRecords   int64     `json:"total_records"`
}
