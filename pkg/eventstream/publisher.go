package eventstream

import "context"

// Publisher publishes retrieval lifecycle events to an event stream
// backend.
type Publisher interface {
	PublishIngest(ctx context.Context, event *ChunksIngestedEvent) error
	PublishMigration(ctx context.Context, event *MigrationProgressEvent) error
	Close() error
}
