package testutils

import (
	"context"
	"sync"

	"github.com/loomsearch/loom/pkg/eventstream"
)

// MockPublisher records every published event for assertion.
type MockPublisher struct {
	mu sync.Mutex

	IngestEvents    []*eventstream.ChunksIngestedEvent
	MigrationEvents []*eventstream.MigrationProgressEvent

	// FailPublish causes every publish to return ErrNilEvent so tests
	// can exercise publisher failure handling.
	FailPublish bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishIngest(_ context.Context, event *eventstream.ChunksIngestedEvent) error {
	if event == nil || m.FailPublish {
		return eventstream.ErrNilEvent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IngestEvents = append(m.IngestEvents, event)
	return nil
}

func (m *MockPublisher) PublishMigration(_ context.Context, event *eventstream.MigrationProgressEvent) error {
	if event == nil || m.FailPublish {
		return eventstream.ErrNilEvent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MigrationEvents = append(m.MigrationEvents, event)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

var _ eventstream.Publisher = (*MockPublisher)(nil)
