package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomsearch/loom/pkg/vectorstore"
)

// FaultyAdapter wraps a real adapter and injects failures or data
// corruption at chosen points. Migration tests use it to exercise
// checksum validation and rollback paths.
type FaultyAdapter struct {
	vectorstore.Adapter

	mu sync.Mutex

	// FailUpsertOnCall makes the Nth Upsert call (1-based) fail.
	FailUpsertOnCall int

	// CorruptUpsertOnCall flips the first vector component of every
	// record in the Nth Upsert call (1-based) before forwarding it.
	CorruptUpsertOnCall int

	// FailSearch makes every Search call fail.
	FailSearch bool

	upsertCalls int
}

// NewFaultyAdapter wraps inner with fault injection disabled.
func NewFaultyAdapter(inner vectorstore.Adapter) *FaultyAdapter {
	return &FaultyAdapter{Adapter: inner}
}

// UpsertCalls reports how many Upsert calls were made.
func (f *FaultyAdapter) UpsertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls
}

func (f *FaultyAdapter) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	f.mu.Lock()
	f.upsertCalls++
	call := f.upsertCalls
	f.mu.Unlock()

	if f.FailUpsertOnCall > 0 && call == f.FailUpsertOnCall {
		return fmt.Errorf("injected upsert failure on call %d", call)
	}

	if f.CorruptUpsertOnCall > 0 && call == f.CorruptUpsertOnCall {
		corrupted := make([]vectorstore.Record, len(records))
		for i, rec := range records {
			vec := make([]float32, len(rec.Vector))
			copy(vec, rec.Vector)
			if len(vec) > 0 {
				vec[0] = -vec[0] + 0.125
			}
			corrupted[i] = vectorstore.Record{ID: rec.ID, Vector: vec, Payload: rec.Payload}
		}
		records = corrupted
	}

	return f.Adapter.Upsert(ctx, collection, records)
}

func (f *FaultyAdapter) Search(ctx context.Context, collection string, vector []float32, k int, filter *vectorstore.Filter) ([]vectorstore.Result, error) {
	if f.FailSearch {
		return nil, fmt.Errorf("injected search failure")
	}
	return f.Adapter.Search(ctx, collection, vector, k, filter)
}

var _ vectorstore.Adapter = (*FaultyAdapter)(nil)
