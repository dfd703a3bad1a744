// Package ingest turns chunks into searchable records: embed, upsert,
// index keywords, announce.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/embeddings"
	"github.com/loomsearch/loom/pkg/eventstream"
	"github.com/loomsearch/loom/pkg/retrieval"
	"github.com/loomsearch/loom/pkg/vectorstore"
)

// Payload field names derived from chunk structure.
const (
	PayloadSourceDocument = "source_document_id"
	PayloadPosition       = "position"
)

// Embedder is the slice of the batching embedder the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, chunks []embeddings.Chunk) ([][]float32, error)
	Model() string
}

// Pipeline ingests chunks into one vector store collection. When a
// keyword index is configured it is updated in the same call as the
// upsert, so the sparse and dense views of a collection diverge only
// while an Ingest call is in flight.
type Pipeline struct {
	embedder  Embedder
	store     vectorstore.Adapter
	keyword   retrieval.KeywordIndex
	publisher eventstream.Publisher
	logger    *zap.Logger
}

// NewPipeline creates an ingest pipeline. keyword may be nil when no
// sparse index is maintained.
func NewPipeline(embedder Embedder, store vectorstore.Adapter, keyword retrieval.KeywordIndex, publisher eventstream.Publisher, logger *zap.Logger) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	return &Pipeline{
		embedder:  embedder,
		store:     store,
		keyword:   keyword,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Ingest embeds the chunks and upserts one record per chunk. Chunk
// metadata lands in the record payload alongside the text and
// provenance fields.
func (p *Pipeline) Ingest(ctx context.Context, collection string, chunks []embeddings.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	started := time.Now()

	vectors, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, chunk := range chunks {
		payload := make(map[string]any, len(chunk.Metadata)+3)
		for k, v := range chunk.Metadata {
			payload[k] = v
		}
		payload[vectorstore.PayloadText] = chunk.Text
		payload[PayloadSourceDocument] = chunk.SourceDocumentID
		payload[PayloadPosition] = chunk.Position

		records[i] = vectorstore.Record{
			ID:      chunk.ID,
			Vector:  vectors[i],
			Payload: payload,
		}
	}

	if err := p.store.Upsert(ctx, collection, records); err != nil {
		return fmt.Errorf("upserting records: %w", err)
	}

	if p.keyword != nil {
		for _, chunk := range chunks {
			p.keyword.Index(chunk.ID, chunk.Text)
		}
	}

	event := &eventstream.ChunksIngestedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeChunksIngested,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Collection:    collection,
		ChunkCount:    len(chunks),
		Model:         p.embedder.Model(),
		DurationMs:    time.Since(started).Milliseconds(),
	}
	if err := p.publisher.PublishIngest(ctx, event); err != nil {
		p.logger.Warn("failed to publish ingest event",
			zap.String("collection", collection),
			zap.Error(err),
		)
	}

	p.logger.Info("ingested chunks",
		zap.String("collection", collection),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// Delete removes records and their keyword entries.
func (p *Pipeline) Delete(ctx context.Context, collection string, ids []string) error {
	if err := p.store.Delete(ctx, collection, ids); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	if p.keyword != nil {
		for _, id := range ids {
			p.keyword.Remove(id)
		}
	}
	return nil
}
