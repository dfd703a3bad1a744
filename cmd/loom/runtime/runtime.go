// Package runtime assembles the loom component stack from resolved
// configuration, shared by the CLI commands and the API server.
package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loomsearch/loom/pkg/config"
	"github.com/loomsearch/loom/pkg/embeddings"
	embeddingutils "github.com/loomsearch/loom/pkg/embeddings/utils"
	"github.com/loomsearch/loom/pkg/eventstream"
	eventkafka "github.com/loomsearch/loom/pkg/eventstream/kafka"
	"github.com/loomsearch/loom/pkg/eventstream/nop"
	"github.com/loomsearch/loom/pkg/ingest"
	"github.com/loomsearch/loom/pkg/retrieval"
	"github.com/loomsearch/loom/pkg/retrieval/bm25"
	"github.com/loomsearch/loom/pkg/vectorstore"
	storeutils "github.com/loomsearch/loom/pkg/vectorstore/utils"
)

// Stack is the wired set of loom components one process uses.
type Stack struct {
	Config    *config.Config
	Store     vectorstore.Adapter
	Batcher   *embeddings.Batcher
	Keyword   *bm25.Index
	Retriever *retrieval.Retriever
	Pipeline  *ingest.Pipeline
	Publisher eventstream.Publisher
	Logger    *zap.Logger
}

// NewStack builds every component from cfg. The keyword index starts
// empty; it fills as chunks are ingested in this process.
func NewStack(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stack, error) {
	store, err := storeutils.NewAdapter(ctx, &storeutils.NewAdapterOpts{
		Provider: cfg.Store.Provider,
		Target:   cfg.Store.Target,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	provider, err := embeddingutils.NewProvider(&embeddingutils.NewProviderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		MaxBatchSize: cfg.Embedding.MaxBatchSize,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	cache, err := embeddings.NewCache(cfg.Cache.Size)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}

	batcher, err := embeddings.NewBatcher(provider, cache, embeddings.BatcherConfig{
		ModelVersion: cfg.Embedding.ModelVersion,
		Parallelism:  cfg.Embedding.Parallelism,
		RateLimit:    rate.Limit(cfg.Embedding.RateLimit),
	}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating batch embedder: %w", err)
	}

	keyword := bm25.NewIndex()

	var reranker retrieval.ReRanker
	if cfg.Retrieval.Rerank {
		reranker = retrieval.NewLexicalReranker()
	}

	retriever, err := retrieval.NewRetriever(store, batcher, keyword, reranker, retrieval.Config{
		KeywordSearch:       cfg.Retrieval.KeywordSearch,
		CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
		RRFConstant:         cfg.Retrieval.RRFConstant,
	}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	publisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	pipeline, err := ingest.NewPipeline(batcher, store, keyword, publisher, logger)
	if err != nil {
		store.Close()
		publisher.Close()
		return nil, fmt.Errorf("creating ingest pipeline: %w", err)
	}

	return &Stack{
		Config:    cfg,
		Store:     store,
		Batcher:   batcher,
		Keyword:   keyword,
		Retriever: retriever,
		Pipeline:  pipeline,
		Publisher: publisher,
		Logger:    logger,
	}, nil
}

func newPublisher(cfg config.EventsConfig, logger *zap.Logger) (eventstream.Publisher, error) {
	switch cfg.Provider {
	case "", "nop":
		return nop.NewPublisher(), nil
	case "kafka":
		return eventkafka.NewPublisher(eventkafka.PublisherConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported event stream provider: %s", cfg.Provider)
	}
}

// Close releases the stack's resources.
func (s *Stack) Close() {
	if err := s.Batcher.Close(); err != nil {
		s.Logger.Warn("closing embedder", zap.Error(err))
	}
	if err := s.Publisher.Close(); err != nil {
		s.Logger.Warn("closing publisher", zap.Error(err))
	}
	if err := s.Store.Close(); err != nil {
		s.Logger.Warn("closing store", zap.Error(err))
	}
}
