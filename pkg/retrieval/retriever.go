// Package retrieval fuses dense vector search with sparse keyword
// search into one ranked answer.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/loomsearch/loom/pkg/embeddings"
	"github.com/loomsearch/loom/pkg/vectorstore"
)

// DefaultCandidateMultiplier sets how many candidates each leg fetches
// per requested result, so fusion has enough overlap to work with.
const DefaultCandidateMultiplier = 4

// QueryEmbedder turns query text into vectors. *embeddings.Batcher
// satisfies it.
type QueryEmbedder interface {
	Embed(ctx context.Context, chunks []embeddings.Chunk) ([][]float32, error)
}

// Config tunes the hybrid retriever.
type Config struct {
	// KeywordSearch enables the sparse leg. This is an explicit
	// switch; when off the retriever is pure dense search, it never
	// silently falls back.
	KeywordSearch bool

	// CandidateMultiplier scales k into the per-leg candidate count.
	// Defaults to DefaultCandidateMultiplier.
	CandidateMultiplier int

	// RRFConstant is the damping constant for rank fusion. Defaults
	// to DefaultRRFConstant.
	RRFConstant int
}

// Retriever answers text queries against one collection, fusing a
// dense and an optional sparse ranking, with an optional reranking
// stage.
type Retriever struct {
	store    vectorstore.Adapter
	embedder QueryEmbedder
	keyword  KeywordIndex
	reranker ReRanker
	config   Config
	logger   *zap.Logger
}

// NewRetriever creates a hybrid retriever. keyword may be nil only
// when cfg.KeywordSearch is off; reranker may be nil to skip the
// second stage.
func NewRetriever(store vectorstore.Adapter, embedder QueryEmbedder, keyword KeywordIndex, reranker ReRanker, cfg Config, logger *zap.Logger) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.KeywordSearch && keyword == nil {
		return nil, fmt.Errorf("keyword search enabled but no keyword index configured")
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = DefaultCandidateMultiplier
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}

	return &Retriever{
		store:    store,
		embedder: embedder,
		keyword:  keyword,
		reranker: reranker,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Search returns the top k results for the query text. With keyword
// search off the result is exactly what the store's dense search
// returns. With it on, both legs run concurrently over a widened
// candidate pool and are fused by reciprocal rank.
func (r *Retriever) Search(ctx context.Context, collection, query string, k int, filter *vectorstore.Filter) ([]vectorstore.Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	vecs, err := r.embedder.Embed(ctx, []embeddings.Chunk{{ID: "query", Text: query}})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryVec := vecs[0]

	if !r.config.KeywordSearch {
		return r.store.Search(ctx, collection, queryVec, k, filter)
	}

	kPrime := k * r.config.CandidateMultiplier

	var dense []vectorstore.Result
	var sparse []KeywordMatch

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dense, err = r.store.Search(gctx, collection, queryVec, kPrime, filter)
		if err != nil {
			return fmt.Errorf("dense search: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sparse = r.keyword.Search(query, kPrime)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	denseIDs := make([]string, len(dense))
	denseByID := make(map[string]vectorstore.Result, len(dense))
	for i, res := range dense {
		denseIDs[i] = res.ID
		denseByID[res.ID] = res
	}
	sparseIDs := make([]string, len(sparse))
	for i, match := range sparse {
		sparseIDs[i] = match.ID
	}

	fused := FuseRRF([][]string{denseIDs, sparseIDs}, r.config.RRFConstant)

	r.logger.Debug("fused hybrid candidates",
		zap.String("collection", collection),
		zap.Int("dense", len(dense)),
		zap.Int("sparse", len(sparse)),
		zap.Int("fused", len(fused)),
	)

	limit := k
	if r.reranker != nil {
		limit = MaxRerankCandidates
	}
	if limit > len(fused) {
		limit = len(fused)
	}

	results, err := r.hydrate(ctx, collection, fused[:limit], denseByID, filter)
	if err != nil {
		return nil, err
	}

	if r.reranker != nil {
		results, err = r.rerank(ctx, query, results)
		if err != nil {
			return nil, fmt.Errorf("reranking: %w", err)
		}
	}

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// hydrate resolves fused ids into full results. Dense hits already
// carry payloads; sparse-only ids are fetched from the store. Ids the
// keyword index knows but the store does not are dropped, they fall
// inside the ingest consistency window.
func (r *Retriever) hydrate(ctx context.Context, collection string, fused []FusedResult, denseByID map[string]vectorstore.Result, filter *vectorstore.Filter) ([]vectorstore.Result, error) {
	var missing []string
	for _, f := range fused {
		if _, ok := denseByID[f.ID]; !ok {
			missing = append(missing, f.ID)
		}
	}

	fetched := make(map[string]vectorstore.Record, len(missing))
	if len(missing) > 0 {
		records, err := r.store.Get(ctx, collection, missing)
		if err != nil {
			return nil, fmt.Errorf("hydrating sparse results: %w", err)
		}
		for _, rec := range records {
			fetched[rec.ID] = rec
		}
	}

	results := make([]vectorstore.Result, 0, len(fused))
	for _, f := range fused {
		if res, ok := denseByID[f.ID]; ok {
			results = append(results, vectorstore.Result{ID: f.ID, Score: float32(f.Score), Payload: res.Payload})
			continue
		}
		rec, ok := fetched[f.ID]
		if !ok {
			continue
		}
		if filter != nil && !filter.Matches(rec.Payload) {
			continue
		}
		results = append(results, vectorstore.Result{ID: f.ID, Score: float32(f.Score), Payload: rec.Payload})
	}
	return results, nil
}

func (r *Retriever) rerank(ctx context.Context, query string, results []vectorstore.Result) ([]vectorstore.Result, error) {
	candidates := make([]Candidate, len(results))
	for i, res := range results {
		text, _ := res.Payload[vectorstore.PayloadText].(string)
		candidates[i] = Candidate{ID: res.ID, Text: text, Payload: res.Payload, Score: float64(res.Score)}
	}

	reordered, err := r.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	if len(reordered) != len(candidates) {
		return nil, fmt.Errorf("reranker changed candidate count from %d to %d", len(candidates), len(reordered))
	}

	out := make([]vectorstore.Result, len(reordered))
	for i, cand := range reordered {
		out[i] = vectorstore.Result{ID: cand.ID, Score: float32(cand.Score), Payload: cand.Payload}
	}
	return out, nil
}
