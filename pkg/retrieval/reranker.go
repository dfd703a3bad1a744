package retrieval

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// MaxRerankCandidates caps how many fused results are handed to a
// reranker. Reranking cost is per candidate, so the cap bounds the
// most latency-expensive stage.
const MaxRerankCandidates = 50

// Candidate is one fused result presented to a reranker.
type Candidate struct {
	ID      string
	Text    string
	Payload map[string]any
	Score   float64
}

// ReRanker reorders fused candidates by relevance to the query text.
// Implementations must return the same candidate set they were given,
// only reordered, and must keep the incoming order for candidates they
// score equally.
type ReRanker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)
}

// LexicalReranker is a pointwise reranker scoring candidates by query
// term coverage. It needs no model service, which makes it the default
// second stage.
type LexicalReranker struct{}

// NewLexicalReranker creates a lexical reranker.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

func rerankTokens(text string) map[string]int {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	counts := make(map[string]int, len(fields))
	for _, field := range fields {
		if len(field) > 1 {
			counts[field]++
		}
	}
	return counts
}

// Rerank orders candidates by the fraction of distinct query terms
// each candidate's text contains. Equal scores keep the fused order.
func (r *LexicalReranker) Rerank(_ context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	queryTerms := rerankTokens(query)
	if len(queryTerms) == 0 {
		return candidates, nil
	}

	coverage := make([]float64, len(candidates))
	for i, cand := range candidates {
		docTerms := rerankTokens(cand.Text)
		matched := 0
		for term := range queryTerms {
			if docTerms[term] > 0 {
				matched++
			}
		}
		coverage[i] = float64(matched) / float64(len(queryTerms))
	}

	reordered := make([]Candidate, len(candidates))
	copy(reordered, candidates)
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return coverage[order[i]] > coverage[order[j]]
	})
	for i, idx := range order {
		reordered[i] = candidates[idx]
	}

	return reordered, nil
}

var _ ReRanker = (*LexicalReranker)(nil)
