// Package bm25 provides an in-memory inverted index scored with BM25.
package bm25

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/loomsearch/loom/pkg/retrieval"
)

// Default BM25 parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Index is a thread-safe inverted index over document text. Documents
// are added and removed incrementally; IDF and length statistics are
// maintained as the corpus changes.
type Index struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	// term -> id -> term frequency
	postings map[string]map[string]int

	// id -> token count
	docLen map[string]int

	totalLen int
}

// NewIndex creates an empty index with default parameters.
func NewIndex() *Index {
	return NewIndexWithParams(DefaultK1, DefaultB)
}

// NewIndexWithParams creates an empty index with custom k1 and b.
func NewIndexWithParams(k1, b float64) *Index {
	return &Index{
		k1:       k1,
		b:        b,
		postings: make(map[string]map[string]int),
		docLen:   make(map[string]int),
	}
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true,
	"this": true, "that": true, "these": true, "those": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) > 1 && !stopWords[field] {
			terms = append(terms, field)
		}
	}
	return terms
}

// Index adds or replaces the document text for an id.
func (x *Index) Index(id, text string) {
	terms := tokenize(text)

	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(id)

	x.docLen[id] = len(terms)
	x.totalLen += len(terms)
	for _, term := range terms {
		posting, ok := x.postings[term]
		if !ok {
			posting = make(map[string]int)
			x.postings[term] = posting
		}
		posting[id]++
	}
}

// Remove deletes an id from the index. Unknown ids are ignored.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
}

func (x *Index) removeLocked(id string) {
	length, ok := x.docLen[id]
	if !ok {
		return
	}
	x.totalLen -= length
	delete(x.docLen, id)

	for term, posting := range x.postings {
		if _, ok := posting[id]; ok {
			delete(posting, id)
			if len(posting) == 0 {
				delete(x.postings, term)
			}
		}
	}
}

// Len reports the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docLen)
}

// Search returns the top k matches for the query, ordered by
// decreasing BM25 score, ties by ascending id.
func (x *Index) Search(query string, k int) []retrieval.KeywordMatch {
	if k <= 0 {
		return nil
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.docLen)
	if n == 0 {
		return nil
	}
	avgLen := float64(x.totalLen) / float64(n)

	scores := make(map[string]float64)
	for _, term := range terms {
		posting, ok := x.postings[term]
		if !ok {
			continue
		}

		df := float64(len(posting))
		idf := math.Log((float64(n)-df+0.5)/(df+0.5) + 1)

		for id, tf := range posting {
			docLen := float64(x.docLen[id])
			numerator := float64(tf) * (x.k1 + 1)
			denominator := float64(tf) + x.k1*(1-x.b+x.b*(docLen/avgLen))
			scores[id] += idf * (numerator / denominator)
		}
	}

	matches := make([]retrieval.KeywordMatch, 0, len(scores))
	for id, score := range scores {
		matches = append(matches, retrieval.KeywordMatch{ID: id, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

var _ retrieval.KeywordIndex = (*Index)(nil)
