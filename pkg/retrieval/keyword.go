package retrieval

// KeywordMatch is one hit from a keyword index, scored by lexical
// relevance.
type KeywordMatch struct {
	ID    string
	Score float64
}

// KeywordIndex is a sparse, term-based index over the same text that
// gets embedded. The ingest pipeline updates it synchronously with the
// vector store, so the two views of a collection diverge only within a
// single ingest call.
type KeywordIndex interface {
	// Index adds or replaces the document text for an id.
	Index(id, text string)

	// Remove deletes an id from the index. Unknown ids are ignored.
	Remove(id string)

	// Search returns the top k matches for the query, ordered by
	// decreasing score, ties by ascending id.
	Search(query string, k int) []KeywordMatch

	// Len reports the number of indexed documents.
	Len() int
}
