package embeddings

// Chunk is the unit of text handed over by the document-processing
// collaborator. Chunks arrive with stable ids and are immutable once
// embedded; the engine never re-derives chunk boundaries.
type Chunk struct {
	// ID uniquely identifies the chunk.
	ID string

	// Text is the chunk content to embed.
	Text string

	// SourceDocumentID identifies the document this chunk came from.
	SourceDocumentID string

	// Position is the chunk's ordinal within its source document.
	Position int

	// Metadata holds scalar fields carried into the record payload.
	Metadata map[string]any
}
