package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/embeddings"
	"github.com/loomsearch/loom/pkg/ingest"
	"github.com/loomsearch/loom/pkg/vectorstore"
)

// FilterCondition is the wire form of one filter predicate.
type FilterCondition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
	Min   any    `json:"min,omitempty"`
	Max   any    `json:"max,omitempty"`
}

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Collection string            `json:"collection"`
	Query      string            `json:"query"`
	K          int               `json:"k"`
	Filter     []FilterCondition `json:"filter,omitempty"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// SearchResponse is the body returned by POST /v1/search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

func buildFilter(conditions []FilterCondition) (*vectorstore.Filter, error) {
	if len(conditions) == 0 {
		return nil, nil
	}

	conds := make([]vectorstore.Condition, len(conditions))
	for i, c := range conditions {
		conds[i] = vectorstore.Condition{
			Field: c.Field,
			Op:    vectorstore.Op(c.Op),
			Value: c.Value,
			Min:   c.Min,
			Max:   c.Max,
		}
	}

	filter := vectorstore.And(conds...)
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return filter, nil
}

// handleSearch handles POST /v1/search requests.
func (s *Server) handleSearch(c *fiber.Ctx) error {
	if s.retriever == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "search is not configured",
		})
	}

	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Collection == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "collection is required"})
	}
	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "query is required"})
	}
	if req.K <= 0 {
		req.K = 5
	}

	filter, err := buildFilter(req.Filter)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	results, err := s.retriever.Search(c.Context(), req.Collection, req.Query, req.K, filter)
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
		}
		s.logger.Error("search failed",
			zap.String("collection", req.Collection),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	out := make([]SearchResult, len(results))
	for i, res := range results {
		out[i] = SearchResult{ID: res.ID, Score: float64(res.Score), Payload: res.Payload}
	}
	return c.JSON(SearchResponse{Results: out})
}

// IngestChunk is the wire form of one chunk.
type IngestChunk struct {
	ID               string         `json:"id"`
	Text             string         `json:"text"`
	SourceDocumentID string         `json:"source_document_id,omitempty"`
	Position         int            `json:"position,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// IngestRequest is the body of POST /v1/ingest.
type IngestRequest struct {
	Collection string        `json:"collection"`
	Chunks     []IngestChunk `json:"chunks"`
}

// handleIngest handles POST /v1/ingest requests. Chunks are queued for
// asynchronous processing; a 202 means accepted, not yet searchable.
func (s *Server) handleIngest(c *fiber.Ctx) error {
	if s.pool == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error: "ingest is not configured",
		})
	}

	var req IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Collection == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "collection is required"})
	}
	if len(req.Chunks) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "chunks are required"})
	}
	for _, chunk := range req.Chunks {
		if chunk.ID == "" || chunk.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "every chunk needs an id and text"})
		}
	}

	chunks := make([]embeddings.Chunk, len(req.Chunks))
	for i, chunk := range req.Chunks {
		chunks[i] = embeddings.Chunk{
			ID:               chunk.ID,
			Text:             chunk.Text,
			SourceDocumentID: chunk.SourceDocumentID,
			Position:         chunk.Position,
			Metadata:         chunk.Metadata,
		}
	}

	if !s.pool.Enqueue(ingest.Job{Collection: req.Collection, Chunks: chunks}) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "ingest queue is full"})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"queued": len(chunks),
	})
}
