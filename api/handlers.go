package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/loomsearch/loom/pkg/migration"
	"github.com/loomsearch/loom/pkg/vectorstore"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// CollectionStats describes one collection.
type CollectionStats struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Count     int64  `json:"count"`
	Backend   string `json:"backend"`
}

// handleCollectionStats returns config and record count for a collection.
func (s *Server) handleCollectionStats(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "name parameter required"})
	}

	info, err := s.store.DescribeCollection(c.Context(), name)
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "collection not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	count, err := s.store.Count(c.Context(), name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(CollectionStats{
		Name:      info.Name,
		Dimension: info.Dimension,
		Metric:    string(info.Metric),
		Count:     count,
		Backend:   s.store.Capabilities().Name,
	})
}

// handleListMigrations returns all migration jobs.
func (s *Server) handleListMigrations(c *fiber.Ctx) error {
	if s.jobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "migrations are not configured"})
	}

	jobs, err := s.jobs.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	if jobs == nil {
		jobs = []*migration.Job{}
	}
	return c.JSON(jobs)
}

// handleGetMigration returns one migration job by id.
func (s *Server) handleGetMigration(c *fiber.Ctx) error {
	if s.jobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "migrations are not configured"})
	}

	job, err := s.jobs.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, migration.ErrJobNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "migration job not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(job)
}
