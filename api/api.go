package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/pkg/ingest"
	"github.com/loomsearch/loom/pkg/migration"
	"github.com/loomsearch/loom/pkg/retrieval"
	"github.com/loomsearch/loom/pkg/vectorstore"
)

// Server is the API server for querying and managing the loom system.
type Server struct {
	config    Config
	store     vectorstore.Adapter
	retriever *retrieval.Retriever
	pool      *ingest.Pool
	jobs      migration.JobStore
	logger    *zap.Logger
	app       *fiber.App
}

// NewServer creates a new API server. The store, retriever, and ingest
// pool are injected to allow sharing with CLI components; jobs may be
// nil when migration endpoints are not served.
func NewServer(config Config, store vectorstore.Adapter, retriever *retrieval.Retriever, pool *ingest.Pool, jobs migration.JobStore, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:    config,
		store:     store,
		retriever: retriever,
		pool:      pool,
		jobs:      jobs,
		logger:    logger,
		app:       app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/v1/search", s.handleSearch)
	app.Post("/v1/ingest", s.handleIngest)
	app.Get("/v1/collections/:name/stats", s.handleCollectionStats)
	app.Get("/v1/migrations", s.handleListMigrations)
	app.Get("/v1/migrations/:id", s.handleGetMigration)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
