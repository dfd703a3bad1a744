// Package servecmder provides the serve command for running the HTTP API.
package servecmder

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/api"
	"github.com/loomsearch/loom/cmd/loom/runtime"
	"github.com/loomsearch/loom/pkg/config"
	"github.com/loomsearch/loom/pkg/ingest"
	"github.com/loomsearch/loom/pkg/logger"
	"github.com/loomsearch/loom/pkg/migration"
)

type serveCommander struct {
	listen         string
	storeProvider  string
	storeTarget    string
	embedProvider  string
	embedTarget    string
	embedModel     string
	jobsPath       string
	ingestWorkers  uint
	ingestQueueLen uint
	debug          bool
	logger         *zap.Logger
	cfg            *config.Config
}

const serveLongDesc string = `Run the Loom HTTP API.

The server exposes search, ingest, collection stats, and migration status
endpoints on a single listen address. Ingest requests are queued to a
worker pool and embedded asynchronously.

Example:
  loom serve --listen :8081 --store sqlite --store-target loom.db`

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	flagKeys := []string{
		config.FlagStoreProvider,
		config.FlagStoreTarget,
		config.FlagEmbeddingProv,
		config.FlagEmbeddingTgt,
		config.FlagEmbeddingModel,
		config.FlagAPIListen,
		config.FlagMigrationJobs,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Loom HTTP API",
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = runtime.ResolveConfig(cmd, flagKeys)
			cmder.debug = runtime.Debug(cmd)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStoreProvider, &cmder.storeProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagStoreTarget, &cmder.storeTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagMigrationJobs, &cmder.jobsPath)

	cmd.Flags().UintVar(&cmder.ingestWorkers, "ingest-workers", 3, "Number of ingest workers")
	cmd.Flags().UintVar(&cmder.ingestQueueLen, "ingest-queue", 256, "Ingest queue length")

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	stack, err := runtime.NewStack(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	pool, err := ingest.NewPool(&ingest.PoolConfig{
		Pipeline:   stack.Pipeline,
		NumWorkers: c.ingestWorkers,
		QueueSize:  c.ingestQueueLen,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	jobs, err := migration.NewSQLiteJobStore(c.cfg.Migration.JobsPath)
	if err != nil {
		return err
	}
	defer jobs.Close()

	server := api.NewServer(api.Config{
		ListenAddr: c.cfg.API.Listen,
	}, stack.Store, stack.Retriever, pool, jobs, c.logger)

	c.logger.Info("starting api server",
		zap.String("listen", c.cfg.API.Listen),
		zap.String("store", c.cfg.Store.Provider),
		zap.String("embedding_provider", c.cfg.Embedding.Provider),
		zap.String("embedding_model", c.cfg.Embedding.Model),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return server.Shutdown()
	}
}
