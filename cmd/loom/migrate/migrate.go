// Package migratecmder provides commands for migrating collections
// between vector store backends.
package migratecmder

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/cmd/loom/runtime"
	"github.com/loomsearch/loom/pkg/config"
	"github.com/loomsearch/loom/pkg/eventstream/nop"
	"github.com/loomsearch/loom/pkg/logger"
	"github.com/loomsearch/loom/pkg/migration"
	"github.com/loomsearch/loom/pkg/vectorstore"
	storeutils "github.com/loomsearch/loom/pkg/vectorstore/utils"
)

var (
	stateStyles = map[migration.State]lipgloss.Style{
		migration.StateCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true),
		migration.StateFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		migration.StateRolledBack: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
	defaultStateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dimStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type migrateCommander struct {
	sourceProvider string
	sourceTarget   string
	targetProvider string
	targetTarget   string
	jobsPath       string
	batchSize      int

	debug  bool
	logger *zap.Logger
	cfg    *config.Config
}

const migrateLongDesc string = `Migrate a collection between vector store backends.

The source stays authoritative throughout: batches are copied in stable
order, every batch is read back from the target and checksummed against
the source, and the whole target collection is validated (counts, random
record sample, query overlap) before the job completes.

A failed job is never retried automatically. Fix the cause, then
"loom migrate resume <job-id>" to continue from the recorded cursor, or
"loom migrate rollback <job-id>" to drop the target collection.

Example:
  loom migrate run docs docs --source sqlite --source-target loom.db --target qdrant --target-addr localhost:6334
  loom migrate status
  loom migrate resume 6f1f0a2e-...
  loom migrate rollback 6f1f0a2e-...`

func NewMigrateCmd() *cobra.Command {
	cmder := &migrateCommander{}

	flagKeys := []string{config.FlagMigrationJobs}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate collections between backends",
		Long:  migrateLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = runtime.ResolveConfig(cmd, flagKeys)
			cmder.debug = runtime.Debug(cmd)
			return err
		},
	}

	config.AddPersistentStringFlag(cmd, config.Flags, config.FlagMigrationJobs, &cmder.jobsPath)

	cmd.PersistentFlags().StringVar(&cmder.sourceProvider, "source", "", "Source backend (memory, sqlite, pgvector, qdrant, chroma)")
	cmd.PersistentFlags().StringVar(&cmder.sourceTarget, "source-addr", "", "Source backend location")
	cmd.PersistentFlags().StringVar(&cmder.targetProvider, "target", "", "Target backend (memory, sqlite, pgvector, qdrant, chroma)")
	cmd.PersistentFlags().StringVar(&cmder.targetTarget, "target-addr", "", "Target backend location")
	cmd.PersistentFlags().IntVar(&cmder.batchSize, "batch", 0, "Records per migration batch")

	cmd.AddCommand(cmder.newRunCmd())
	cmd.AddCommand(cmder.newResumeCmd())
	cmd.AddCommand(cmder.newRollbackCmd())
	cmd.AddCommand(cmder.newStatusCmd())

	return cmd
}

func (c *migrateCommander) newEngine() (*migration.Engine, migration.JobStore, error) {
	c.logger = logger.NewLogger(c.debug)

	jobs, err := migration.NewSQLiteJobStore(c.cfg.Migration.JobsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening job store: %w", err)
	}

	engine, err := migration.NewEngine(jobs, nop.NewPublisher(), migration.Config{
		BatchSize:        c.pickInt(c.batchSize, c.cfg.Migration.BatchSize),
		SampleSize:       c.cfg.Migration.SampleSize,
		QueryCount:       c.cfg.Migration.QueryCount,
		OverlapK:         c.cfg.Migration.OverlapK,
		OverlapThreshold: c.cfg.Migration.OverlapThreshold,
	}, c.logger)
	if err != nil {
		jobs.Close()
		return nil, nil, err
	}
	return engine, jobs, nil
}

func (c *migrateCommander) pickInt(flag, cfg int) int {
	if flag > 0 {
		return flag
	}
	return cfg
}

func (c *migrateCommander) openAdapters(ctx context.Context) (source, target vectorstore.Adapter, err error) {
	if c.sourceProvider == "" || c.targetProvider == "" {
		return nil, nil, fmt.Errorf("--source and --target backends are required")
	}

	source, err = storeutils.NewAdapter(ctx, &storeutils.NewAdapterOpts{
		Provider: c.sourceProvider,
		Target:   c.sourceTarget,
		Logger:   c.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening source: %w", err)
	}

	target, err = storeutils.NewAdapter(ctx, &storeutils.NewAdapterOpts{
		Provider: c.targetProvider,
		Target:   c.targetTarget,
		Logger:   c.logger,
	})
	if err != nil {
		source.Close()
		return nil, nil, fmt.Errorf("opening target: %w", err)
	}
	return source, target, nil
}

func (c *migrateCommander) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <source-collection> <target-collection>",
		Short: "Start a migration and run it to completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, jobs, err := c.newEngine()
			if err != nil {
				return err
			}
			defer jobs.Close()

			source, target, err := c.openAdapters(ctx)
			if err != nil {
				return err
			}
			defer source.Close()
			defer target.Close()

			job, err := engine.Start(ctx, source, target, args[0], args[1])
			if job != nil {
				printJob(job)
			}
			return err
		},
	}
}

func (c *migrateCommander) newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume a failed migration from its recorded cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, jobs, err := c.newEngine()
			if err != nil {
				return err
			}
			defer jobs.Close()

			source, target, err := c.openAdapters(ctx)
			if err != nil {
				return err
			}
			defer source.Close()
			defer target.Close()

			job, err := engine.Resume(ctx, args[0], source, target)
			if job != nil {
				printJob(job)
			}
			return err
		},
	}
}

func (c *migrateCommander) newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <job-id>",
		Short: "Drop the target collection; the source stays authoritative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, jobs, err := c.newEngine()
			if err != nil {
				return err
			}
			defer jobs.Close()

			if c.targetProvider == "" {
				return fmt.Errorf("--target backend is required")
			}
			target, err := storeutils.NewAdapter(ctx, &storeutils.NewAdapterOpts{
				Provider: c.targetProvider,
				Target:   c.targetTarget,
				Logger:   c.logger,
			})
			if err != nil {
				return fmt.Errorf("opening target: %w", err)
			}
			defer target.Close()

			job, err := engine.Rollback(ctx, args[0], target)
			if job != nil {
				printJob(job)
			}
			return err
		},
	}
}

func (c *migrateCommander) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show migration job status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c.logger = logger.NewLogger(c.debug)

			jobs, err := migration.NewSQLiteJobStore(c.cfg.Migration.JobsPath)
			if err != nil {
				return fmt.Errorf("opening job store: %w", err)
			}
			defer jobs.Close()

			if len(args) == 1 {
				job, err := jobs.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printJob(job)
				return nil
			}

			all, err := jobs.List(ctx)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("No migration jobs.")
				return nil
			}
			for _, job := range all {
				printJob(job)
			}
			return nil
		},
	}
}

func printJob(job *migration.Job) {
	style, ok := stateStyles[job.State]
	if !ok {
		style = defaultStateStyle
	}

	fmt.Printf("%s  %s\n", style.Render(fmt.Sprintf("%-12s", string(job.State))), job.ID)
	fmt.Printf("  %s %s (%s) -> %s (%s)\n",
		dimStyle.Render("route:"),
		job.SourceCollection, job.SourceProvider,
		job.TargetCollection, job.TargetProvider,
	)
	fmt.Printf("  %s %d/%d records in %d batches\n",
		dimStyle.Render("copied:"),
		job.RecordsCopied, job.TotalRecords, job.BatchesCopied,
	)
	if job.Error != "" {
		fmt.Printf("  %s batch %d: %s\n", dimStyle.Render("error:"), job.FailedBatch, job.Error)
	}
	fmt.Println()
}
