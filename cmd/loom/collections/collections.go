// Package collectionscmder provides commands for creating and
// inspecting collections.
package collectionscmder

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/cmd/loom/runtime"
	"github.com/loomsearch/loom/pkg/config"
	"github.com/loomsearch/loom/pkg/logger"
	"github.com/loomsearch/loom/pkg/vectorstore"
	storeutils "github.com/loomsearch/loom/pkg/vectorstore/utils"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
)

type collectionsCommander struct {
	storeProvider string
	storeTarget   string

	debug  bool
	logger *zap.Logger
	cfg    *config.Config
}

const collectionsLongDesc string = `Create, inspect, and drop collections.

Example:
  loom collections create docs --dimensions 768 --metric cosine
  loom collections stats docs
  loom collections drop docs`

func NewCollectionsCmd() *cobra.Command {
	cmder := &collectionsCommander{}

	flagKeys := []string{
		config.FlagStoreProvider,
		config.FlagStoreTarget,
	}

	cmd := &cobra.Command{
		Use:   "collections",
		Short: "Manage collections",
		Long:  collectionsLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = runtime.ResolveConfig(cmd, flagKeys)
			cmder.debug = runtime.Debug(cmd)
			return err
		},
	}

	config.AddPersistentStringFlag(cmd, config.Flags, config.FlagStoreProvider, &cmder.storeProvider)
	config.AddPersistentStringFlag(cmd, config.Flags, config.FlagStoreTarget, &cmder.storeTarget)

	cmd.AddCommand(cmder.newCreateCmd())
	cmd.AddCommand(cmder.newStatsCmd())
	cmd.AddCommand(cmder.newDropCmd())

	return cmd
}

func (c *collectionsCommander) openStore(ctx context.Context) (vectorstore.Adapter, error) {
	c.logger = logger.NewLogger(c.debug)
	return storeutils.NewAdapter(ctx, &storeutils.NewAdapterOpts{
		Provider: c.cfg.Store.Provider,
		Target:   c.cfg.Store.Target,
		Logger:   c.logger,
	})
}

func (c *collectionsCommander) newCreateCmd() *cobra.Command {
	var dimensions int
	var metric string
	var indexKind string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			collection := vectorstore.Collection{
				Name:      args[0],
				Dimension: dimensions,
				Metric:    vectorstore.Metric(metric),
				Index:     vectorstore.IndexConfig{Kind: vectorstore.IndexKind(indexKind)},
			}
			if err := store.CreateCollection(ctx, collection); err != nil {
				if errors.Is(err, vectorstore.ErrAlreadyExists) {
					return fmt.Errorf("collection %q already exists with a different config", args[0])
				}
				return err
			}

			fmt.Printf("Created collection %q (dimension %d, metric %s).\n", args[0], dimensions, metric)
			return nil
		},
	}

	cmd.Flags().IntVar(&dimensions, "dimensions", 768, "Vector dimension")
	cmd.Flags().StringVar(&metric, "metric", string(vectorstore.Cosine), "Distance metric (cosine, l2, dot)")
	cmd.Flags().StringVar(&indexKind, "index", string(vectorstore.IndexFlat), "Index kind (flat, hnsw)")

	return cmd
}

func (c *collectionsCommander) newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <name>",
		Short: "Show collection config and record count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			info, err := store.DescribeCollection(ctx, args[0])
			if err != nil {
				return err
			}
			count, err := store.Count(ctx, args[0])
			if err != nil {
				return err
			}

			caps := store.Capabilities()
			printField("Name", info.Name)
			printField("Backend", caps.Name)
			printField("Dimension", fmt.Sprintf("%d", info.Dimension))
			printField("Metric", string(info.Metric))
			printField("Index", string(info.Index.Kind))
			printField("Records", fmt.Sprintf("%d", count))
			printField("Native filter", fmt.Sprintf("%t", caps.NativeFilter))
			return nil
		},
	}
}

func (c *collectionsCommander) newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <name>",
		Short: "Drop a collection and all its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DropCollection(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Dropped collection %q.\n", args[0])
			return nil
		},
	}
}

func printField(label, value string) {
	fmt.Printf("  %s %s\n",
		labelStyle.Render(fmt.Sprintf("%-14s", label+":")),
		valueStyle.Render(value),
	)
}
