// Package searchcmder provides the search command for querying a collection.
package searchcmder

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/cmd/loom/runtime"
	"github.com/loomsearch/loom/pkg/config"
	"github.com/loomsearch/loom/pkg/logger"
	"github.com/loomsearch/loom/pkg/utils"
	"github.com/loomsearch/loom/pkg/vectorstore"
)

var (
	rankStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	previewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type searchCommander struct {
	query      string
	collection string
	topK       int
	quiet      bool

	storeProvider string
	storeTarget   string
	embedProvider string
	embedTarget   string
	embedModel    string

	debug  bool
	logger *zap.Logger
	cfg    *config.Config
}

const searchLongDesc string = `Search a collection with hybrid retrieval.

Embeds the query text, runs dense vector search fused with keyword
search, and prints the top results. The vector store backend and
embedding provider come from loom.yaml, LOOM_* environment variables,
or flags.

Use --quiet to output only record ids, one per line, for piping.

Example:
  loom search "how to configure logging" --collection docs
  loom search "error handling patterns" --collection docs --top 10
  loom search "worker pool shutdown" --collection docs --store sqlite --store-target loom.db`

const searchShortDesc string = "Search a collection"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	flagKeys := []string{
		config.FlagStoreProvider,
		config.FlagStoreTarget,
		config.FlagEmbeddingProv,
		config.FlagEmbeddingTgt,
		config.FlagEmbeddingModel,
	}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = runtime.ResolveConfig(cmd, flagKeys)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.query = args[0]
			cmder.debug = runtime.Debug(cmd)
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStoreProvider, &cmder.storeProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagStoreTarget, &cmder.storeTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &cmder.embedModel)

	cmd.Flags().StringVarP(&cmder.collection, "collection", "c", "", "Collection to search (required)")
	cmd.Flags().IntVarP(&cmder.topK, "top", "k", 5, "Number of results to return")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only record ids, one per line (for piping)")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func (c *searchCommander) run(ctx context.Context) error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	stack, err := runtime.NewStack(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	results, err := stack.Retriever.Search(ctx, c.collection, c.query, c.topK, nil)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		if !c.quiet {
			fmt.Println("No results found.")
		}
		return nil
	}

	if c.quiet {
		for _, result := range results {
			fmt.Println(result.ID)
		}
		return nil
	}

	fmt.Printf("\n%s %s\n\n",
		headerStyle.Render("Search Results for:"),
		idStyle.Render(fmt.Sprintf("%q", c.query)),
	)

	for i, result := range results {
		printResult(i+1, result)
	}

	return nil
}

func printResult(rank int, result vectorstore.Result) {
	fmt.Printf("  %s  %s  %s\n",
		rankStyle.Render(fmt.Sprintf("#%d", rank)),
		scoreStyle.Render(fmt.Sprintf("score: %.4f", result.Score)),
		idStyle.Render(result.ID),
	)

	text, _ := result.Payload[vectorstore.PayloadText].(string)
	if text == "" {
		fmt.Printf("  %s\n\n", dimStyle.Render("(no text payload)"))
		return
	}

	preview := utils.Truncate(strings.ReplaceAll(text, "\n", " "), 80)
	fmt.Printf("  %s\n\n", previewStyle.Render(preview))
}
