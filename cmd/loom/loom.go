// Package loomcmder
package loomcmder

import (
	"github.com/spf13/cobra"

	collectionscmder "github.com/loomsearch/loom/cmd/loom/collections"
	ingestcmder "github.com/loomsearch/loom/cmd/loom/ingest"
	migratecmder "github.com/loomsearch/loom/cmd/loom/migrate"
	searchcmder "github.com/loomsearch/loom/cmd/loom/search"
	servecmder "github.com/loomsearch/loom/cmd/loom/serve"
	versioncmder "github.com/loomsearch/loom/cmd/version"
)

const loomLongDesc string = `Loom is a vector-store-agnostic hybrid retrieval engine.

Ingest text chunks, search them with fused dense and keyword ranking,
and migrate collections between backends:
  loom ingest       Embed and index chunks from a JSONL file
  loom search       Query a collection
  loom collections  Create and inspect collections
  loom migrate      Copy a collection to another backend
  loom serve        Run the HTTP API server`

const loomShortDesc string = "Loom - Hybrid Retrieval Engine"

func NewLoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loom",
		Short: loomShortDesc,
		Long:  loomLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory containing loom.yaml")

	// Add subcommands
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(ingestcmder.NewIngestCmd())
	cmd.AddCommand(collectionscmder.NewCollectionsCmd())
	cmd.AddCommand(migratecmder.NewMigrateCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
