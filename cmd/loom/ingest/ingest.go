// Package ingestcmder provides the ingest command for loading chunks
// from a JSONL file into a collection.
package ingestcmder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loomsearch/loom/cmd/loom/runtime"
	"github.com/loomsearch/loom/pkg/config"
	"github.com/loomsearch/loom/pkg/embeddings"
	"github.com/loomsearch/loom/pkg/logger"
	"github.com/loomsearch/loom/pkg/vectorstore"
)

type ingestCommander struct {
	path       string
	collection string
	create     bool
	batchSize  int

	storeProvider string
	storeTarget   string
	embedProvider string
	embedTarget   string
	embedModel    string
	dimensions    uint

	debug  bool
	logger *zap.Logger
	cfg    *config.Config
}

// chunkLine is the JSONL wire form of one chunk.
type chunkLine struct {
	ID               string         `json:"id"`
	Text             string         `json:"text"`
	SourceDocumentID string         `json:"source_document_id,omitempty"`
	Position         int            `json:"position,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

const ingestLongDesc string = `Ingest chunks from a JSONL file.

Each line is one chunk: {"id": "...", "text": "...", "source_document_id": "...",
"position": 0, "metadata": {...}}. Chunks are embedded in batches through the
embedding cache and upserted into the collection; the keyword index is updated
in the same pass.

With --create the collection is created first using --dimensions and the
configured metric. Re-running an ingest is safe: records sharing an id are
replaced, not duplicated.

Example:
  loom ingest chunks.jsonl --collection docs --create --dimensions 768
  loom ingest chunks.jsonl --collection docs --store sqlite --store-target loom.db`

const ingestShortDesc string = "Ingest chunks from a JSONL file"

func NewIngestCmd() *cobra.Command {
	cmder := &ingestCommander{}

	flagKeys := []string{
		config.FlagStoreProvider,
		config.FlagStoreTarget,
		config.FlagEmbeddingProv,
		config.FlagEmbeddingTgt,
		config.FlagEmbeddingModel,
		config.FlagEmbeddingDims,
	}

	cmd := &cobra.Command{
		Use:   "ingest <file.jsonl>",
		Short: ingestShortDesc,
		Long:  ingestLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.cfg, err = runtime.ResolveConfig(cmd, flagKeys)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.path = args[0]
			cmder.debug = runtime.Debug(cmd)
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStoreProvider, &cmder.storeProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagStoreTarget, &cmder.storeTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &cmder.dimensions)

	cmd.Flags().StringVarP(&cmder.collection, "collection", "c", "", "Collection to ingest into (required)")
	cmd.Flags().BoolVar(&cmder.create, "create", false, "Create the collection if it does not exist")
	cmd.Flags().IntVar(&cmder.batchSize, "batch", 500, "Chunks per ingest batch")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func (c *ingestCommander) run(ctx context.Context) error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	stack, err := runtime.NewStack(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	if c.create {
		err := stack.Store.CreateCollection(ctx, vectorstore.Collection{
			Name:      c.collection,
			Dimension: int(c.cfg.Embedding.Dimensions),
			Metric:    vectorstore.Cosine,
		})
		if err != nil && !errors.Is(err, vectorstore.ErrAlreadyExists) {
			return fmt.Errorf("creating collection: %w", err)
		}
	}

	file, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.path, err)
	}
	defer file.Close()

	var batch []embeddings.Chunk
	total := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var parsed chunkLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			return fmt.Errorf("parsing line %d: %w", total+1, err)
		}
		if parsed.ID == "" || parsed.Text == "" {
			return fmt.Errorf("line %d: every chunk needs an id and text", total+1)
		}

		batch = append(batch, embeddings.Chunk{
			ID:               parsed.ID,
			Text:             parsed.Text,
			SourceDocumentID: parsed.SourceDocumentID,
			Position:         parsed.Position,
			Metadata:         parsed.Metadata,
		})
		total++

		if len(batch) >= c.batchSize {
			if err := stack.Pipeline.Ingest(ctx, c.collection, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", c.path, err)
	}

	if len(batch) > 0 {
		if err := stack.Pipeline.Ingest(ctx, c.collection, batch); err != nil {
			return err
		}
	}

	fmt.Printf("Ingested %d chunks into %q.\n", total, c.collection)
	return nil
}
