package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"

	"webseek/internal/indexer"
	"webseek/internal/textpipe"
)

var (
	indexInput     string
	indexParallel  bool
	indexWorkers   int
	indexBatchSize int
	indexMaxPages  int
)

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index a JSONL file of fetched pages",
		RunE:  runIndex,
	}
	cmd.Flags().StringVarP(&indexInput, "input", "i", "", "JSONL file produced by fetch (required)")
	cmd.Flags().BoolVar(&indexParallel, "parallel", false, "build documents in a worker pool")
	cmd.Flags().IntVarP(&indexWorkers, "workers", "n", 0, "worker pool size (0 = config default)")
	cmd.Flags().IntVar(&indexBatchSize, "batch-size", 0, "bulk write batch size (0 = config default)")
	cmd.Flags().IntVar(&indexMaxPages, "max-pages", 0, "cap on pages per run (0 = config default)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel, cfg, logger, st, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer st.Close(context.Background())

	f, err := os.Open(indexInput)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	ixCfg := indexer.Config{
		ExcerptMaxChars: cfg.Indexer.ExcerptMaxChars,
		BatchSize:       cfg.Indexer.BulkBatchSize,
		Workers:         cfg.Pools.IndexerWorkers,
		MaxPages:        cfg.Indexer.MaxPagesPerRun,
	}
	if indexBatchSize > 0 {
		ixCfg.BatchSize = indexBatchSize
	}
	if indexWorkers > 0 {
		ixCfg.Workers = indexWorkers
	}
	if indexMaxPages > 0 {
		ixCfg.MaxPages = indexMaxPages
	}

	ix := indexer.New(st, textpipe.New(), ixCfg, logger)
	src := indexer.NewJSONLSource(f)

	var stats indexer.Stats
	if indexParallel {
		stats, err = ix.IndexPagesParallel(ctx, src)
	} else {
		stats, err = ix.IndexPages(ctx, src)
	}
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if skipped := src.Skipped(); skipped > 0 {
		logger.Warn("malformed JSONL lines skipped", "count", skipped)
	}

	fmt.Printf("Indexed %d pages: %d changed in %d batches\n", stats.Attempted, stats.Changed, stats.Batches)
	return nil
}

var reindexRebuildPostings bool

func reindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Recompute index_text and excerpts from stored raw text",
		RunE:  runReindex,
	}
	cmd.Flags().BoolVar(&reindexRebuildPostings, "rebuild-postings", false, "also rebuild each document's postings")
	return cmd
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx, cancel, cfg, logger, st, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer st.Close(context.Background())

	ix := indexer.New(st, textpipe.New(), indexer.Config{
		ExcerptMaxChars: cfg.Indexer.ExcerptMaxChars,
		BatchSize:       cfg.Indexer.BulkBatchSize,
		Workers:         cfg.Pools.IndexerWorkers,
	}, logger)

	stats, err := ix.Reindex(ctx, bson.M{}, reindexRebuildPostings)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}

	fmt.Printf("Reindexed %d documents: %d changed in %d batches\n", stats.Attempted, stats.Changed, stats.Batches)
	return nil
}
