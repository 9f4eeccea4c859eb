package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"webseek/internal/api"
	"webseek/internal/searcher"
	"webseek/internal/textpipe"
)

var (
	searchLimit  int
	searchSkip   int
	searchJSON   bool
	searchLegacy bool
)

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run a BM25 search against the index",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	cmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, "results to return (0 = config default)")
	cmd.Flags().IntVar(&searchSkip, "skip", 0, "results to skip")
	cmd.Flags().BoolVar(&searchJSON, "json", false, `output {"urls": [...], "count": N}`)
	cmd.Flags().BoolVar(&searchLegacy, "legacy", false, "use the legacy $text index instead of BM25")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel, cfg, logger, st, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer st.Close(context.Background())

	limit := searchLimit
	if limit <= 0 {
		limit = cfg.Search.DefaultLimit
	}
	if limit > cfg.Search.MaxLimit {
		limit = cfg.Search.MaxLimit
	}
	skip := searchSkip
	if skip < 0 {
		skip = 0
	}

	var results []searcher.Result
	if searchLegacy {
		docs, err := st.TextSearch(ctx, args[0], limit, skip)
		if err != nil {
			return fmt.Errorf("legacy search: %w", err)
		}
		for _, doc := range docs {
			results = append(results, searcher.Result{
				URL:         doc.ResultURL(),
				Title:       doc.Title,
				TextExcerpt: doc.TextExcerpt,
				Score:       doc.Score,
			})
		}
	} else {
		s := searcher.New(st, textpipe.New(), logger)
		results, err = s.Search(ctx, args[0], limit, skip)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
	}

	if searchJSON {
		urls := make([]string, 0, len(results))
		for _, res := range results {
			urls = append(urls, res.URL)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetEscapeHTML(false)
		return enc.Encode(map[string]any{"urls": urls, "count": len(urls)})
	}

	for i, res := range results {
		title := res.Title
		if title == "" {
			title = "(no title)"
		}
		fmt.Printf("[%d] %s\n", i+1, title)
		fmt.Printf("    URL: %s | score=%.4f\n", res.URL, res.Score)
		if res.TextExcerpt != "" {
			fmt.Printf("    %s\n", res.TextExcerpt)
		}
		fmt.Println()
	}
	return nil
}

var serveAddr string

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", ":8000", "listen address")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	_, cancel, cfg, logger, st, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer st.Close(context.Background())

	s := searcher.New(st, textpipe.New(), logger)
	srv := api.NewServer(s, cfg.Search.DefaultLimit, cfg.Search.MaxLimit, logger)
	return srv.ListenAndServe(serveAddr)
}
