package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"webseek/internal/config"
	"webseek/internal/crawler"
	"webseek/internal/fetcher"
	"webseek/internal/store"
	"webseek/internal/tracker"
)

// version is set at build time via ldflags.
var version = "dev"

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "webseek",
		Short: "webseek — crawl, index and search the web",
		Long: `webseek is a small end-to-end search engine: it discovers pages from
seed URLs, fetches their visible content, builds a positional inverted
index in MongoDB, and answers free-text queries ranked by BM25.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(reindexCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config, builds the logger, and opens the store. The returned
// context is cancelled on SIGINT/SIGTERM so long runs stop at batch
// boundaries.
func setup() (context.Context, context.CancelFunc, *config.Config, *slog.Logger, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	st, err := store.Open(ctx, cfg.DB.URI, cfg.DB.Database, logger)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return ctx, cancel, cfg, logger, st, nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	} else {
		switch strings.ToUpper(level) {
		case "DEBUG":
			lvl = slog.LevelDebug
		case "WARN", "WARNING":
			lvl = slog.LevelWarn
		case "ERROR":
			lvl = slog.LevelError
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newFetcher(cfg *config.Config, logger *slog.Logger) *fetcher.Fetcher {
	return fetcher.New(fetcher.Config{
		Timeout:      time.Duration(cfg.Crawler.HTTPTimeoutSecs) * time.Second,
		MaxContentMB: cfg.Crawler.HTTPMaxContentMB,
		UserAgent:    "webseek/" + version,
	}, logger)
}

// --- discover ---

var (
	discoverSameDomain  bool
	discoverSkipCrawled bool
	discoverWorkers     int
)

func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover [seed-url...]",
		Short: "Discover links from seed URLs and enqueue them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDiscover,
	}
	cmd.Flags().BoolVar(&discoverSameDomain, "same-domain", true, "only keep links on the seed's domain")
	cmd.Flags().BoolVar(&discoverSkipCrawled, "skip-crawled", true, "skip seeds already processed")
	cmd.Flags().IntVarP(&discoverWorkers, "workers", "n", 0, "worker pool size (0 = config default)")
	return cmd
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel, cfg, logger, st, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer st.Close(context.Background())

	if !cmd.Flags().Changed("same-domain") {
		discoverSameDomain = cfg.Crawler.SameDomainOnly
	}
	workers := discoverWorkers
	if workers <= 0 {
		workers = cfg.Pools.CrawlerWorkers
	}

	f := newFetcher(cfg, logger)
	defer f.Close()

	d := crawler.NewDiscoverer(f, tracker.New(st, logger), logger)
	links, err := d.Run(ctx, args, crawler.DiscoverOptions{
		SameDomainOnly: discoverSameDomain,
		SkipCrawled:    discoverSkipCrawled,
		Workers:        workers,
	})
	if err != nil {
		return fmt.Errorf("link discovery: %w", err)
	}

	fmt.Printf("Discovered %d links from %d seeds\n", len(links), len(args))
	return nil
}

// --- fetch ---

var (
	fetchOutput    string
	fetchBatchSize int
	fetchMaxURLs   int
	fetchWorkers   int
	fetchKeepHTML  bool
)

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch content for uncrawled URLs into a JSONL file",
		RunE:  runFetch,
	}
	cmd.Flags().StringVarP(&fetchOutput, "output", "o", "pages.jsonl", "output JSONL file (appended)")
	cmd.Flags().IntVar(&fetchBatchSize, "batch-size", 100, "URLs per batch")
	cmd.Flags().IntVar(&fetchMaxURLs, "max-urls", 0, "cap on URLs to fetch (0 = all)")
	cmd.Flags().IntVarP(&fetchWorkers, "workers", "n", 0, "worker pool size (0 = config default)")
	cmd.Flags().BoolVar(&fetchKeepHTML, "html", false, "keep raw HTML on each record")
	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel, cfg, logger, st, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer st.Close(context.Background())

	workers := fetchWorkers
	if workers <= 0 {
		workers = cfg.Pools.CrawlerWorkers
	}

	sink, err := crawler.NewJSONLSink(fetchOutput)
	if err != nil {
		return err
	}
	defer sink.Close()

	f := newFetcher(cfg, logger)
	defer f.Close()

	cf := crawler.NewContentFetcher(f, tracker.New(st, logger), logger)
	summary, err := cf.Run(ctx, sink, crawler.ContentOptions{
		BatchSize: fetchBatchSize,
		Workers:   workers,
		MaxURLs:   fetchMaxURLs,
		KeepHTML:  fetchKeepHTML,
		Delay:     time.Duration(cfg.Crawler.CrawlDelaySecs * float64(time.Second)),
	})
	if err != nil {
		return fmt.Errorf("content fetch: %w", err)
	}

	fmt.Printf("Fetched %d/%d pages in %d batches (%d failed) → %s\n",
		summary.Fetched, summary.Attempted, summary.Batches, summary.Failed, fetchOutput)
	return nil
}

// --- stats ---

var (
	statsCrawled   bool
	statsUncrawled bool
	statsLimit     int
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show URL queue statistics",
		RunE:  runStats,
	}
	cmd.Flags().BoolVar(&statsCrawled, "crawled", false, "list crawled URLs")
	cmd.Flags().BoolVar(&statsUncrawled, "uncrawled", false, "list uncrawled URLs")
	cmd.Flags().IntVar(&statsLimit, "limit", 10, "max URLs to list")
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel, _, logger, st, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer st.Close(context.Background())

	tr := tracker.New(st, logger)

	switch {
	case statsCrawled:
		urls, err := tr.CrawledURLs(ctx)
		if err != nil {
			return err
		}
		listURLs("Crawled URLs", urls, statsLimit)
	case statsUncrawled:
		urls, err := tr.Uncrawled(ctx)
		if err != nil {
			return err
		}
		listURLs("Uncrawled URLs", urls, statsLimit)
	default:
		stats, err := tr.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Println("=== URL Statistics ===")
		fmt.Printf("Total URLs: %d\n", stats.Total)
		fmt.Printf("Crawled URLs: %d\n", stats.Crawled)
		fmt.Printf("Uncrawled URLs: %d\n", stats.Uncrawled)
		fmt.Printf("Crawl Progress: %.1f%%\n", stats.CrawlPercentage)
	}
	return nil
}

func listURLs(header string, urls []string, limit int) {
	sort.Strings(urls)
	fmt.Printf("=== %s (showing first %d) ===\n", header, limit)
	for i, u := range urls {
		if i >= limit {
			fmt.Printf("... and %d more\n", len(urls)-limit)
			break
		}
		fmt.Printf("%d. %s\n", i+1, u)
	}
}

// --- version ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("webseek %s\n", version)
		},
	}
}
