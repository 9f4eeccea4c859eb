// Package config loads engine configuration from a TOML file with
// environment-variable overrides.
package config

// Config is the root configuration. Section names mirror the TOML layout.
type Config struct {
	DB      DBConfig      `mapstructure:"dbconfig"`
	Pools   PoolConfig    `mapstructure:"threadpoolconfig"`
	Indexer IndexerConfig `mapstructure:"indexerconfig"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Search  SearchConfig  `mapstructure:"search"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DBConfig points at the MongoDB store.
type DBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// PoolConfig sizes the worker pools.
type PoolConfig struct {
	CrawlerWorkers int `mapstructure:"crawler_workers"`
	IndexerWorkers int `mapstructure:"indexer_workers"`
}

// IndexerConfig controls the indexing pipeline.
type IndexerConfig struct {
	BulkBatchSize   int `mapstructure:"bulk_batch_size"`
	MaxPagesPerRun  int `mapstructure:"max_pages_per_run"`
	ExcerptMaxChars int `mapstructure:"excerpt_max_chars"`
}

// CrawlerConfig controls fetching behavior.
type CrawlerConfig struct {
	HTTPTimeoutSecs  int     `mapstructure:"http_timeout_secs"`
	HTTPMaxContentMB int     `mapstructure:"http_max_content_mb"`
	CrawlDelaySecs   float64 `mapstructure:"crawl_delay_secs"`
	SameDomainOnly   bool    `mapstructure:"same_domain_only"`
}

// SearchConfig bounds query paging.
type SearchConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DB: DBConfig{
			URI:      "mongodb://localhost:27017",
			Database: "search_engine",
		},
		Pools: PoolConfig{
			CrawlerWorkers: 8,
			IndexerWorkers: 8,
		},
		Indexer: IndexerConfig{
			BulkBatchSize:   200,
			MaxPagesPerRun:  0,
			ExcerptMaxChars: 400,
		},
		Crawler: CrawlerConfig{
			HTTPTimeoutSecs:  15,
			HTTPMaxContentMB: 5,
			CrawlDelaySecs:   0.0,
			SameDomainOnly:   true,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxLimit:     50,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}
