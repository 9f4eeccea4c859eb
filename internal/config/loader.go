package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Load reads configuration from the TOML file named by the CONFIG_TOML
// environment variable (default config.toml), then applies exact-name
// environment overrides. A missing config file is fine; a broken one is not.
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("toml")

	path := os.Getenv("CONFIG_TOML")
	if path == "" {
		path = "config.toml"
	}
	v.SetConfigFile(path)

	setDefaults(v, cfg)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("dbconfig.uri", cfg.DB.URI)
	v.SetDefault("dbconfig.database", cfg.DB.Database)

	v.SetDefault("threadpoolconfig.crawler_workers", cfg.Pools.CrawlerWorkers)
	v.SetDefault("threadpoolconfig.indexer_workers", cfg.Pools.IndexerWorkers)

	v.SetDefault("indexerconfig.bulk_batch_size", cfg.Indexer.BulkBatchSize)
	v.SetDefault("indexerconfig.max_pages_per_run", cfg.Indexer.MaxPagesPerRun)
	v.SetDefault("indexerconfig.excerpt_max_chars", cfg.Indexer.ExcerptMaxChars)

	v.SetDefault("crawler.http_timeout_secs", cfg.Crawler.HTTPTimeoutSecs)
	v.SetDefault("crawler.http_max_content_mb", cfg.Crawler.HTTPMaxContentMB)
	v.SetDefault("crawler.crawl_delay_secs", cfg.Crawler.CrawlDelaySecs)
	v.SetDefault("crawler.same_domain_only", cfg.Crawler.SameDomainOnly)

	v.SetDefault("search.default_limit", cfg.Search.DefaultLimit)
	v.SetDefault("search.max_limit", cfg.Search.MaxLimit)

	v.SetDefault("logging.level", cfg.Logging.Level)
}

// bindEnv maps flat environment variable names onto config keys, so the
// same overrides work with or without a config file.
func bindEnv(v *viper.Viper) {
	for key, env := range map[string]string{
		"dbconfig.uri":                      "MONGODB_URI",
		"dbconfig.database":                 "MONGODB_DB",
		"threadpoolconfig.crawler_workers":  "CRAWLER_WORKERS",
		"threadpoolconfig.indexer_workers":  "INDEXER_WORKERS",
		"indexerconfig.bulk_batch_size":     "INDEX_BULK_BATCH_SIZE",
		"indexerconfig.max_pages_per_run":   "INDEX_MAX_PAGES_PER_RUN",
		"indexerconfig.excerpt_max_chars":   "INDEX_EXCERPT_MAX_CHARS",
		"crawler.http_timeout_secs":         "HTTP_TIMEOUT_SECS",
		"crawler.http_max_content_mb":       "HTTP_MAX_CONTENT_MB",
		"crawler.crawl_delay_secs":          "CRAWL_DELAY_SECS",
		"search.default_limit":              "DEFAULT_SEARCH_LIMIT",
		"search.max_limit":                  "MAX_SEARCH_LIMIT",
		"logging.level":                     "LOG_LEVEL",
	} {
		// BindEnv only errors on an empty key.
		_ = v.BindEnv(key, env)
	}
}
