package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Point at a file that does not exist; defaults apply.
	t.Setenv("CONFIG_TOML", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.URI != "mongodb://localhost:27017" {
		t.Errorf("uri = %q", cfg.DB.URI)
	}
	if cfg.DB.Database != "search_engine" {
		t.Errorf("database = %q", cfg.DB.Database)
	}
	if cfg.Pools.CrawlerWorkers != 8 || cfg.Pools.IndexerWorkers != 8 {
		t.Errorf("pools = %+v", cfg.Pools)
	}
	if cfg.Indexer.BulkBatchSize != 200 || cfg.Indexer.ExcerptMaxChars != 400 {
		t.Errorf("indexer = %+v", cfg.Indexer)
	}
	if cfg.Crawler.HTTPTimeoutSecs != 15 || cfg.Crawler.HTTPMaxContentMB != 5 || !cfg.Crawler.SameDomainOnly {
		t.Errorf("crawler = %+v", cfg.Crawler)
	}
	if cfg.Search.DefaultLimit != 10 || cfg.Search.MaxLimit != 50 {
		t.Errorf("search = %+v", cfg.Search)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	toml := `
[dbconfig]
uri = "mongodb://db.internal:27017"
database = "webseek_test"

[threadpoolconfig]
crawler_workers = 4

[crawler]
http_timeout_secs = 30
crawl_delay_secs = 1.5
same_domain_only = false

[search]
max_limit = 100
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_TOML", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.URI != "mongodb://db.internal:27017" || cfg.DB.Database != "webseek_test" {
		t.Errorf("db = %+v", cfg.DB)
	}
	if cfg.Pools.CrawlerWorkers != 4 {
		t.Errorf("crawler_workers = %d", cfg.Pools.CrawlerWorkers)
	}
	// Unset keys keep their defaults.
	if cfg.Pools.IndexerWorkers != 8 {
		t.Errorf("indexer_workers = %d, want default 8", cfg.Pools.IndexerWorkers)
	}
	if cfg.Crawler.HTTPTimeoutSecs != 30 || cfg.Crawler.CrawlDelaySecs != 1.5 || cfg.Crawler.SameDomainOnly {
		t.Errorf("crawler = %+v", cfg.Crawler)
	}
	if cfg.Search.MaxLimit != 100 || cfg.Search.DefaultLimit != 10 {
		t.Errorf("search = %+v", cfg.Search)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_TOML", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("MONGODB_URI", "mongodb://env.internal:27017")
	t.Setenv("CRAWLER_WORKERS", "16")
	t.Setenv("MAX_SEARCH_LIMIT", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.URI != "mongodb://env.internal:27017" {
		t.Errorf("uri = %q", cfg.DB.URI)
	}
	if cfg.Pools.CrawlerWorkers != 16 {
		t.Errorf("crawler_workers = %d", cfg.Pools.CrawlerWorkers)
	}
	if cfg.Search.MaxLimit != 25 {
		t.Errorf("max_limit = %d", cfg.Search.MaxLimit)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[dbconfig]\nuri = \"mongodb://file:27017\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_TOML", path)
	t.Setenv("MONGODB_URI", "mongodb://env:27017")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.URI != "mongodb://env:27017" {
		t.Errorf("uri = %q, env must beat file", cfg.DB.URI)
	}
}

func TestLoadBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_TOML", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}
