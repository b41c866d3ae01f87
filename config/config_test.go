package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PROPINTEL_TARGETS", "Mumbai, Pune,,")
	t.Setenv("PROPINTEL_MAX_PAGES", "7")
	t.Setenv("PROPINTEL_STAGGER_MAX", "9s")
	t.Setenv("PROPINTEL_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("PROPINTEL_MAX_RETRY_AFTER", "3m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(cfg.Crawl.Targets, "|"); got != "Mumbai|Pune" {
		t.Errorf("targets = %q", got)
	}
	if cfg.Crawl.MaxPages != 7 {
		t.Errorf("max pages = %d", cfg.Crawl.MaxPages)
	}
	if cfg.Crawl.StaggerMax != 9*time.Second {
		t.Errorf("stagger max = %v", cfg.Crawl.StaggerMax)
	}
	if cfg.Fetch.MaxAttempts != 4 {
		t.Errorf("unparsable env should keep the default, got %d", cfg.Fetch.MaxAttempts)
	}
	if cfg.Fetch.MaxRetryAfter != 3*time.Minute {
		t.Errorf("max retry after = %v", cfg.Fetch.MaxRetryAfter)
	}
	if cfg.Output.FixedColumns {
		t.Error("fixed csv columns should be opt-in")
	}
	if cfg.JSONLPath() != filepath.Join("output", "listings.jsonl") {
		t.Errorf("jsonl path = %q", cfg.JSONLPath())
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PROPINTEL_OUTPUT_DIR=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PROPINTEL_OUTPUT_DIR") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output.Dir != "from-dotenv" {
		t.Errorf("output dir = %q", cfg.Output.Dir)
	}
}

func TestLoad_ConfigFileOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "crawl.yaml")
	yaml := `
crawl:
  targets: [Chennai, Hyderabad]
  max_pages: 2
  filters:
    bedroom: "1"
fetch:
  keywords: [captcha]
  timeout: 12s
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROPINTEL_CONFIG_FILE", path)
	t.Setenv("PROPINTEL_CONCURRENCY", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(cfg.Crawl.Targets, "|"); got != "Chennai|Hyderabad" {
		t.Errorf("targets = %q", got)
	}
	if cfg.Crawl.MaxPages != 2 {
		t.Errorf("max pages = %d", cfg.Crawl.MaxPages)
	}
	if cfg.Crawl.MaxConcurrency != 3 {
		t.Errorf("env value absent from file should survive, got %d", cfg.Crawl.MaxConcurrency)
	}
	if cfg.Crawl.Filters["bedroom"] != "1" {
		t.Errorf("filters = %v", cfg.Crawl.Filters)
	}
	if cfg.Fetch.Timeout != 12*time.Second || len(cfg.Fetch.Keywords) != 1 {
		t.Errorf("fetch = %+v", cfg.Fetch)
	}
	if cfg.Fetch.MaxAttempts != 4 {
		t.Errorf("max attempts = %d", cfg.Fetch.MaxAttempts)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PROPINTEL_CONFIG_FILE", "does-not-exist.yaml")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validConfig() *Config {
	return &Config{
		Crawl:  CrawlConfig{MaxPages: 3, MaxConcurrency: 1, StaggerMin: time.Second, StaggerMax: 2 * time.Second},
		Fetch:  FetchConfig{MaxAttempts: 4},
		Output: OutputConfig{Formats: []string{"jsonl", "csv"}},
		Auth:   AuthConfig{Enabled: true, APIKeys: []string{"k"}},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantErr  bool
		wantWarn string
	}{
		{"valid", func(*Config) {}, false, ""},
		{"zero pages", func(c *Config) { c.Crawl.MaxPages = 0 }, true, ""},
		{"zero concurrency", func(c *Config) { c.Crawl.MaxConcurrency = 0 }, true, ""},
		{"inverted stagger", func(c *Config) { c.Crawl.StaggerMax = 0 }, true, ""},
		{"unknown format", func(c *Config) { c.Output.Formats = []string{"xml"} }, true, ""},
		{"no outputs", func(c *Config) { c.Output.Formats = nil }, true, ""},
		{"postgres only", func(c *Config) { c.Output.Formats = nil; c.Postgres.DSN = "postgres://x" }, false, ""},
		{"concurrency without proxy", func(c *Config) { c.Crawl.MaxConcurrency = 4 }, false, "without a proxy"},
		{"concurrency with proxy", func(c *Config) {
			c.Crawl.MaxConcurrency = 4
			c.Network.Proxy = "socks5://127.0.0.1:1080"
		}, false, ""},
		{"open admin api", func(c *Config) { c.Auth.APIKeys = nil }, false, "admin API is open"},
		{"duplicate target", func(c *Config) { c.Crawl.Targets = []string{"Pune", "Goa", "Pune"} }, false, "more than once"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			warnings, err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			joined := strings.Join(warnings, "\n")
			if tt.wantWarn == "" && joined != "" {
				t.Errorf("unexpected warnings: %s", joined)
			}
			if !strings.Contains(joined, tt.wantWarn) {
				t.Errorf("warnings %q missing %q", joined, tt.wantWarn)
			}
		})
	}
}
