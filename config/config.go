package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env       string
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Crawl     CrawlConfig
	Site      SiteConfig
	Fetch     FetchConfig
	Network   NetworkConfig
	Output    OutputConfig
	Kafka     KafkaConfig
	Postgres  PostgresConfig
	S3        S3Config
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
	Schedule  ScheduleConfig
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication on admin routes.
type AuthConfig struct {
	Enabled bool // default: true
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 2
	Burst             int     // default: 5
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// CrawlConfig controls which targets are crawled and how hard.
type CrawlConfig struct {
	Targets        []string          `mapstructure:"targets"`
	Filters        map[string]string `mapstructure:"filters"`
	MaxPages       int               `mapstructure:"max_pages"`      // default: 3
	EnrichDetails  bool              `mapstructure:"enrich_details"` // default: true
	MaxConcurrency int               `mapstructure:"max_concurrency"`
	StaggerMin     time.Duration     `mapstructure:"stagger_min"` // default: 2s
	StaggerMax     time.Duration     `mapstructure:"stagger_max"` // default: 5s
}

// SiteConfig names the endpoints of the listing site.
type SiteConfig struct {
	Origin      string `mapstructure:"origin"`
	ListingURL  string `mapstructure:"listing_url"`
	SearchURL   string `mapstructure:"search_url"`
	SearchQuery string `mapstructure:"search_query"`
}

// FetchConfig tunes the retry engine.
type FetchConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"` // default: 4
	MinListingSize  int           `mapstructure:"min_listing_size"`
	Keywords        []string      `mapstructure:"keywords"`
	Timeout         time.Duration `mapstructure:"timeout"` // default: 30s
	CooldownTTL     time.Duration `mapstructure:"cooldown_ttl"`
	HonorRetryAfter bool          `mapstructure:"honor_retry_after"`
	MaxRetryAfter   time.Duration `mapstructure:"max_retry_after"` // default: 10m
	Warmup          bool          `mapstructure:"warmup"` // default: true
	Seed            uint64        `mapstructure:"seed"`   // 0 seeds from the clock
}

// NetworkConfig controls outbound connectivity.
type NetworkConfig struct {
	// Proxy is an http(s):// or socks5:// URL shared by all sessions.
	Proxy string
}

// OutputConfig controls the local record files.
type OutputConfig struct {
	Dir      string   `mapstructure:"dir"`      // default: "output"
	JSONL    string   `mapstructure:"jsonl"`    // default: "listings.jsonl"
	CSV      string   `mapstructure:"csv"`      // default: "listings.csv"
	Formats  []string `mapstructure:"formats"`  // default: ["jsonl", "csv"]
	Truncate bool     `mapstructure:"truncate"` // default: true

	// FixedColumns writes the standard column set as the CSV header instead
	// of taking it from the first record.
	FixedColumns bool `mapstructure:"fixed_columns"`
}

// KafkaConfig enables the Kafka sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers      []string
	Topic        string        // default: "listings"
	BatchSize    int           // default: 100
	WriteTimeout time.Duration // default: 10s
	RequiredAcks int           // default: 1
}

// PostgresConfig enables the Postgres sink when DSN is set.
type PostgresConfig struct {
	DSN      string
	MaxConns int32 // default: 4
}

// S3Config enables archive upload when Bucket is set.
type S3Config struct {
	Bucket    string
	Region    string // default: "us-east-1"
	KeyPrefix string // default: "runs"
	Endpoint  string // LocalStack and friends
}

// WebhookConfig enables run.completed delivery when URL is set.
type WebhookConfig struct {
	URL    string
	Secret string
}

// TelemetryConfig controls OTLP metric export.
type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string // default: "propintel"
	CollectorURL string // default: "localhost:4318"
}

// ScheduleConfig controls periodic runs in serve mode. Zero disables.
type ScheduleConfig struct {
	Interval time.Duration
}

// Load reads an optional .env file, then environment variables with sane
// defaults, then the file named by PROPINTEL_CONFIG_FILE.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{
		Env: envOr("PROPINTEL_ENV", "production"),
		Server: ServerConfig{
			Host: envOr("PROPINTEL_HOST", "0.0.0.0"),
			Port: envIntOr("PROPINTEL_PORT", 8080),
			Mode: envOr("PROPINTEL_MODE", "release"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PROPINTEL_AUTH_ENABLED", true),
			APIKeys: envSliceOr("PROPINTEL_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PROPINTEL_RATE_RPS", 2.0),
			Burst:             envIntOr("PROPINTEL_RATE_BURST", 5),
		},
		Log: LogConfig{
			Level:  envOr("PROPINTEL_LOG_LEVEL", "info"),
			Format: envOr("PROPINTEL_LOG_FORMAT", "text"),
		},
		Crawl: CrawlConfig{
			Targets:        envSliceOr("PROPINTEL_TARGETS", nil),
			MaxPages:       envIntOr("PROPINTEL_MAX_PAGES", 3),
			EnrichDetails:  envBoolOr("PROPINTEL_ENRICH_DETAILS", true),
			MaxConcurrency: envIntOr("PROPINTEL_CONCURRENCY", 1),
			StaggerMin:     envDurationOr("PROPINTEL_STAGGER_MIN", 2*time.Second),
			StaggerMax:     envDurationOr("PROPINTEL_STAGGER_MAX", 5*time.Second),
		},
		Site: SiteConfig{
			Origin:      os.Getenv("PROPINTEL_SITE_ORIGIN"),
			ListingURL:  os.Getenv("PROPINTEL_SITE_LISTING_URL"),
			SearchURL:   os.Getenv("PROPINTEL_SITE_SEARCH_URL"),
			SearchQuery: os.Getenv("PROPINTEL_SITE_SEARCH_QUERY"),
		},
		Fetch: FetchConfig{
			MaxAttempts:     envIntOr("PROPINTEL_MAX_ATTEMPTS", 4),
			MinListingSize:  envIntOr("PROPINTEL_MIN_LISTING_SIZE", 5000),
			Keywords:        envSliceOr("PROPINTEL_BLOCK_KEYWORDS", nil),
			Timeout:         envDurationOr("PROPINTEL_FETCH_TIMEOUT", 30*time.Second),
			CooldownTTL:     envDurationOr("PROPINTEL_COOLDOWN_TTL", 30*time.Minute),
			HonorRetryAfter: envBoolOr("PROPINTEL_HONOR_RETRY_AFTER", true),
			MaxRetryAfter:   envDurationOr("PROPINTEL_MAX_RETRY_AFTER", 10*time.Minute),
			Warmup:          envBoolOr("PROPINTEL_WARMUP", true),
			Seed:            uint64(envIntOr("PROPINTEL_SEED", 0)),
		},
		Network: NetworkConfig{
			Proxy: os.Getenv("PROPINTEL_PROXY"),
		},
		Output: OutputConfig{
			Dir:      envOr("PROPINTEL_OUTPUT_DIR", "output"),
			JSONL:    envOr("PROPINTEL_OUTPUT_JSONL", "listings.jsonl"),
			CSV:      envOr("PROPINTEL_OUTPUT_CSV", "listings.csv"),
			Formats:  envSliceOr("PROPINTEL_OUTPUT_FORMATS", []string{"jsonl", "csv"}),
			Truncate: envBoolOr("PROPINTEL_OUTPUT_TRUNCATE", true),

			FixedColumns: envBoolOr("PROPINTEL_CSV_FIXED_COLUMNS", false),
		},
		Kafka: KafkaConfig{
			Brokers:      envSliceOr("PROPINTEL_KAFKA_BROKERS", nil),
			Topic:        envOr("PROPINTEL_KAFKA_TOPIC", "listings"),
			BatchSize:    envIntOr("PROPINTEL_KAFKA_BATCH_SIZE", 100),
			WriteTimeout: envDurationOr("PROPINTEL_KAFKA_WRITE_TIMEOUT", 10*time.Second),
			RequiredAcks: envIntOr("PROPINTEL_KAFKA_REQUIRED_ACKS", 1),
		},
		Postgres: PostgresConfig{
			DSN:      os.Getenv("PROPINTEL_POSTGRES_DSN"),
			MaxConns: int32(envIntOr("PROPINTEL_POSTGRES_MAX_CONNS", 4)),
		},
		S3: S3Config{
			Bucket:    os.Getenv("PROPINTEL_S3_BUCKET"),
			Region:    envOr("PROPINTEL_S3_REGION", "us-east-1"),
			KeyPrefix: envOr("PROPINTEL_S3_KEY_PREFIX", "runs"),
			Endpoint:  os.Getenv("PROPINTEL_S3_ENDPOINT"),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("PROPINTEL_WEBHOOK_URL"),
			Secret: os.Getenv("PROPINTEL_WEBHOOK_SECRET"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBoolOr("PROPINTEL_TELEMETRY_ENABLED", false),
			ServiceName:  envOr("PROPINTEL_SERVICE_NAME", "propintel"),
			CollectorURL: envOr("PROPINTEL_COLLECTOR_URL", "localhost:4318"),
		},
		Schedule: ScheduleConfig{
			Interval: envDurationOr("PROPINTEL_SCHEDULE_INTERVAL", 0),
		},
	}

	if path := os.Getenv("PROPINTEL_CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// overlay applies the crawl, site, fetch and output sections of a YAML,
// JSON or TOML file. Keys absent from the file keep their current values.
func (c *Config) overlay(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", filepath.Base(path), err)
	}
	sections := []struct {
		key string
		dst any
	}{
		{"crawl", &c.Crawl},
		{"site", &c.Site},
		{"fetch", &c.Fetch},
		{"output", &c.Output},
	}
	for _, s := range sections {
		if !v.IsSet(s.key) {
			continue
		}
		if err := v.UnmarshalKey(s.key, s.dst); err != nil {
			return fmt.Errorf("config: decode %s section: %w", s.key, err)
		}
	}
	slog.Debug("config file applied", "path", path)
	return nil
}

// Validate reports settings that are unusable (errs) or merely risky
// (warnings).
func (c *Config) Validate() (warnings []string, err error) {
	var errs []error
	if c.Crawl.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("crawl max pages must be >= 1, got %d", c.Crawl.MaxPages))
	}
	if c.Crawl.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("crawl concurrency must be >= 1, got %d", c.Crawl.MaxConcurrency))
	}
	if c.Crawl.StaggerMax < c.Crawl.StaggerMin {
		errs = append(errs, errors.New("crawl stagger max is below stagger min"))
	}
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("fetch max attempts must be >= 1, got %d", c.Fetch.MaxAttempts))
	}
	for _, f := range c.Output.Formats {
		if f != "jsonl" && f != "csv" {
			errs = append(errs, fmt.Errorf("unknown output format %q", f))
		}
	}
	if len(c.Output.Formats) == 0 && len(c.Kafka.Brokers) == 0 && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("no output configured"))
	}

	if c.Crawl.MaxConcurrency > 1 && c.Network.Proxy == "" {
		warnings = append(warnings, fmt.Sprintf(
			"concurrency %d without a proxy: all workers share one egress address", c.Crawl.MaxConcurrency))
	}
	seen := make(map[string]bool, len(c.Crawl.Targets))
	for _, t := range c.Crawl.Targets {
		if seen[t] {
			warnings = append(warnings, fmt.Sprintf("target %q listed more than once: crawled once", t))
		}
		seen[t] = true
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		warnings = append(warnings, "auth enabled but no API keys configured: admin API is open")
	}
	if c.S3.Bucket != "" && !c.HasFormat("jsonl") && !c.HasFormat("csv") {
		warnings = append(warnings, "s3 archive configured but no local output files to upload")
	}
	return warnings, errors.Join(errs...)
}

// HasFormat reports whether a local output format is enabled.
func (c *Config) HasFormat(name string) bool {
	for _, f := range c.Output.Formats {
		if f == name {
			return true
		}
	}
	return false
}

// JSONLPath is the local record stream.
func (c *Config) JSONLPath() string { return filepath.Join(c.Output.Dir, c.Output.JSONL) }

// CSVPath is the local CSV table.
func (c *Config) CSVPath() string { return filepath.Join(c.Output.Dir, c.Output.CSV) }

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
