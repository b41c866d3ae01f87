package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/use-agent/propintel/api"
	"github.com/use-agent/propintel/archive"
	"github.com/use-agent/propintel/config"
	"github.com/use-agent/propintel/engine"
	"github.com/use-agent/propintel/models"
	"github.com/use-agent/propintel/parser"
	"github.com/use-agent/propintel/profile"
	"github.com/use-agent/propintel/scraper"
	"github.com/use-agent/propintel/service"
	"github.com/use-agent/propintel/session"
	"github.com/use-agent/propintel/sink"
	"github.com/use-agent/propintel/telemetry"
	"github.com/use-agent/propintel/webhook"
)

const usage = `usage: propintel [run|serve]

  run    crawl every configured target once, print the summary and exit (default)
  serve  expose the admin API and run on PROPINTEL_SCHEDULE_INTERVAL
`

func main() {
	os.Exit(run())
}

func run() int {
	mode := "run"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	if mode != "run" && mode != "serve" {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg)
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		slog.Warn("config warning", "warning", w)
	}
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}
	slog.Info("propintel starting",
		"mode", mode,
		"targets", len(cfg.Crawl.Targets),
		"maxPages", cfg.Crawl.MaxPages,
		"concurrency", cfg.Crawl.MaxConcurrency,
		"proxy", cfg.Network.Proxy != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := telemetry.SetupMetrics(ctx, cfg.Telemetry, cfg.Env)
	if err != nil {
		slog.Error("failed to initialise metrics", "error", err)
		return 1
	}
	defer metrics.Close()

	// ── 3. Initialise fetch engine ──────────────────────────────────
	var rnd *engine.Rand
	if cfg.Fetch.Seed != 0 {
		rnd = engine.NewRand(cfg.Fetch.Seed)
	} else {
		rnd = engine.NewRandomRand()
	}
	registry := profile.Default()
	sessOpts := session.Options{Proxy: cfg.Network.Proxy, Timeout: cfg.Fetch.Timeout}

	// Construct one session up front so a bad proxy fails here, not per target.
	probe, err := session.New(registry.All()[0], sessOpts)
	if err != nil {
		slog.Error("failed to initialise session", "error", err)
		return 1
	}
	probe.Close()

	site := siteFrom(cfg.Site)
	filters := cfg.Crawl.Filters
	if filters == nil {
		filters = scraper.DefaultFilters
	}
	labels := cfg.Crawl.Targets
	if len(labels) == 0 {
		labels = scraper.DefaultCities
	}

	fetchOpts := []engine.Option{
		engine.WithRand(rnd),
		engine.WithObserver(metrics),
		engine.WithCooldown(engine.NewCooldown(cfg.Fetch.CooldownTTL)),
	}
	if cfg.Fetch.Warmup {
		fetchOpts = append(fetchOpts, engine.WithRoute(site.Route(func(string) map[string]string { return filters })))
	}
	fetcher := engine.NewFetcher(policyFrom(cfg.Fetch), registry, engine.NewSessionFactory(sessOpts, rnd), fetchOpts...)

	// ── 4. Initialise sinks ─────────────────────────────────────────
	extra, closeExtra, err := openSharedSinks(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise sinks", "error", err)
		return 1
	}
	defer closeExtra()

	sinks := service.SinkSet{
		Truncate: cfg.Output.Truncate,
		Extra:    extra,
	}
	if cfg.Output.FixedColumns {
		sinks.Columns = models.Columns
	}
	if cfg.HasFormat("jsonl") {
		sinks.JSONLPath = cfg.JSONLPath()
	}
	if cfg.HasFormat("csv") {
		sinks.CSVPath = cfg.CSVPath()
	}

	// ── 5. Initialise run controller ────────────────────────────────
	pipeline := &service.Pipeline{
		Engine:     fetcher,
		Parser:     parser.NewMagicBricks(site.Origin),
		Site:       site,
		OpenSink:   sinks.Open,
		Rand:       rnd,
		Recorder:   metrics,
		StaggerMin: cfg.Crawl.StaggerMin,
		StaggerMax: cfg.Crawl.StaggerMax,
	}
	runCfg := service.Config{
		Defaults: service.Params{
			Targets:       scraper.Targets(labels, filters),
			MaxPages:      cfg.Crawl.MaxPages,
			Concurrency:   cfg.Crawl.MaxConcurrency,
			EnrichDetails: cfg.Crawl.EnrichDetails,
		},
		Filters:      filters,
		StatsPath:    sinks.JSONLPath,
		ArchiveFiles: sinks.Files(),
		Recorder:     metrics,
	}
	if cfg.S3.Bucket != "" {
		uploader, err := archive.New(ctx, cfg.S3)
		if err != nil {
			slog.Error("failed to initialise s3 archive", "error", err)
			return 1
		}
		runCfg.Archiver = uploader
	}
	var notifier *webhook.Notifier
	if cfg.Webhook.URL != "" {
		notifier = webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret)
		runCfg.Notifier = notifier
	}
	runner := service.NewRunner(pipeline.Run, runCfg)

	// ── 6. Run once or serve ────────────────────────────────────────
	var failed bool
	switch mode {
	case "run":
		failed = runOnce(ctx, runner)
	case "serve":
		failed = serve(ctx, cfg, runner)
	}

	runner.Close()
	if notifier != nil {
		notifier.Wait()
	}
	slog.Info("propintel stopped")
	if failed {
		return 1
	}
	return 0
}

// runOnce crawls the defaults and prints the summary. Partial target
// failures are reported, not fatal.
func runOnce(ctx context.Context, runner *service.Runner) bool {
	sum, err := runner.RunSync(ctx, runner.Defaults())
	if sum != nil {
		printSummary(os.Stdout, sum)
	}
	if err != nil {
		slog.Error("run failed", "error", err)
		return true
	}
	return false
}

func serve(ctx context.Context, cfg *config.Config, runner *service.Runner) bool {
	app := &api.App{Runner: runner, Config: cfg, StartTime: time.Now()}
	router := api.NewRouter(ctx, app)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go runner.Schedule(ctx, cfg.Schedule.Interval)

	failed := false
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
		failed = true
	}

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	return failed
}

// openSharedSinks connects the downstream sinks that live for the whole
// process.
func openSharedSinks(ctx context.Context, cfg *config.Config) ([]sink.Sink, func(), error) {
	var out []sink.Sink
	closeAll := func() {
		for _, s := range out {
			if err := s.Close(); err != nil {
				slog.Error("sink close failed", "error", err)
			}
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := sink.NewKafka(sink.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			RequiredAcks: cfg.Kafka.RequiredAcks,
		})
		if err != nil {
			return nil, nil, err
		}
		out = append(out, k)
		slog.Info("kafka sink enabled", "topic", cfg.Kafka.Topic)
	}
	if cfg.Postgres.DSN != "" {
		p, err := sink.NewPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		out = append(out, p)
		slog.Info("postgres sink enabled")
	}
	return out, closeAll, nil
}

func policyFrom(cfg config.FetchConfig) engine.Policy {
	p := engine.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.MinListingSize > 0 {
		p.Classifier.MinListingSize = cfg.MinListingSize
	}
	if len(cfg.Keywords) > 0 {
		p.Classifier.Keywords = cfg.Keywords
	}
	if cfg.CooldownTTL > 0 {
		p.CooldownTTL = cfg.CooldownTTL
	}
	p.HonorRetryAfter = cfg.HonorRetryAfter
	if cfg.MaxRetryAfter > 0 {
		p.MaxRetryAfter = cfg.MaxRetryAfter
	}
	return p
}

func siteFrom(cfg config.SiteConfig) scraper.Site {
	s := scraper.DefaultSite()
	if cfg.Origin != "" {
		s.Origin = cfg.Origin
	}
	if cfg.ListingURL != "" {
		s.ListingURL = cfg.ListingURL
	}
	if cfg.SearchURL != "" {
		s.SearchURL = cfg.SearchURL
	}
	if cfg.SearchQuery != "" {
		s.SearchQuery = cfg.SearchQuery
	}
	return s
}

func printSummary(w io.Writer, sum *models.Summary) {
	fmt.Fprintf(w, "\nrun %s finished in %s\n", sum.RunID, sum.Duration().Round(time.Second))
	for _, t := range sum.Targets {
		status := "ok"
		if t.Error != "" {
			status = "failed: " + t.Error
		}
		fmt.Fprintf(w, "  %-12s %5d records  %2d pages  %s\n", t.Label, t.Count, t.Pages, status)
	}
	fmt.Fprintf(w, "  %-12s %5d records  %d failed targets\n", "total", sum.Total, sum.Failed)

	st := sum.Stats
	if st == nil || st.Records == 0 {
		return
	}
	pct := func(n int) string { return fmt.Sprintf("%d (%.0f%%)", n, 100*float64(n)/float64(st.Records)) }
	fmt.Fprintf(w, "\nfield completion over %d records: price %s, area %s, location %s, bhk %s\n",
		st.Records, pct(st.WithPrice), pct(st.WithArea), pct(st.WithLocation), pct(st.WithBHK))
	if len(st.TopLocations) > 0 {
		var top []string
		for _, l := range st.TopLocations {
			top = append(top, fmt.Sprintf("%s (%d)", l.Location, l.Count))
		}
		fmt.Fprintf(w, "top locations: %s\n", strings.Join(top, ", "))
	}
}

// initLogger configures slog: JSON for machines, tint for terminals.
func initLogger(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			if source, ok := a.Value.Any().(*slog.Source); ok {
				source.File = filepath.Base(source.File)
			}
		}
		return a
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       level,
			ReplaceAttr: replaceAttrs,
		})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:       level,
			ReplaceAttr: replaceAttrs,
			TimeFormat:  time.TimeOnly,
			NoColor:     cfg.Env != "local",
		})
	}
	slog.SetDefault(slog.New(handler))
}
