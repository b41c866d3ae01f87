package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/use-agent/propintel/engine"
	"github.com/use-agent/propintel/models"
	"github.com/use-agent/propintel/parser"
	"github.com/use-agent/propintel/sink"
)

// Options controls one run.
type Options struct {
	// RunID names the run; empty generates one.
	RunID             string
	MaxConcurrency    int
	MaxPagesPerTarget int
	EnrichDetails     bool
	// StaggerMin and StaggerMax bound the random pause between worker
	// submissions.
	StaggerMin        time.Duration
	StaggerMax        time.Duration
}

// Recorder receives per-target results. telemetry.Metrics implements it.
type Recorder interface {
	RecordTarget(ctx context.Context, target string, records int, failed bool)
}

// IdentityFactory binds a new identity to a target.
type IdentityFactory interface {
	NewIdentity(target string) (*engine.Identity, error)
}

// Engine is what the orchestrator needs from the fetch layer.
type Engine interface {
	Fetcher
	IdentityFactory
}

// Orchestrator runs one worker per target on a bounded pool.
type Orchestrator struct {
	engine    Engine
	paginator *Paginator
	enricher  *Enricher
	rnd       *engine.Rand
	recorder  Recorder
	// wait blocks for the stagger; returns early when ctx is done.
	wait func(ctx context.Context, d time.Duration)
}

// NewOrchestrator wires a fetch engine, parser and sink for site.
func NewOrchestrator(e Engine, p parser.Parser, s sink.Sink, site Site, rnd *engine.Rand) *Orchestrator {
	if rnd == nil {
		rnd = engine.NewRandomRand()
	}
	return &Orchestrator{
		engine:    e,
		paginator: NewPaginator(e, p, site),
		enricher:  NewEnricher(e, p, s),
		rnd:       rnd,
		wait:      waitContext,
	}
}

// SetRecorder attaches a metrics recorder.
func (o *Orchestrator) SetRecorder(r Recorder) { o.recorder = r }

func waitContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run crawls every target and always returns a complete summary. A failing
// or panicking worker yields a zero count for its target only.
func (o *Orchestrator) Run(ctx context.Context, targets []Target, opts Options) *models.Summary {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	sum := &models.Summary{
		RunID:     opts.RunID,
		StartedAt: time.Now(),
		Targets:   make([]models.TargetResult, len(targets)),
	}
	log := slog.With("run_id", sum.RunID)
	log.Info("run started", "targets", len(targets), "concurrency", opts.MaxConcurrency,
		"max_pages", opts.MaxPagesPerTarget, "details", opts.EnrichDetails)

	var g errgroup.Group
	g.SetLimit(opts.MaxConcurrency)
	for i, t := range targets {
		if i > 0 {
			o.wait(ctx, engine.Between(o.rnd, opts.StaggerMin, opts.StaggerMax))
		}
		if ctx.Err() != nil {
			sum.Targets[i] = models.TargetResult{Label: t.Label, Error: "run cancelled before start"}
			continue
		}
		g.Go(func() error {
			sum.Targets[i] = o.runWorker(ctx, t, opts)
			return nil
		})
	}
	g.Wait()

	for _, r := range sum.Targets {
		sum.Total += r.Count
		if r.Error != "" {
			sum.Failed++
		}
		if o.recorder != nil {
			o.recorder.RecordTarget(ctx, r.Label, r.Count, r.Error != "")
		}
	}
	sum.FinishedAt = time.Now()
	log.Info("run finished", "total", sum.Total, "failed", sum.Failed, "duration", sum.Duration().Round(time.Second))
	return sum
}

// runWorker converts any error or panic into a zero-count result.
func (o *Orchestrator) runWorker(ctx context.Context, t Target, opts Options) (res models.TargetResult) {
	start := time.Now()
	res.Label = t.Label
	defer func() {
		if r := recover(); r != nil {
			slog.Error("target worker panicked", "target", t.Label, "panic", r, "stack", string(debug.Stack()))
			res = models.TargetResult{Label: t.Label, Error: fmt.Sprintf("panic: %v", r)}
		}
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	st, err := o.crawl(ctx, t, opts)
	if err != nil {
		slog.Error("target failed", "target", t.Label, "error", err)
		return models.TargetResult{Label: t.Label, Error: err.Error()}
	}
	res.Count = st.Count
	res.Pages = st.Page
	return res
}

func (o *Orchestrator) crawl(ctx context.Context, t Target, opts Options) (*TargetState, error) {
	if t.Label == "" {
		return nil, errors.New("scraper: target has no label")
	}
	id, err := o.engine.NewIdentity(t.Label)
	if err != nil {
		return nil, err
	}
	defer id.Close()

	st := NewTargetState(t)
	o.paginator.Paginate(ctx, id, st, opts.MaxPagesPerTarget)
	slog.Info("target listings collected", "target", t.Label, "records", len(st.Records), "pages", st.Page)

	o.enricher.Enrich(ctx, id, st, opts.EnrichDetails)
	slog.Info("target done", "target", t.Label, "written", st.Count, "rotations", id.Rotations())
	return st, nil
}
