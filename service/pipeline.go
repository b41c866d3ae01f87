package service

import (
	"context"
	"errors"
	"time"

	"github.com/use-agent/propintel/engine"
	"github.com/use-agent/propintel/models"
	"github.com/use-agent/propintel/parser"
	"github.com/use-agent/propintel/scraper"
	"github.com/use-agent/propintel/sink"
)

// Params selects what one run crawls.
type Params struct {
	Targets       []scraper.Target
	MaxPages      int
	Concurrency   int
	EnrichDetails bool
}

// Job executes one run under runID.
type Job func(ctx context.Context, runID string, p Params) (*models.Summary, error)

// Pipeline is the production Job: it opens fresh sinks, runs the
// orchestrator and closes the sinks.
type Pipeline struct {
	Engine   scraper.Engine
	Parser   parser.Parser
	Site     scraper.Site
	OpenSink func(ctx context.Context) (sink.Sink, error)
	Rand     *engine.Rand
	Recorder scraper.Recorder

	StaggerMin time.Duration
	StaggerMax time.Duration
}

// Run satisfies Job. The summary is returned even when closing the sink
// fails.
func (p *Pipeline) Run(ctx context.Context, runID string, params Params) (*models.Summary, error) {
	if len(params.Targets) == 0 {
		return nil, models.NewRunError(models.ErrCodeInvalidInput, "no targets to crawl", nil)
	}
	out, err := p.OpenSink(ctx)
	if err != nil {
		return nil, models.NewRunError(models.ErrCodeSink, "open sinks", err)
	}

	orch := scraper.NewOrchestrator(p.Engine, p.Parser, out, p.Site, p.Rand)
	if p.Recorder != nil {
		orch.SetRecorder(p.Recorder)
	}
	sum := orch.Run(ctx, params.Targets, scraper.Options{
		RunID:             runID,
		MaxConcurrency:    params.Concurrency,
		MaxPagesPerTarget: params.MaxPages,
		EnrichDetails:     params.EnrichDetails,
		StaggerMin:        p.StaggerMin,
		StaggerMax:        p.StaggerMax,
	})

	if err := out.Close(); err != nil {
		return sum, models.NewRunError(models.ErrCodeSink, "close sinks", err)
	}
	return sum, nil
}

// SinkSet opens every configured sink for one run.
type SinkSet struct {
	JSONLPath string
	CSVPath   string
	Columns   []string
	Truncate  bool
	// Extra sinks live across runs, e.g. Kafka or Postgres. They are
	// shared by every run and closed by the owner, not by the run.
	Extra []sink.Sink
}

// Open satisfies Pipeline.OpenSink.
func (s SinkSet) Open(context.Context) (sink.Sink, error) {
	var outs []sink.Sink
	var closers []sink.Sink
	fail := func(err error) (sink.Sink, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}
	if s.JSONLPath != "" {
		j, err := sink.NewJSONL(s.JSONLPath, s.Truncate)
		if err != nil {
			return fail(err)
		}
		outs = append(outs, j)
		closers = append(closers, j)
	}
	if s.CSVPath != "" {
		c, err := sink.NewCSV(s.CSVPath, sink.CSVOptions{Truncate: s.Truncate, Columns: s.Columns})
		if err != nil {
			return fail(err)
		}
		outs = append(outs, c)
		closers = append(closers, c)
	}
	for _, e := range s.Extra {
		outs = append(outs, keepOpen{e})
	}
	if len(outs) == 0 {
		return nil, errors.New("service: no sinks configured")
	}
	return sink.NewMulti(outs...), nil
}

// Files lists the local outputs, for archiving.
func (s SinkSet) Files() []string {
	var files []string
	for _, f := range []string{s.JSONLPath, s.CSVPath} {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

// keepOpen shields a long-lived sink from the per-run Close.
type keepOpen struct{ sink.Sink }

func (keepOpen) Close() error { return nil }
