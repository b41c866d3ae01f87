package scraper

import (
	"context"
	"log/slog"

	"github.com/use-agent/propintel/engine"
	"github.com/use-agent/propintel/models"
	"github.com/use-agent/propintel/parser"
	"github.com/use-agent/propintel/sink"
)

// Enricher fetches each record's detail page and writes the merged record
// straight to the sink.
type Enricher struct {
	fetcher Fetcher
	parser  parser.Parser
	sink    sink.Sink
}

func NewEnricher(f Fetcher, p parser.Parser, s sink.Sink) *Enricher {
	return &Enricher{fetcher: f, parser: p, sink: s}
}

// Enrich writes every record in st in discovery order and returns how many
// the sink accepted. With fetch off, or once ctx is done, records are
// written listing-only.
func (e *Enricher) Enrich(ctx context.Context, id *engine.Identity, st *TargetState, fetch bool) int {
	label := st.Target.Label
	written := 0
	cancelled := false
	for i, rec := range st.Records {
		merged := rec
		switch {
		case !fetch, cancelled:
		case ctx.Err() != nil:
			cancelled = true
			slog.Info("enrichment cancelled, writing remaining records listing-only", "target", label, "remaining", len(st.Records)-i)
		default:
			merged = e.enrichOne(ctx, id, label, rec, st.Sources[i], i+1)
		}

		if err := e.sink.Append(ctx, merged.Row()); err != nil {
			slog.Error("sink append failed", "target", label, "url", rec.URL, "error", err)
			continue
		}
		written++
	}
	st.Count += written
	return written
}

func (e *Enricher) enrichOne(ctx context.Context, id *engine.Identity, label string, rec models.Record, referer string, n int) models.Record {
	out := e.fetcher.Fetch(ctx, id, engine.Request{URL: rec.URL, Referer: referer, IsDetail: true})
	if !out.OK() {
		slog.Warn("detail fetch failed, keeping listing fields",
			"target", label, "record", n, "url", rec.URL, "outcome", out.Kind.String())
		return rec
	}
	detail := e.parser.ParseDetailPage(out.Body)
	if len(detail) <= 1 {
		slog.Debug("detail page yielded nothing", "target", label, "url", rec.URL)
	}
	return rec.Merge(detail)
}
