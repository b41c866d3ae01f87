package scraper

import (
	"context"
	"log/slog"

	"github.com/use-agent/propintel/engine"
	"github.com/use-agent/propintel/models"
	"github.com/use-agent/propintel/parser"
)

// Fetcher is the engine surface the scraper drives. *engine.Fetcher
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, id *engine.Identity, req engine.Request) engine.Outcome
}

// Paginator walks a target's listing pages in order.
type Paginator struct {
	fetcher Fetcher
	parser  parser.Parser
	site    Site
}

func NewPaginator(f Fetcher, p parser.Parser, site Site) *Paginator {
	return &Paginator{fetcher: f, parser: p, site: site}
}

// Paginate fetches pages after st.Page up to maxPages and appends new
// records to st. It stops at the first non-Success outcome, at a page with
// no new records, or when ctx is done; records found so far are kept.
func (p *Paginator) Paginate(ctx context.Context, id *engine.Identity, st *TargetState, maxPages int) []models.Record {
	label := st.Target.Label
	referer := p.site.Landing()
	if st.Page > 0 {
		referer = p.site.PageURL(st.Target, st.Page)
	}

	for page := st.Page + 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			slog.Info("pagination cancelled", "target", label, "page", page)
			break
		}

		pageURL := p.site.PageURL(st.Target, page)
		out := p.fetcher.Fetch(ctx, id, engine.Request{URL: pageURL, Referer: referer})
		if !out.OK() {
			slog.Warn("listing page failed, stopping target",
				"target", label, "page", page, "outcome", out.Kind.String(), "attempts", out.Attempts)
			break
		}
		st.Page = page

		recs := p.parser.ParseListingPage(out.Body, page)
		if len(recs) == 0 {
			slog.Warn("listing page yielded no records", "target", label, "page", page, "bytes", len(out.Body))
		}
		fresh := 0
		for _, r := range recs {
			if r.URL == "" {
				continue
			}
			if !st.Seen.Insert(r.URL) {
				continue
			}
			if r.Fields == nil {
				r.Fields = models.Fields{}
			}
			r.Fields[models.FieldCity] = label
			st.Records = append(st.Records, r)
			st.Sources = append(st.Sources, pageURL)
			fresh++
		}
		slog.Info("listing page done", "target", label, "page", page, "new", fresh, "total", len(st.Records))
		if fresh == 0 {
			break
		}
		referer = pageURL
	}
	return st.Records
}
