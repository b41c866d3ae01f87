package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/propintel/engine"
	"github.com/use-agent/propintel/models"
	"github.com/use-agent/propintel/parser"
	"github.com/use-agent/propintel/profile"
	"github.com/use-agent/propintel/session"
)

var filler = "<!-- " + strings.Repeat("padding ", 800) + "-->"

// city scripts how the fake site answers for one target.
type city struct {
	// pages[i] lists the listing ids shown on page i+1.
	pages   [][]int
	blocked bool
	boom    bool
}

// fakeSite answers listing and detail URLs from in-memory scripts.
type fakeSite struct {
	mu      sync.Mutex
	cities  map[string]city
	fetched []string
}

func (f *fakeSite) respond(rawURL string) (*session.Response, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	f.mu.Unlock()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(u.Path, "/propertyDetails/") {
		if strings.Contains(u.Path, "broken") {
			return nil, errors.New("connection reset")
		}
		body := fmt.Sprintf("<html><body><h1>Detail %s</h1><p>₹ 1.5 Cr</p>%s</body></html>", u.Path, filler)
		return &session.Response{Status: 200, Body: []byte(body)}, nil
	}

	label := u.Query().Get("cityName")
	c, ok := f.cities[label]
	if !ok {
		return &session.Response{Status: 404, Body: []byte("no such city")}, nil
	}
	if c.blocked {
		return &session.Response{Status: 403, Body: []byte("denied")}, nil
	}
	page, _ := strconv.Atoi(u.Query().Get("page"))
	var b strings.Builder
	b.WriteString("<html><body>")
	if c.boom {
		b.WriteString("BOOM")
	}
	if page >= 1 && page <= len(c.pages) {
		for _, id := range c.pages[page-1] {
			fmt.Fprintf(&b, `<a href="/propertyDetails/2-BHK-%d-Sq-ft-Villa-in-%s&id=%d">x</a>`, 900+id, label, id)
		}
	}
	b.WriteString(filler + "</body></html>")
	return &session.Response{Status: 200, Body: []byte(b.String())}, nil
}

type siteSession struct {
	site   *fakeSite
	p      profile.Profile
	warmed bool
}

func (s *siteSession) Get(_ context.Context, u, _ string) (*session.Response, error) {
	return s.site.respond(u)
}
func (s *siteSession) Profile() profile.Profile { return s.p }
func (s *siteSession) Warmed() bool             { return s.warmed }
func (s *siteSession) MarkWarmed()              { s.warmed = true }
func (s *siteSession) Close() error             { return nil }

// boomParser panics on pages carrying the marker, like a parser bug would.
type boomParser struct{ parser.Parser }

func (b boomParser) ParseListingPage(html []byte, page int) []models.Record {
	if bytes.Contains(html, []byte("BOOM")) {
		panic("parser exploded")
	}
	return b.Parser.ParseListingPage(html, page)
}

type memSink struct {
	mu   sync.Mutex
	rows []models.Fields
}

func (m *memSink) Append(_ context.Context, row models.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
	return nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) byCity(label string) []models.Fields {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Fields
	for _, r := range m.rows {
		if r[models.FieldCity] == label {
			out = append(out, r)
		}
	}
	return out
}

func testSite() Site {
	s := DefaultSite()
	s.Origin = "https://www.example.test"
	s.ListingURL = "https://www.example.test/property-for-sale/residential-real-estate"
	return s
}

func newTestOrchestrator(site *fakeSite, out *memSink) *Orchestrator {
	factory := func(p profile.Profile) (engine.Session, error) {
		return &siteSession{site: site, p: p}, nil
	}
	rnd := engine.NewRand(11)
	f := engine.NewFetcher(engine.DefaultPolicy(), profile.Default(), factory,
		engine.WithRand(rnd), engine.WithSleeper(func(time.Duration) {}))
	p := boomParser{parser.NewMagicBricks("https://www.example.test")}
	return NewOrchestrator(f, p, out, testSite(), rnd)
}

func TestRun_MumbaiPuneScenario(t *testing.T) {
	site := &fakeSite{cities: map[string]city{
		"Mumbai": {pages: [][]int{{1, 2, 3}, {1, 2, 3}, {4, 5}}},
		"Pune":   {pages: [][]int{{10, 11}, {12}}},
	}}
	out := &memSink{}
	o := newTestOrchestrator(site, out)

	sum := o.Run(context.Background(), Targets([]string{"Mumbai", "Pune"}, DefaultFilters), Options{
		MaxConcurrency:    1,
		MaxPagesPerTarget: 2,
		EnrichDetails:     false,
	})

	counts := sum.Counts()
	if counts["Mumbai"] != 3 {
		t.Errorf("Mumbai count = %d, want 3", counts["Mumbai"])
	}
	if counts["Pune"] != 3 {
		t.Errorf("Pune count = %d, want 3", counts["Pune"])
	}
	if sum.Total != 6 || sum.Failed != 0 {
		t.Errorf("total = %d failed = %d", sum.Total, sum.Failed)
	}
	if sum.RunID == "" {
		t.Error("summary has no run id")
	}
	for _, r := range sum.Targets {
		if r.Label == "Mumbai" && r.Pages != 2 {
			t.Errorf("Mumbai pages = %d, want 2", r.Pages)
		}
	}
	for _, u := range site.fetched {
		if strings.Contains(u, "cityName=Mumbai") && strings.Contains(u, "page=3") {
			t.Error("pagination went past max pages")
		}
		if strings.Contains(u, "/propertyDetails/") {
			t.Error("details fetched with enrichment off")
		}
	}
	if len(out.byCity("Mumbai")) != 3 {
		t.Errorf("sink rows for Mumbai = %d", len(out.byCity("Mumbai")))
	}
}

func TestRun_StopsWhenPageHasNoNewRecords(t *testing.T) {
	site := &fakeSite{cities: map[string]city{
		"Mumbai": {pages: [][]int{{1, 2, 3}, {1, 2, 3}, {4, 5}}},
	}}
	out := &memSink{}
	sum := newTestOrchestrator(site, out).Run(context.Background(), Targets([]string{"Mumbai"}, nil), Options{MaxPagesPerTarget: 10})

	if c := sum.Counts()["Mumbai"]; c != 3 {
		t.Errorf("count = %d, want 3", c)
	}
	for _, u := range site.fetched {
		if strings.Contains(u, "page=3") {
			t.Error("page 3 requested after page 2 yielded nothing new")
		}
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	site := &fakeSite{cities: map[string]city{
		"Boom":    {boom: true, pages: [][]int{{1}}},
		"Blocked": {blocked: true},
		"Pune":    {pages: [][]int{{1, 2}}},
		"Chennai": {pages: [][]int{{7}}},
	}}
	out := &memSink{}
	o := newTestOrchestrator(site, out)

	sum := o.Run(context.Background(), Targets([]string{"Boom", "Blocked", "Pune", "Chennai"}, nil), Options{
		MaxConcurrency:    2,
		MaxPagesPerTarget: 1,
	})

	if len(sum.Targets) != 4 {
		t.Fatalf("summary targets = %d", len(sum.Targets))
	}
	byLabel := map[string]models.TargetResult{}
	for _, r := range sum.Targets {
		byLabel[r.Label] = r
	}
	if r := byLabel["Boom"]; r.Count != 0 || !strings.Contains(r.Error, "panic") {
		t.Errorf("Boom result = %+v", r)
	}
	if r := byLabel["Blocked"]; r.Count != 0 || r.Error != "" {
		t.Errorf("blocked target should finish empty without worker error: %+v", r)
	}
	if byLabel["Pune"].Count != 2 || byLabel["Chennai"].Count != 1 {
		t.Errorf("healthy targets = %+v %+v", byLabel["Pune"], byLabel["Chennai"])
	}
	if sum.Failed != 1 || sum.Total != 3 {
		t.Errorf("failed = %d total = %d", sum.Failed, sum.Total)
	}
}

func TestRun_EnrichDegradesFailedDetails(t *testing.T) {
	site := &fakeSite{cities: map[string]city{"Pune": {pages: [][]int{{1, 2}}}}}
	out := &memSink{}
	o := newTestOrchestrator(site, out)

	// Listing 2 links to a detail URL that always fails at the transport.
	o.paginator = NewPaginator(o.engine, renameParser{o.paginator.parser}, testSite())

	sum := o.Run(context.Background(), Targets([]string{"Pune"}, nil), Options{MaxPagesPerTarget: 1, EnrichDetails: true})
	if sum.Total != 2 {
		t.Fatalf("total = %d, want 2 (degraded record kept)", sum.Total)
	}
	rows := out.byCity("Pune")
	var enriched, degraded int
	for _, r := range rows {
		if r[models.FieldPrice] == 1.5 && r[models.FieldPriceUnit] == "Cr" {
			enriched++
		} else {
			degraded++
		}
	}
	if enriched != 1 || degraded != 1 {
		t.Errorf("enriched = %d degraded = %d", enriched, degraded)
	}
}

// renameParser sends the second listing to an unreachable detail URL.
type renameParser struct{ parser.Parser }

func (r renameParser) ParseListingPage(html []byte, page int) []models.Record {
	recs := r.Parser.ParseListingPage(html, page)
	if len(recs) > 1 {
		recs[1].URL = "https://www.example.test/propertyDetails/broken"
	}
	return recs
}

func TestEnrich_CancelledWritesListingOnly(t *testing.T) {
	site := &fakeSite{}
	out := &memSink{}
	o := newTestOrchestrator(site, out)

	st := NewTargetState(Target{Label: "Pune"})
	for i := 0; i < 3; i++ {
		r := models.NewRecord(fmt.Sprintf("https://www.example.test/propertyDetails/%d", i))
		r.Fields[models.FieldCity] = "Pune"
		st.Records = append(st.Records, r)
		st.Sources = append(st.Sources, "https://www.example.test/list")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id, _ := o.engine.NewIdentity("Pune")
	if n := o.enricher.Enrich(ctx, id, st, true); n != 3 {
		t.Errorf("written = %d, want 3", n)
	}
	if len(site.fetched) != 0 {
		t.Errorf("fetched %d details after cancellation", len(site.fetched))
	}
}

func TestDedup(t *testing.T) {
	d := NewDedup()
	if !d.Insert("a") || d.Insert("a") {
		t.Error("second insert of the same url should report not new")
	}
	if !d.Seen("a") || d.Seen("b") {
		t.Error("seen mismatch")
	}
	if d.Len() != 1 {
		t.Errorf("len = %d", d.Len())
	}
}

func TestPaginate_DuplicateURLsOnOnePage(t *testing.T) {
	site := &fakeSite{cities: map[string]city{"Goa": {pages: [][]int{{1, 1, 2, 1}}}}}
	o := newTestOrchestrator(site, &memSink{})
	id, _ := o.engine.NewIdentity("Goa")
	st := NewTargetState(Target{Label: "Goa"})

	recs := o.paginator.Paginate(context.Background(), id, st, 1)
	if len(recs) != 2 {
		t.Errorf("records = %d, want 2", len(recs))
	}
}

// bareParser returns records the way a minimal third-party parser might:
// no field map and sometimes no URL.
type bareParser struct{ parser.Parser }

func (bareParser) ParseListingPage([]byte, int) []models.Record {
	return []models.Record{
		{URL: "https://www.example.test/propertyDetails/a"},
		{},
		{URL: "https://www.example.test/propertyDetails/b"},
	}
}

func TestPaginate_RecordsWithoutFields(t *testing.T) {
	site := &fakeSite{cities: map[string]city{"Goa": {pages: [][]int{{1}}}}}
	o := newTestOrchestrator(site, &memSink{})
	id, _ := o.engine.NewIdentity("Goa")
	st := NewTargetState(Target{Label: "Goa"})

	p := NewPaginator(o.engine, bareParser{}, testSite())
	recs := p.Paginate(context.Background(), id, st, 1)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.URL == "" || r.Fields[models.FieldCity] != "Goa" {
			t.Errorf("record = %+v", r)
		}
	}
}

func TestTargets_DropsDuplicateLabels(t *testing.T) {
	ts := Targets([]string{"Pune", "Mumbai", "Pune"}, DefaultFilters)
	if len(ts) != 2 || ts[0].Label != "Pune" || ts[1].Label != "Mumbai" {
		t.Fatalf("targets = %+v", ts)
	}
	ts[0].Filters["bedroom"] = "9"
	if ts[1].Filters["bedroom"] != DefaultFilters["bedroom"] {
		t.Error("targets share a filter map")
	}
}

func TestPageURL(t *testing.T) {
	s := testSite()
	got := s.PageURL(Target{Label: "Delhi-NCR", Filters: DefaultFilters}, 3)
	want := "https://www.example.test/property-for-sale/residential-real-estate" +
		"?bedroom=2,3&proptype=Multistorey-Apartment,Builder-Floor-Apartment,Penthouse,Studio-Apartment,Residential-House,Villa" +
		"&cityName=Delhi-NCR&page=3"
	if got != want {
		t.Errorf("PageURL =\n %s\nwant\n %s", got, want)
	}
}

func TestRoute(t *testing.T) {
	r := testSite().Route(nil)
	if got := r.SearchURL("Pune"); got != "https://www.google.com/search?q=magicbricks+property+sale+Pune" {
		t.Errorf("search url = %s", got)
	}
	if r.LandingURL != "https://www.example.test/" {
		t.Errorf("landing = %s", r.LandingURL)
	}
	if !strings.HasSuffix(r.TargetURL("Pune"), "cityName=Pune&page=1") {
		t.Errorf("target url = %s", r.TargetURL("Pune"))
	}
}

func TestStats(t *testing.T) {
	in := strings.Join([]string{
		`{"url":"a","city":"Pune","price":1.2,"bhk":2,"location":"Baner"}`,
		`{"url":"b","city":"Pune","area_sqft":900,"location":"Baner"}`,
		`not json`,
		`{"url":"c","city":"Mumbai","location":"Andheri"}`,
		``,
	}, "\n")
	st, err := Stats(strings.NewReader(in), 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.Records != 3 || st.WithPrice != 1 || st.WithArea != 1 || st.WithBHK != 1 || st.WithLocation != 3 {
		t.Errorf("stats = %+v", st)
	}
	if st.ByCity["Pune"] != 2 {
		t.Errorf("by city = %v", st.ByCity)
	}
	if len(st.TopLocations) != 1 || st.TopLocations[0] != (models.LocationCount{Location: "Baner", Count: 2}) {
		t.Errorf("top locations = %v", st.TopLocations)
	}
}
