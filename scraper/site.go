package scraper

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/use-agent/propintel/engine"
)

// Site describes the listing site's URL scheme.
type Site struct {
	// Origin is the scheme and host, e.g. "https://www.magicbricks.com".
	Origin string
	// ListingURL is the results page without query.
	ListingURL string
	// SearchURL is a search-engine endpoint; the query is appended URL-encoded.
	SearchURL string
	// SearchQuery is a fmt template taking the target label.
	SearchQuery string
}

// DefaultSite is the MagicBricks residential sale listing.
func DefaultSite() Site {
	return Site{
		Origin:      "https://www.magicbricks.com",
		ListingURL:  "https://www.magicbricks.com/property-for-sale/residential-real-estate",
		SearchURL:   "https://www.google.com/search?q=",
		SearchQuery: "magicbricks property sale %s",
	}
}

// PageURL builds the results URL for page of t:
// ListingURL?<filters sorted by key>&cityName=<label>&page=<n>.
// Commas in filter values stay literal, as the site expects.
func (s Site) PageURL(t Target, page int) string {
	var b strings.Builder
	b.WriteString(s.ListingURL)
	sep := byte('?')
	add := func(k, v string) {
		b.WriteByte(sep)
		sep = '&'
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(strings.ReplaceAll(url.QueryEscape(v), "%2C", ","))
	}
	for _, k := range slices.Sorted(maps.Keys(t.Filters)) {
		if k == "cityName" || k == "page" {
			continue
		}
		add(k, t.Filters[k])
	}
	add("cityName", t.Label)
	add("page", fmt.Sprint(page))
	return b.String()
}

// Landing is the homepage, used as the first listing page's referer.
func (s Site) Landing() string {
	return strings.TrimRight(s.Origin, "/") + "/"
}

// Route is the warm-up chain: search results, homepage, first listing page.
func (s Site) Route(filtersFor func(label string) map[string]string) engine.Route {
	r := engine.Route{
		LandingURL: s.Landing(),
		TargetURL: func(label string) string {
			var filters map[string]string
			if filtersFor != nil {
				filters = filtersFor(label)
			}
			return s.PageURL(Target{Label: label, Filters: filters}, 1)
		},
	}
	if s.SearchURL != "" {
		r.SearchURL = func(label string) string {
			q := s.SearchQuery
			if strings.Contains(q, "%s") {
				q = fmt.Sprintf(q, label)
			}
			return s.SearchURL + url.QueryEscape(q)
		}
	}
	return r
}
