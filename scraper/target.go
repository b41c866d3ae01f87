package scraper

import (
	"maps"

	"github.com/use-agent/propintel/models"
)

// DefaultCities are the metros crawled when no targets are configured.
var DefaultCities = []string{
	"Delhi-NCR",
	"Bangalore",
	"Mumbai",
	"Hyderabad",
	"Pune",
	"Chennai",
	"Kolkata",
	"Ahmedabad",
	"Jaipur",
	"Indore",
}

// DefaultFilters restrict results to 2 and 3 bedroom residential units.
var DefaultFilters = map[string]string{
	"bedroom":  "2,3",
	"proptype": "Multistorey-Apartment,Builder-Floor-Apartment,Penthouse,Studio-Apartment,Residential-House,Villa",
}

// Target is one unit of crawl work, typically a city.
type Target struct {
	Label   string
	Filters map[string]string
}

// Targets builds one Target per distinct label, each with its own copy of
// filters. Summaries are keyed by label, so repeats are dropped.
func Targets(labels []string, filters map[string]string) []Target {
	out := make([]Target, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, Target{Label: l, Filters: maps.Clone(filters)})
	}
	return out
}

// TargetState is a worker's private progress on one target.
type TargetState struct {
	Target Target
	// Page is the last listing page fetched successfully.
	Page int
	Seen *Dedup
	// Records are in discovery order; Sources[i] is the listing page
	// Records[i] was found on.
	Records []models.Record
	Sources []string
	// Count is the number of records written to the sink.
	Count int
}

// NewTargetState starts a target from page zero.
func NewTargetState(t Target) *TargetState {
	return &TargetState{Target: t, Seen: NewDedup()}
}
