package models

import "time"

// TargetResult is the outcome of one target's worker.
type TargetResult struct {
	Label string `json:"label"`
	Count int    `json:"count"`
	Pages int    `json:"pages"`

	// Error is set when the worker failed. Count is then 0.
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Summary describes a whole run.
type Summary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Targets    []TargetResult `json:"targets"`
	Total      int            `json:"total"`
	Failed     int            `json:"failed"`

	// Stats is read back from the record stream after the run.
	Stats *Stats `json:"stats,omitempty"`
}

// Counts maps each target label to its record count.
func (s *Summary) Counts() map[string]int {
	out := make(map[string]int, len(s.Targets))
	for _, t := range s.Targets {
		out[t.Label] = t.Count
	}
	return out
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Stats reports field completion across a record stream.
type Stats struct {
	Records      int             `json:"records"`
	WithPrice    int             `json:"with_price"`
	WithArea     int             `json:"with_area"`
	WithLocation int             `json:"with_location"`
	WithBHK      int             `json:"with_bhk"`
	ByCity       map[string]int  `json:"by_city"`
	TopLocations []LocationCount `json:"top_locations"`
}

// LocationCount is one row of Stats.TopLocations.
type LocationCount struct {
	Location string `json:"location"`
	Count    int    `json:"count"`
}
