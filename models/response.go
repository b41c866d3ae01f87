package models

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"` // "healthy" or "running"
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// StatusResponse is the response for GET /api/v1/status.
type StatusResponse struct {
	Running bool `json:"running"`

	// CurrentRunID is set while a run is in progress.
	CurrentRunID string `json:"current_run_id,omitempty"`

	// Last is the most recently finished run, nil before the first.
	Last *Summary `json:"last,omitempty"`
}

// RunRequest is the body of POST /api/v1/admin/runs. Zero values fall back
// to the configured crawl settings.
type RunRequest struct {
	Targets       []string `json:"targets,omitempty"`
	MaxPages      int      `json:"max_pages,omitempty" binding:"omitempty,min=1,max=100"`
	Concurrency   int      `json:"concurrency,omitempty" binding:"omitempty,min=1,max=16"`
	EnrichDetails *bool    `json:"enrich_details,omitempty"`

	// Wait blocks the request until the run finishes.
	Wait bool `json:"wait,omitempty"`
}

// RunResponse is the response for the admin run endpoints.
type RunResponse struct {
	Success bool         `json:"success"`
	RunID   string       `json:"run_id,omitempty"`
	State   string       `json:"state,omitempty"` // "running", "finished" or "failed"
	Summary *Summary     `json:"summary,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}
