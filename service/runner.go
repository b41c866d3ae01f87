package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/propintel/models"
	"github.com/use-agent/propintel/scraper"
	"github.com/use-agent/propintel/webhook"
)

// Run states.
const (
	StateRunning  = "running"
	StateFinished = "finished"
	StateFailed   = "failed"
)

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = models.NewRunError(models.ErrCodeRunInProgress, "a run is already in progress", nil)

// maxHistory bounds the runs kept for lookup by ID.
const maxHistory = 20

// Run is the record of one triggered run.
type Run struct {
	ID        string
	State     string
	StartedAt time.Time
	Summary   *models.Summary
	Err       error
}

// Archiver uploads output files after a run. *archive.Uploader implements it.
type Archiver interface {
	Upload(ctx context.Context, runID string, files ...string) ([]string, error)
}

// Notifier announces finished runs. *webhook.Notifier implements it.
type Notifier interface {
	SendAsync(event *webhook.Event)
}

// RunRecorder counts finished runs. *telemetry.Metrics implements it.
type RunRecorder interface {
	RecordRun(ctx context.Context, failedTargets int)
}

// Config wires the post-run steps. Every field is optional.
type Config struct {
	Defaults Params
	// Filters apply to targets named in admin requests.
	Filters map[string]string
	// StatsPath is the JSONL stream read back for field statistics.
	StatsPath    string
	TopLocations int
	ArchiveFiles []string
	Archiver     Archiver
	Notifier     Notifier
	Recorder     RunRecorder
}

// Runner allows one run at a time and remembers recent runs.
type Runner struct {
	job Job
	cfg Config

	mu      sync.Mutex
	current *Run
	runs    map[string]*Run
	order   []string
	last    *models.Summary

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(job Job, cfg Config) *Runner {
	if cfg.TopLocations <= 0 {
		cfg.TopLocations = 10
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		job:    job,
		cfg:    cfg,
		runs:   make(map[string]*Run),
		base:   base,
		cancel: cancel,
	}
}

// Defaults returns the configured crawl parameters.
func (r *Runner) Defaults() Params { return r.cfg.Defaults }

// RunSync runs to completion on the caller's goroutine.
func (r *Runner) RunSync(ctx context.Context, p Params) (*models.Summary, error) {
	run, err := r.begin()
	if err != nil {
		return nil, err
	}
	r.execute(ctx, run, p)
	return run.Summary, run.Err
}

// Start launches a run in the background and returns its ID. Close cancels
// it.
func (r *Runner) Start(p Params) (string, error) {
	run, err := r.begin()
	if err != nil {
		return "", err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(r.base, run, p)
	}()
	return run.ID, nil
}

// Schedule starts a run every interval until ctx is done. Ticks that land
// on an active run are skipped.
func (r *Runner) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	slog.Info("scheduled runs enabled", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunSync(ctx, r.cfg.Defaults); errors.Is(err, ErrRunInProgress) {
				slog.Warn("scheduled run skipped, previous run still active")
			}
		}
	}
}

// Get returns a copy of the run with id.
func (r *Runner) Get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// Current is the active run's ID, or "".
func (r *Runner) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.ID
}

// Last is the most recent finished summary.
func (r *Runner) Last() *models.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Close cancels a background run and waits for it to write its summary.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) begin() (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return nil, ErrRunInProgress
	}
	run := &Run{ID: uuid.NewString(), State: StateRunning, StartedAt: time.Now()}
	r.current = run
	r.runs[run.ID] = run
	r.order = append(r.order, run.ID)
	if len(r.order) > maxHistory {
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
	}
	return run, nil
}

func (r *Runner) execute(ctx context.Context, run *Run, p Params) {
	log := slog.With("run_id", run.ID)
	sum, err := r.safeJob(ctx, run.ID, p)
	if sum != nil {
		r.afterRun(ctx, log, sum)
	}

	r.mu.Lock()
	run.Summary = sum
	run.Err = err
	run.State = StateFinished
	if err != nil {
		run.State = StateFailed
	}
	if sum != nil {
		r.last = sum
	}
	r.current = nil
	r.mu.Unlock()

	if err != nil {
		log.Error("run failed", "error", err)
	}
}

func (r *Runner) safeJob(ctx context.Context, runID string, p Params) (sum *models.Summary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = models.NewRunError(models.ErrCodeInternal, "run panicked", fmt.Errorf("%v", rec))
		}
	}()
	return r.job(ctx, runID, p)
}

// afterRun attaches stats and runs the optional archive, webhook and metric
// steps. Failures are logged only.
func (r *Runner) afterRun(ctx context.Context, log *slog.Logger, sum *models.Summary) {
	if r.cfg.StatsPath != "" {
		st, err := scraper.ReadStats(r.cfg.StatsPath, r.cfg.TopLocations)
		if err != nil {
			log.Warn("stats readback failed", "path", r.cfg.StatsPath, "error", err)
		} else {
			sum.Stats = st
		}
	}
	if r.cfg.Recorder != nil {
		r.cfg.Recorder.RecordRun(ctx, sum.Failed)
	}
	if r.cfg.Archiver != nil {
		if _, err := r.cfg.Archiver.Upload(context.WithoutCancel(ctx), sum.RunID, r.cfg.ArchiveFiles...); err != nil {
			log.Error("archive upload failed", "error", err)
		}
	}
	if r.cfg.Notifier != nil {
		r.cfg.Notifier.SendAsync(&webhook.Event{
			Type:      webhook.EventRunCompleted,
			RunID:     sum.RunID,
			Timestamp: time.Now().Unix(),
			Data:      sum,
		})
	}
}

// ParamsFor merges an admin request over the defaults.
func (r *Runner) ParamsFor(req models.RunRequest) Params {
	p := r.cfg.Defaults
	if len(req.Targets) > 0 {
		p.Targets = scraper.Targets(req.Targets, r.cfg.Filters)
	}
	if req.MaxPages > 0 {
		p.MaxPages = req.MaxPages
	}
	if req.Concurrency > 0 {
		p.Concurrency = req.Concurrency
	}
	if req.EnrichDetails != nil {
		p.EnrichDetails = *req.EnrichDetails
	}
	return p
}
