package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/use-agent/propintel/config"
	"github.com/use-agent/propintel/models"
	"github.com/use-agent/propintel/scraper"
	"github.com/use-agent/propintel/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func testApp(t *testing.T, job service.Job) (*App, http.Handler) {
	t.Helper()
	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: "test"},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{"secret"}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
	}
	runner := service.NewRunner(job, service.Config{
		Defaults: service.Params{Targets: scraper.Targets([]string{"Mumbai"}, nil), MaxPages: 2, Concurrency: 1},
	})
	t.Cleanup(runner.Close)
	app := &App{Runner: runner, Config: cfg, StartTime: time.Now()}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return app, NewRouter(ctx, app)
}

func echoJob(_ context.Context, runID string, p service.Params) (*models.Summary, error) {
	sum := &models.Summary{RunID: runID}
	for _, t := range p.Targets {
		sum.Targets = append(sum.Targets, models.TargetResult{Label: t.Label, Count: p.MaxPages})
		sum.Total += p.MaxPages
	}
	return sum, nil
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

var authed = map[string]string{"X-API-Key": "secret"}

func TestHealthAndStatus_NoAuth(t *testing.T) {
	_, h := testApp(t, echoJob)

	w := do(h, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var health models.HealthResponse
	decode(t, w, &health)
	if health.Status != "healthy" || health.Version == "" {
		t.Errorf("health = %+v", health)
	}

	w = do(h, http.MethodGet, "/api/v1/status", "", nil)
	var st models.StatusResponse
	decode(t, w, &st)
	if w.Code != http.StatusOK || st.Running || st.Last != nil {
		t.Errorf("status = %d %+v", w.Code, st)
	}
}

func TestAdmin_RequiresKey(t *testing.T) {
	_, h := testApp(t, echoJob)
	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer", map[string]string{"Authorization": "Bearer secret"}, http.StatusNotFound},
		{"header", authed, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodGet, "/api/v1/admin/runs/unknown", "", tt.headers)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestPostRun_Wait(t *testing.T) {
	app, h := testApp(t, echoJob)

	w := do(h, http.MethodPost, "/api/v1/admin/runs", `{"targets":["Pune","Chennai"],"max_pages":4,"wait":true}`, authed)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp models.RunResponse
	decode(t, w, &resp)
	if !resp.Success || resp.State != service.StateFinished || resp.Summary == nil || resp.Summary.Total != 8 {
		t.Fatalf("resp = %+v", resp)
	}
	if app.Runner.Last() == nil || app.Runner.Last().RunID != resp.RunID {
		t.Error("last summary not recorded")
	}

	w = do(h, http.MethodGet, "/api/v1/admin/runs/"+resp.RunID, "", authed)
	var got models.RunResponse
	decode(t, w, &got)
	if w.Code != http.StatusOK || got.Summary == nil || got.Summary.Counts()["Pune"] != 4 {
		t.Errorf("get = %d %+v", w.Code, got)
	}
}

func TestPostRun_DefaultsAndConflict(t *testing.T) {
	release := make(chan struct{})
	job := func(ctx context.Context, runID string, p service.Params) (*models.Summary, error) {
		<-release
		return echoJob(ctx, runID, p)
	}
	app, h := testApp(t, job)

	w := do(h, http.MethodPost, "/api/v1/admin/runs", "", authed)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var started models.RunResponse
	decode(t, w, &started)
	if started.RunID == "" || started.State != service.StateRunning {
		t.Fatalf("resp = %+v", started)
	}

	w = do(h, http.MethodPost, "/api/v1/admin/runs", "", authed)
	if w.Code != http.StatusConflict {
		t.Errorf("second run status = %d", w.Code)
	}
	w = do(h, http.MethodGet, "/health", "", nil)
	var health models.HealthResponse
	decode(t, w, &health)
	if health.Status != "running" {
		t.Errorf("health during run = %q", health.Status)
	}

	close(release)
	app.Runner.Close()
	run, ok := app.Runner.Get(started.RunID)
	if !ok || run.Summary.Counts()["Mumbai"] != 2 {
		t.Errorf("run = %+v", run)
	}
}

func TestPostRun_Validation(t *testing.T) {
	_, h := testApp(t, echoJob)
	for _, body := range []string{`{"max_pages":1000}`, `{"concurrency":0.5}`, `not json`} {
		w := do(h, http.MethodPost, "/api/v1/admin/runs", body, authed)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, w.Code)
		}
	}
}

func TestAdmin_RateLimited(t *testing.T) {
	app, _ := testApp(t, echoJob)
	app.Config.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewRouter(ctx, app)

	if w := do(h, http.MethodGet, "/api/v1/admin/runs/x", "", authed); w.Code != http.StatusNotFound {
		t.Fatalf("first status = %d", w.Code)
	}
	w := do(h, http.MethodGet, "/api/v1/admin/runs/x", "", authed)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}
