package engine

import (
	"context"
	"log/slog"
)

// Route is the navigation chain a warm-up replays.
type Route struct {
	// SearchURL is a search-engine results page for the target.
	SearchURL func(target string) string
	// LandingURL is the site homepage.
	LandingURL string
	// TargetURL is the target's first listing page.
	TargetURL func(target string) string
}

// Warmup builds plausible browsing history on a fresh session.
type Warmup struct {
	route Route
	pause Jitter
	rnd   *Rand
	sleep Sleeper
}

// NewWarmup creates a Warmup for route.
func NewWarmup(route Route, pause Jitter, rnd *Rand, sleep Sleeper) *Warmup {
	return &Warmup{route: route, pause: pause, rnd: rnd, sleep: sleep}
}

// Ensure runs the three-hop chain once per session. Hop failures are
// logged and never returned; the session is marked warmed afterwards either
// way.
func (w *Warmup) Ensure(ctx context.Context, s Session, target string) {
	if s.Warmed() {
		return
	}
	defer s.MarkWarmed()

	var hops []string
	if w.route.SearchURL != nil {
		hops = append(hops, w.route.SearchURL(target))
	}
	if w.route.LandingURL != "" {
		hops = append(hops, w.route.LandingURL)
	}
	if w.route.TargetURL != nil {
		hops = append(hops, w.route.TargetURL(target))
	}

	netCtx := context.WithoutCancel(ctx)
	referer := ""
	for i, hop := range hops {
		if i > 0 {
			if ctx.Err() != nil {
				return
			}
			w.sleep(w.pause.Draw(w.rnd))
		}
		resp, err := s.Get(netCtx, hop, referer)
		switch {
		case err != nil:
			slog.Warn("warmup hop failed", "target", target, "hop", i+1, "url", hop, "error", err)
		case resp.Status >= 400:
			slog.Warn("warmup hop rejected", "target", target, "hop", i+1, "url", hop, "status", resp.Status)
		default:
			slog.Debug("warmup hop", "target", target, "hop", i+1, "status", resp.Status)
		}
		referer = hop
	}
	slog.Info("session warmed", "target", target, "profile", s.Profile().ID)
}
