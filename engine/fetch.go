package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/propintel/profile"
)

// Fetcher executes logical fetches under a Policy: pacing, classification,
// backoff and profile rotation.
type Fetcher struct {
	policy   Policy
	registry *profile.Registry
	factory  SessionFactory
	warmup   *Warmup
	cooldown *Cooldown
	rnd      *Rand
	sleep    Sleeper
	observer Observer
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithRand sets the random source.
func WithRand(r *Rand) Option { return func(f *Fetcher) { f.rnd = r } }

// WithSleeper replaces time.Sleep.
func WithSleeper(s Sleeper) Option { return func(f *Fetcher) { f.sleep = s } }

// WithRoute enables warm-up along route.
func WithRoute(r Route) Option {
	return func(f *Fetcher) { f.warmup = NewWarmup(r, f.policy.WarmupPause, nil, nil) }
}

// WithCooldown shares a Cooldown between Fetchers.
func WithCooldown(c *Cooldown) Option { return func(f *Fetcher) { f.cooldown = c } }

// WithObserver reports attempts and rotations.
func WithObserver(o Observer) Option { return func(f *Fetcher) { f.observer = o } }

// NewFetcher builds a Fetcher. It is safe for concurrent use by many
// workers as long as each holds its own Identity.
func NewFetcher(policy Policy, registry *profile.Registry, factory SessionFactory, opts ...Option) *Fetcher {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	f := &Fetcher{
		policy:   policy,
		registry: registry,
		factory:  factory,
		sleep:    time.Sleep,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.rnd == nil {
		f.rnd = NewRandomRand()
	}
	if f.cooldown == nil {
		f.cooldown = NewCooldown(policy.CooldownTTL)
	}
	if f.warmup != nil {
		f.warmup.rnd = f.rnd
		f.warmup.sleep = f.sleep
	}
	return f
}

// Rand exposes the Fetcher's random source to collaborators that pace
// themselves (the orchestrator stagger).
func (f *Fetcher) Rand() *Rand { return f.rnd }

// Sleep blocks using the Fetcher's sleeper.
func (f *Fetcher) Sleep(d time.Duration) { f.sleep(d) }

// NewIdentity binds a fresh session to target, avoiding profiles still
// cooling down for it.
func (f *Fetcher) NewIdentity(target string) (*Identity, error) {
	p := f.registry.Pick(f.rnd, f.cooldown.Burned(target)...)
	s, err := f.factory(p)
	if err != nil {
		return nil, fmt.Errorf("engine: new session for %s: %w", p.ID, err)
	}
	return &Identity{Target: target, sess: s}, nil
}

// Fetch runs up to MaxAttempts attempts for req. It returns the first
// Success or Fatal, else the last failed outcome. Backoffs are slept in
// full; ctx only scopes in-flight requests, which are detached from
// cancellation so a shutdown never truncates a response mid-read.
func (f *Fetcher) Fetch(ctx context.Context, id *Identity, req Request) Outcome {
	var last Outcome
	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		req.Attempt = attempt
		if f.warmup != nil {
			f.warmup.Ensure(ctx, id.sess, id.Target)
		}
		f.sleep(f.policy.pace(f.rnd, req))

		out := f.attempt(ctx, id, req)
		out.Attempts = attempt
		last = out
		f.observer.ObserveAttempt(ctx, id.Target, out.Kind)

		log := slog.With("target", id.Target, "url", req.URL, "attempt", attempt, "profile", id.ProfileID())
		switch out.Kind {
		case Success:
			log.Debug("fetch ok", "status", out.Status, "bytes", len(out.Body))
			return out
		case Fatal:
			log.Warn("fetch fatal", "status", out.Status, "error", out.Err)
			return out
		}

		log.Warn("fetch attempt failed", "outcome", out.Kind.String(), "status", out.Status, "reason", out.Reason, "error", out.Err)
		if attempt == f.policy.MaxAttempts {
			break
		}
		f.sleep(f.policy.backoff(f.rnd, out, attempt))
		if out.Kind == Blocked || out.Kind == SoftBlocked {
			if err := f.rotate(ctx, id); err != nil {
				log.Error("rotation failed", "error", err)
				return Outcome{Kind: Fatal, Err: err, Attempts: attempt}
			}
		}
	}
	return last
}

func (f *Fetcher) attempt(ctx context.Context, id *Identity, req Request) Outcome {
	resp, err := id.sess.Get(context.WithoutCancel(ctx), req.URL, req.Referer)
	if err != nil {
		return Outcome{Kind: TransientError, Err: err}
	}
	out := f.policy.Classifier.Classify(resp.Status, resp.Body, req.IsDetail)
	if out.Kind == RateLimited {
		out.RetryAfter = parseRetryAfter(resp.Header, time.Now())
	}
	return out
}

// rotate burns the current profile and replaces the session with one bound
// to a different profile. Warm-up runs on the next attempt.
func (f *Fetcher) rotate(ctx context.Context, id *Identity) error {
	current := id.ProfileID()
	f.cooldown.Burn(id.Target, current)

	next := f.registry.Rotate(f.rnd, current, f.cooldown.Burned(id.Target))
	s, err := f.factory(next)
	if err != nil {
		return fmt.Errorf("engine: rotate to %s: %w", next.ID, err)
	}
	id.sess.Close()
	id.sess = s
	id.rotations++
	f.observer.ObserveRotation(ctx, id.Target)
	slog.Info("identity rotated", "target", id.Target, "from", current, "to", next.ID, "rotations", id.rotations)
	return nil
}
