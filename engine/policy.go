package engine

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy is the retry and pacing strategy of a Fetcher.
type Policy struct {
	MaxAttempts int
	Classifier  Classifier

	// ListingPace and DetailPace precede every attempt.
	ListingPace Jitter
	DetailPace  Jitter
	// AttemptStep is added to the pace once per prior attempt.
	AttemptStep Jitter

	TransientBackoff Jitter
	// RateLimitBackoff and BlockBackoff are multiplied by the attempt index.
	RateLimitBackoff Jitter
	BlockBackoff     Jitter

	// WarmupPause separates warm-up hops.
	WarmupPause Jitter

	// CooldownTTL is how long a blocked profile is avoided by its target.
	CooldownTTL time.Duration

	// HonorRetryAfter stretches a 429 backoff to the server's Retry-After,
	// capped at MaxRetryAfter when that is positive.
	HonorRetryAfter bool
	MaxRetryAfter   time.Duration
}

// DefaultPolicy paces requests at a human cadence of several seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      4,
		Classifier:       DefaultClassifier(),
		ListingPace:      Jitter{Mean: 6500 * time.Millisecond, StdDev: 1500 * time.Millisecond, Floor: 3 * time.Second},
		DetailPace:       Jitter{Mean: 7200 * time.Millisecond, StdDev: 1800 * time.Millisecond, Floor: 3 * time.Second},
		AttemptStep:      Jitter{Mean: 7500 * time.Millisecond, StdDev: 1500 * time.Millisecond, Floor: 5 * time.Second},
		TransientBackoff: Jitter{Mean: 9 * time.Second, StdDev: 2500 * time.Millisecond, Floor: 4 * time.Second},
		RateLimitBackoff: Jitter{Mean: 45 * time.Second, StdDev: 9 * time.Second, Floor: 30 * time.Second},
		BlockBackoff:     Jitter{Mean: 25 * time.Second, StdDev: 6 * time.Second, Floor: 15 * time.Second},
		WarmupPause:      Jitter{Mean: 4 * time.Second, StdDev: 1500 * time.Millisecond, Floor: 2 * time.Second},
		CooldownTTL:      30 * time.Minute,
		HonorRetryAfter:  true,
		MaxRetryAfter:    10 * time.Minute,
	}
}

// pace is the delay before attempt n of req.
func (p Policy) pace(rnd *Rand, req Request) time.Duration {
	base := p.ListingPace
	if req.IsDetail {
		base = p.DetailPace
	}
	d := base.Draw(rnd)
	for i := 1; i < req.Attempt; i++ {
		d += p.AttemptStep.Draw(rnd)
	}
	return d
}

// backoff is the delay after a failed attempt.
func (p Policy) backoff(rnd *Rand, out Outcome, attempt int) time.Duration {
	switch out.Kind {
	case TransientError:
		return p.TransientBackoff.Draw(rnd)
	case RateLimited:
		d := p.RateLimitBackoff.Draw(rnd) * time.Duration(attempt)
		hint := out.RetryAfter
		if p.MaxRetryAfter > 0 && hint > p.MaxRetryAfter {
			hint = p.MaxRetryAfter
		}
		if p.HonorRetryAfter && hint > d {
			d = hint
		}
		return d
	case Blocked, SoftBlocked:
		return p.BlockBackoff.Draw(rnd) * time.Duration(attempt)
	}
	return 0
}

// parseRetryAfter reads a Retry-After header in either seconds or HTTP-date
// form.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
