package engine

import (
	"context"
	"time"

	"github.com/use-agent/propintel/profile"
	"github.com/use-agent/propintel/session"
)

// Session is the connection identity the engine drives. *session.Session
// implements it; tests substitute scripted fakes.
type Session interface {
	Get(ctx context.Context, url, referer string) (*session.Response, error)
	Profile() profile.Profile
	Warmed() bool
	MarkWarmed()
	Close() error
}

// SessionFactory constructs a fresh Session bound to p.
type SessionFactory func(p profile.Profile) (Session, error)

// NewSessionFactory adapts session.New to a SessionFactory. Each session
// settles on one Accept-Language for its lifetime.
func NewSessionFactory(opts session.Options, rnd *Rand) SessionFactory {
	return func(p profile.Profile) (Session, error) {
		o := opts
		if o.AcceptLanguage == "" {
			o.AcceptLanguage = profile.AcceptLanguages[rnd.IntN(len(profile.AcceptLanguages))]
		}
		return session.New(p, o)
	}
}

// Request is one logical fetch.
type Request struct {
	URL      string
	Referer  string
	IsDetail bool
	// Attempt is 1-based and set by the Fetcher.
	Attempt int
}

// Kind tags an Outcome.
type Kind int

const (
	Success Kind = iota
	RateLimited
	Blocked
	SoftBlocked
	TransientError
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case Blocked:
		return "blocked"
	case SoftBlocked:
		return "soft_blocked"
	case TransientError:
		return "transient_error"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome is the result of one classified attempt or of a whole Fetch.
type Outcome struct {
	Kind   Kind
	Status int
	// Body is set only for Success.
	Body []byte
	// Reason explains a SoftBlocked outcome ("too-small", "keyword:captcha").
	Reason string
	// Err is the cause of TransientError and Fatal outcomes.
	Err      error
	Attempts int
	// RetryAfter is the server's Retry-After hint on 429, zero if absent.
	RetryAfter time.Duration
}

// OK reports whether the outcome is a Success.
func (o Outcome) OK() bool { return o.Kind == Success }

// Observer receives engine events. telemetry.Metrics implements it.
type Observer interface {
	ObserveAttempt(ctx context.Context, target string, kind Kind)
	ObserveRotation(ctx context.Context, target string)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(context.Context, string, Kind) {}
func (nopObserver) ObserveRotation(context.Context, string)      {}
