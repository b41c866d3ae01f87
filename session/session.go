package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/use-agent/propintel/profile"
)

const (
	defaultTimeout = 30 * time.Second
	defaultMaxBody = 10 << 20
	maxRedirects   = 10
)

// Options configures a Session.
type Options struct {
	// Proxy is an http://, https://, socks5:// or socks5h:// URL. Empty dials direct.
	Proxy string
	// Timeout bounds one request including redirects and body read.
	Timeout time.Duration
	// AcceptLanguage is sent on every request for the session's lifetime.
	AcceptLanguage string
	// MaxBody caps the decoded body size. Longer bodies are truncated.
	MaxBody int64
}

// Response is a fully read HTTP response.
type Response struct {
	Status   int
	Body     []byte
	Header   http.Header
	FinalURL string
}

// Session is a cookie-carrying HTTP client bound to exactly one profile.
// It is owned by a single worker and never shared.
type Session struct {
	profile        profile.Profile
	client         *http.Client
	acceptLanguage string
	maxBody        int64
	warmed         atomic.Bool
}

// New builds a session whose TLS handshakes and headers impersonate p.
func New(p profile.Profile, opts Options) (*Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = defaultMaxBody
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = profile.AcceptLanguages[0]
	}

	d, err := newDialer(p.Hello, opts.Proxy, opts.Timeout)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("session: cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext:         d.DialContext,
		DialTLSContext:      d.DialTLSContext,
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	return &Session{
		profile: p,
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("session: too many redirects")
				}
				return nil
			},
		},
		acceptLanguage: opts.AcceptLanguage,
		maxBody:        opts.MaxBody,
	}, nil
}

// Profile returns the bound profile.
func (s *Session) Profile() profile.Profile { return s.profile }

// Warmed reports whether the warm-up chain has run on this session.
func (s *Session) Warmed() bool { return s.warmed.Load() }

// MarkWarmed records that the warm-up chain has run.
func (s *Session) MarkWarmed() { s.warmed.Store(true) }

// Get performs a navigation-style GET. Any HTTP status is a valid response;
// only transport failures return an error.
func (s *Session) Get(ctx context.Context, target, referer string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("session: build request: %w", err)
	}
	req.Header = s.profile.Headers(target, referer, s.acceptLanguage)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return nil, fmt.Errorf("session: read body: %w", err)
	}
	body, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Header.Get("Content-Type"), raw, s.maxBody)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:   resp.StatusCode,
		Body:     body,
		Header:   resp.Header,
		FinalURL: resp.Request.URL.String(),
	}, nil
}

// Close drops pooled connections.
func (s *Session) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
