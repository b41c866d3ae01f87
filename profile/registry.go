package profile

import (
	"errors"
	"fmt"
	"slices"

	tls "github.com/refraction-networking/utls"
)

// Picker is the randomness a Registry needs to choose among profiles.
type Picker interface {
	IntN(n int) int
}

// Registry is a fixed pool of profiles.
type Registry struct {
	profiles []Profile
}

// NewRegistry validates and freezes a profile pool. IDs must be unique.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, errors.New("profile: registry needs at least one profile")
	}
	seen := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		if p.ID == "" {
			return nil, errors.New("profile: empty profile id")
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("profile: duplicate profile id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return &Registry{profiles: slices.Clone(profiles)}, nil
}

// Len returns the pool size.
func (r *Registry) Len() int { return len(r.profiles) }

// All returns a copy of the pool.
func (r *Registry) All() []Profile { return slices.Clone(r.profiles) }

// Get looks a profile up by ID.
func (r *Registry) Get(id string) (Profile, bool) {
	for _, p := range r.profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// Pick returns a random profile whose ID is not in avoid. If every profile
// is avoided it returns a random profile from the whole pool.
func (r *Registry) Pick(rnd Picker, avoid ...string) Profile {
	candidates := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		if !slices.Contains(avoid, p.ID) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		candidates = r.profiles
	}
	return candidates[rnd.IntN(len(candidates))]
}

// Rotate picks the replacement for current. It prefers profiles that are
// neither current nor burned, then anything but current. Only a pool of size
// one yields current again.
func (r *Registry) Rotate(rnd Picker, current string, burned []string) Profile {
	avoid := append([]string{current}, burned...)
	for _, p := range r.profiles {
		if !slices.Contains(avoid, p.ID) {
			return r.Pick(rnd, avoid...)
		}
	}
	return r.Pick(rnd, current)
}

// Default returns the built-in pool. Every user agent matches the browser
// whose ClientHello the signature reproduces.
func Default() *Registry {
	r, err := NewRegistry(defaultProfiles...)
	if err != nil {
		panic(err)
	}
	return r
}

var defaultProfiles = []Profile{
	{
		ID:        "chrome-131-windows",
		Family:    Chrome,
		Hello:     tls.HelloChrome_131,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		SecCHUA:   `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		Platform:  "Windows",
	},
	{
		ID:        "chrome-131-macos",
		Family:    Chrome,
		Hello:     tls.HelloChrome_131,
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		SecCHUA:   `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		Platform:  "macOS",
	},
	{
		ID:        "chrome-120-linux",
		Family:    Chrome,
		Hello:     tls.HelloChrome_120,
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		SecCHUA:   `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
		Platform:  "Linux",
	},
	{
		ID:        "edge-106-windows",
		Family:    Edge,
		Hello:     tls.HelloEdge_106,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/106.0.0.0 Safari/537.36 Edg/106.0.1370.47",
		SecCHUA:   `"Chromium";v="106", "Microsoft Edge";v="106", "Not;A=Brand";v="99"`,
		Platform:  "Windows",
	},
	{
		ID:        "firefox-120-windows",
		Family:    Firefox,
		Hello:     tls.HelloFirefox_120,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0",
	},
	{
		ID:        "firefox-120-macos",
		Family:    Firefox,
		Hello:     tls.HelloFirefox_120,
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:120.0) Gecko/20100101 Firefox/120.0",
	},
	{
		ID:        "safari-16-macos",
		Family:    Safari,
		Hello:     tls.HelloSafari_16_0,
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Safari/605.1.15",
	},
	{
		ID:        "safari-14-ios",
		Family:    Safari,
		Hello:     tls.HelloIOS_14,
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 14_8 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1",
		Mobile:    true,
	},
}
