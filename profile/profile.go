package profile

import (
	"net/http"
	"net/url"
	"strings"

	tls "github.com/refraction-networking/utls"
)

// Family groups profiles that send the same shape of navigation headers.
type Family string

const (
	Chrome  Family = "chrome"
	Edge    Family = "edge"
	Firefox Family = "firefox"
	Safari  Family = "safari"
)

// Profile is one network identity: a TLS ClientHello signature plus the
// header template of the browser that produces it. Profiles are values and
// are never mutated after the registry is built.
type Profile struct {
	ID        string
	Family    Family
	Hello     tls.ClientHelloID
	UserAgent string

	// SecCHUA is the sec-ch-ua brand list. Empty for browsers that don't
	// send client hints (Firefox, Safari).
	SecCHUA  string
	Platform string
	Mobile   bool
}

const (
	acceptChromium = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"
	acceptFirefox  = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	acceptSafari   = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// AcceptLanguages are the Accept-Language values a session may settle on.
var AcceptLanguages = []string{
	"en-IN,en-GB;q=0.9,en;q=0.8",
	"en-US,en;q=0.9,hi;q=0.7",
	"en-GB,en;q=0.8",
}

// Headers renders the navigation header set for a GET of target, arriving
// from referer (empty for a typed-in navigation).
func (p Profile) Headers(target, referer, acceptLanguage string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept-Language", acceptLanguage)
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Upgrade-Insecure-Requests", "1")
	if referer != "" {
		h.Set("Referer", referer)
	}

	site := fetchSite(target, referer)
	switch p.Family {
	case Firefox:
		h.Set("Accept", acceptFirefox)
		h.Set("DNT", "1")
		setFetchMetadata(h, site)
	case Safari:
		h.Set("Accept", acceptSafari)
	default:
		h.Set("Accept", acceptChromium)
		h.Set("Cache-Control", "max-age=0")
		setFetchMetadata(h, site)
		if p.SecCHUA != "" {
			h.Set("sec-ch-ua", p.SecCHUA)
		}
		if p.Mobile {
			h.Set("sec-ch-ua-mobile", "?1")
		} else {
			h.Set("sec-ch-ua-mobile", "?0")
		}
		if p.Platform != "" {
			h.Set("sec-ch-ua-platform", `"`+p.Platform+`"`)
		}
	}
	return h
}

func setFetchMetadata(h http.Header, site string) {
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", site)
	h.Set("Sec-Fetch-User", "?1")
}

// fetchSite computes the Sec-Fetch-Site value a browser would send.
func fetchSite(target, referer string) string {
	if referer == "" {
		return "none"
	}
	t, err1 := url.Parse(target)
	r, err2 := url.Parse(referer)
	if err1 != nil || err2 != nil {
		return "cross-site"
	}
	if strings.EqualFold(t.Host, r.Host) {
		return "same-origin"
	}
	if registrable(t.Hostname()) == registrable(r.Hostname()) {
		return "same-site"
	}
	return "cross-site"
}

// registrable approximates the registrable domain by its last two labels.
func registrable(host string) string {
	parts := strings.Split(strings.ToLower(host), ".")
	if len(parts) <= 2 {
		return strings.Join(parts, ".")
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
