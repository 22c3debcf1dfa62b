// Package caldav is the public facade of the library: the resource model
// (Principal, CalendarSet, Calendar, CalendarObject), the operations layer
// that turns protocol-engine results into that model, discovery, and the
// Client that ties the two I/O shells to it. XML and wire concerns live in
// internal/dav; HTTP execution lives in internal/transport; iCalendar
// parsing lives in icalcodec.
package caldav

import (
	"fmt"
	"net/url"
	"strings"
)

// URL wraps net/url.URL with the canonicalization rules CalDAV servers
// force on callers: inconsistent trailing slashes, stray userinfo, and
// default ports that may or may not be present.
type URL struct {
	u *url.URL
}

// ParseURL parses s, tolerating relative forms (no scheme/host).
func ParseURL(s string) (URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return URL{}, fmt.Errorf("caldav: parse url %q: %w", s, err)
	}
	return URL{u: u}, nil
}

func (u URL) String() string {
	if u.u == nil {
		return ""
	}
	return u.u.String()
}

func (u URL) IsZero() bool { return u.u == nil }

func (u URL) Raw() *url.URL {
	if u.u == nil {
		return &url.URL{}
	}
	c := *u.u
	return &c
}

// Join resolves other against u, the way (*url.URL).ResolveReference does,
// except it refuses combinations where other is absolute and names a
// different scheme/host than u.
func (u URL) Join(other string) (URL, error) {
	ref, err := url.Parse(other)
	if err != nil {
		return URL{}, fmt.Errorf("caldav: parse url %q: %w", other, err)
	}
	if ref.IsAbs() && u.u != nil && u.u.IsAbs() {
		if ref.Scheme != u.u.Scheme || ref.Host != u.u.Host {
			return URL{}, fmt.Errorf("caldav: join %q onto %q: host/scheme mismatch", other, u.u.String())
		}
	}
	base := u.u
	if base == nil {
		base = &url.URL{}
	}
	return URL{u: base.ResolveReference(ref)}, nil
}

// Canonicalize produces a stable byte form: lowercase scheme/host, default
// port removed when implied by scheme, collapsed duplicate path slashes,
// userinfo stripped.
func (u URL) Canonicalize() URL {
	if u.u == nil {
		return u
	}
	c := *u.u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = canonicalHost(c.Scheme, c.Host)
	c.User = nil
	c.Path = collapseSlashes(c.Path)
	c.RawQuery = c.Query().Encode()
	return URL{u: &c}
}

func canonicalHost(scheme, host string) string {
	h := strings.ToLower(host)
	switch scheme {
	case "http":
		return strings.TrimSuffix(h, ":80")
	case "https":
		return strings.TrimSuffix(h, ":443")
	default:
		return h
	}
}

func collapseSlashes(path string) string {
	var b strings.Builder
	prevSlash := false
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "" {
		return "/"
	}
	return out
}

// StripTrailingSlash removes exactly one trailing "/" from the path, if
// present (never collapsing the root path to empty).
func (u URL) StripTrailingSlash() URL {
	if u.u == nil {
		return u
	}
	c := *u.u
	if len(c.Path) > 1 && strings.HasSuffix(c.Path, "/") {
		c.Path = strings.TrimSuffix(c.Path, "/")
	}
	return URL{u: &c}
}

// StripCredentials removes userinfo.
func (u URL) StripCredentials() URL {
	if u.u == nil {
		return u
	}
	c := *u.u
	c.User = nil
	return URL{u: &c}
}

// Equal compares canonical forms.
func (u URL) Equal(other URL) bool {
	return u.Canonicalize().String() == other.Canonicalize().String()
}

// EqualIgnoringTrailingSlash compares canonical forms after also stripping
// a trailing slash from each side — used throughout the operations layer
// because servers are inconsistent about collection hrefs.
func (u URL) EqualIgnoringTrailingSlash(other URL) bool {
	return u.Canonicalize().StripTrailingSlash().String() == other.Canonicalize().StripTrailingSlash().String()
}

func (u URL) Path() string {
	if u.u == nil {
		return ""
	}
	return u.u.Path
}

func (u URL) Hostname() string {
	if u.u == nil {
		return ""
	}
	return u.u.Hostname()
}
