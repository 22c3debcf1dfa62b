package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/calendrierhub/caldav/internal/dav"
)

// negotiator remembers the auth scheme picked on a prior 401, so later
// requests on the same session apply it preemptively instead of paying for
// a round trip every time (spec.md §4.5 step 1: "attempt with current auth
// if any").
type negotiator struct {
	mu        sync.Mutex
	scheme    AuthScheme
	challenge challenge
	resolved  bool
}

func (n *negotiator) snapshot() (AuthScheme, challenge, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.scheme, n.challenge, n.resolved
}

func (n *negotiator) remember(scheme AuthScheme, ch challenge) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheme = scheme
	n.challenge = ch
	n.resolved = true
}

// session is the shared state behind both shell variants: an *http.Client,
// a base URL requests are resolved against, credentials, and the
// negotiated-auth cache.
type session struct {
	client  *http.Client
	baseMu  sync.RWMutex
	base    *url.URL
	creds   Credentials
	logger  *slog.Logger
	negot   *negotiator
	headers map[string]string
}

func (s *session) setBase(base *url.URL) {
	s.baseMu.Lock()
	defer s.baseMu.Unlock()
	s.base = base
}

func newSession(client *http.Client, base *url.URL, creds Credentials, logger *slog.Logger, headers map[string]string) *session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{}
	}
	return &session{client: client, base: base, creds: creds, logger: logger, negot: &negotiator{}, headers: headers}
}

func (s *session) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("transport: parse %q: %w", path, err)
	}
	s.baseMu.RLock()
	base := s.base
	s.baseMu.RUnlock()
	if base == nil {
		return ref, nil
	}
	return base.ResolveReference(ref), nil
}

func (s *session) newHTTPRequest(ctx context.Context, req dav.DavRequest) (*http.Request, error) {
	u, err := s.resolve(req.URL)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, string(req.Method), u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range s.headers {
		hreq.Header.Set(k, v)
	}
	// The engine's own header for a name always wins over a configured one:
	// the first value it sets for a key replaces whatever's there, and only
	// a repeat of that same key (e.g. RFC 6638's repeatable Recipient) appends.
	seen := map[string]bool{}
	req.Headers.Each(func(k, v string) {
		if seen[k] {
			hreq.Header.Add(k, v)
		} else {
			hreq.Header.Set(k, v)
			seen[k] = true
		}
	})
	if hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", "caldav-go/1.0")
	}
	return hreq, nil
}

// execute runs the 401-challenge handshake described in spec.md §4.5 around
// a single logical DavRequest. It is shared by both shell variants; the
// only thing that differs between them is whether the caller passed a
// cancellable context.
func (s *session) execute(ctx context.Context, req dav.DavRequest) (dav.DavResponse, error) {
	build := func() (*http.Request, error) { return s.newHTTPRequest(ctx, req) }

	hreq, err := build()
	if err != nil {
		return dav.DavResponse{}, err
	}

	if scheme, ch, ok := s.negot.snapshot(); ok {
		if err := applyAuth(hreq, scheme, ch, s.creds); err != nil {
			return dav.DavResponse{}, err
		}
	}

	resp, err := s.roundTrip(hreq)
	if err != nil {
		return dav.DavResponse{}, err
	}
	if resp.Status != http.StatusUnauthorized {
		return resp, nil
	}

	offered := parseWWWAuthenticate(resp.Headers.Get("WWW-Authenticate"))
	if len(offered) == 0 {
		return dav.DavResponse{}, &AuthorizationError{URL: hreq.URL.String(), Reason: "no supported scheme offered"}
	}
	scheme, ch, ok := chooseScheme(offered, s.creds)
	if !ok {
		return dav.DavResponse{}, &AuthorizationError{URL: hreq.URL.String(), Reason: "no usable credentials for offered schemes"}
	}

	hreq2, err := build()
	if err != nil {
		return dav.DavResponse{}, err
	}
	if err := applyAuth(hreq2, scheme, ch, s.creds); err != nil {
		return dav.DavResponse{}, err
	}
	resp2, err := s.roundTrip(hreq2)
	if err != nil {
		return dav.DavResponse{}, err
	}
	if resp2.Status != http.StatusUnauthorized && resp2.Status != http.StatusForbidden {
		s.negot.remember(scheme, ch)
		return resp2, nil
	}

	// spec.md §4.5 step 5: one more retry assuming the credentials were
	// supplied in a different charset than the server expects.
	if resp2.Status == http.StatusUnauthorized {
		hreq3, err := build()
		if err == nil {
			decoded := s.creds
			decoded.Password = string([]rune(decoded.Password))
			if err := applyAuth(hreq3, scheme, ch, decoded); err == nil {
				if resp3, err := s.roundTrip(hreq3); err == nil && resp3.Status != http.StatusUnauthorized && resp3.Status != http.StatusForbidden {
					s.negot.remember(scheme, ch)
					return resp3, nil
				}
			}
		}
	}

	return dav.DavResponse{}, &AuthorizationError{URL: hreq.URL.String(), Reason: statusText(resp2.Status)}
}

func (s *session) roundTrip(hreq *http.Request) (dav.DavResponse, error) {
	hresp, err := s.client.Do(hreq)
	if err != nil {
		return dav.DavResponse{}, fmt.Errorf("transport: %s %s: %w", hreq.Method, hreq.URL, err)
	}
	defer hresp.Body.Close()

	body, err := io.ReadAll(hresp.Body)
	if err != nil {
		return dav.DavResponse{}, fmt.Errorf("transport: read body: %w", err)
	}
	h := &dav.Header{}
	for k := range hresp.Header {
		h.Set(k, hresp.Header.Get(k))
	}
	return dav.DavResponse{Status: hresp.StatusCode, Headers: h, Body: body}, nil
}
