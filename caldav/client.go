package caldav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/calendrierhub/caldav/icalcodec"
	"github.com/calendrierhub/caldav/internal/dav"
	"github.com/calendrierhub/caldav/internal/transport"
)

// Client is the facade tying the protocol engine, an I/O shell, the
// quirks profile, and the resource model together. It owns the HTTP
// session; resource-model objects hold only a back-reference to it.
type Client struct {
	engine dav.Engine
	shell  *transport.CooperativeShell
	codec  icalcodec.Codec
	quirks Quirks
	logger *slog.Logger

	baseURL url.URL

	mu        sync.Mutex
	principal *Principal
}

// NewClient resolves cfg (triggering RFC 6764 discovery when cfg.URL looks
// like an email/bare domain) and builds a ready-to-use Client. It performs
// no network calls beyond discovery itself.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	rawURL := cfg.URL
	if cfg.EnableRFC6764 && looksLikeDiscoveryTarget(rawURL) {
		info, err := Discover(ctx, rawURL, DiscoveryConfig{RequireTLS: cfg.RequireTLS, Logger: logger})
		if err != nil {
			return nil, err
		}
		rawURL = info.URL
		if cfg.Username == "" {
			cfg.Username = info.Username
		}
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("caldav: parse base url %q: %w", rawURL, err)
	}

	httpClient, err := cfg.httpClient()
	if err != nil {
		return nil, err
	}

	quirks := cfg.Quirks
	if cfg.Features != "" {
		quirks = QuirksByName(cfg.Features)
	}

	return &Client{
		engine:  dav.Engine{},
		shell:   transport.NewCooperativeShell(base, httpClient, cfg.credentials(), logger, cfg.Headers),
		codec:   icalcodec.NewGoICalCodec(),
		quirks:  quirks,
		logger:  logger,
		baseURL: *base,
	}, nil
}

func looksLikeDiscoveryTarget(s string) bool {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return false
	}
	return true
}

// do executes req against the default (non-cancellable) context. Use
// DoContext for the cooperative, cancellation-aware variant.
func (c *Client) do(req dav.DavRequest) (dav.DavResponse, error) {
	return c.shell.Execute(context.Background(), req)
}

// DoContext is the cooperative escape hatch: it executes a raw protocol
// engine request under ctx, so a caller who needs cancellation can drive
// the Sans-I/O engine directly without going through the resource model.
func (c *Client) DoContext(ctx context.Context, req dav.DavRequest) (dav.DavResponse, error) {
	return c.shell.Execute(ctx, req)
}

// Engine exposes the stateless protocol engine for callers that want to
// build requests directly.
func (c *Client) Engine() dav.Engine { return c.engine }

// BaseURL returns the client's current base URL (may change after
// calendar-home-set resolution on servers that load-balance by pointing to a
// different host, e.g. iCloud).
func (c *Client) BaseURL() string { return c.baseURL.String() }

// setBaseURL rehomes the client to base. Some servers (notably iCloud) load
// balance by redirecting a well-known account to a host-specific endpoint;
// once that's discovered (typically while resolving calendar-home-set),
// later requests built from relative paths should resolve against the new
// host rather than the one the client was originally constructed with.
func (c *Client) setBaseURL(base url.URL) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = base
	c.shell.SetBase(&base)
}

// Principal resolves and caches the current-user-principal. If url is
// empty, it is looked up via PROPFIND against BaseURL().
func (c *Client) Principal(url string) (*Principal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal != nil && url == "" {
		return c.principal, nil
	}
	if url != "" {
		p := &Principal{DavObject: newDavObject(c, url)}
		c.principal = p
		return p, nil
	}

	obj := newDavObject(c, c.baseURL.String())
	v, err := obj.GetProperty(dav.QCurrentUserPrincipal, false)
	if err != nil {
		return nil, err
	}
	href := v.AsText()
	if href == "" {
		return nil, &DiscoveryError{Domain: c.baseURL.Hostname(), Reason: "server did not return current-user-principal"}
	}
	resolved, err := ParseURL(c.baseURL.String())
	if err != nil {
		return nil, err
	}
	principalURL, err := resolved.Join(href)
	if err != nil {
		return nil, err
	}
	p := &Principal{DavObject: newDavObject(c, principalURL.Canonicalize().String())}
	c.principal = p
	return p, nil
}

// Calendar returns a Calendar handle for url without any network call.
func (c *Client) Calendar(url string) *Calendar {
	return &Calendar{DavObject: newDavObject(c, url)}
}

// CheckDAVSupport issues an OPTIONS request and returns the raw DAV
// header value.
func (c *Client) CheckDAVSupport() (string, error) {
	req := c.engine.OptionsRequest(c.baseURL.String())
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	return resp.Headers.Get("DAV"), nil
}

// CheckCalDAVSupport probes whether the server advertises calendar-access
// in its DAV header.
func (c *Client) CheckCalDAVSupport() (bool, error) {
	dav, err := c.CheckDAVSupport()
	if err != nil {
		return false, err
	}
	return containsToken(dav, "calendar-access"), nil
}

// CheckSchedulingSupport probes for calendar-auto-schedule.
func (c *Client) CheckSchedulingSupport() (bool, error) {
	header, err := c.CheckDAVSupport()
	if err != nil {
		return false, err
	}
	return containsToken(header, "calendar-auto-schedule"), nil
}

func containsToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.TrimSpace(part) == token {
			return true
		}
	}
	return false
}
