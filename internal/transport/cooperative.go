package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/calendrierhub/caldav/internal/dav"
)

// ErrCancelled is returned by CooperativeShell.Execute when ctx is
// cancelled while an HTTP round trip is in flight; the in-flight request is
// aborted on a best-effort basis (net/http tears down the connection once
// its context is done).
var ErrCancelled = errors.New("transport: operation cancelled")

// CooperativeShell is the context-suspending counterpart to BlockingShell:
// every outbound HTTP call is a suspension point the caller can cancel.
// Both shells drive the same dav.Engine output; only the I/O boundary
// differs.
type CooperativeShell struct {
	s *session
}

// NewCooperativeShell builds a shell rooted at base, authenticating with
// creds when the server challenges for it. headers, when non-nil, are
// applied to every outgoing request before protocol-specific headers, so a
// caller-supplied header never shadows one the engine itself depends on.
func NewCooperativeShell(base *url.URL, client *http.Client, creds Credentials, logger *slog.Logger, headers map[string]string) *CooperativeShell {
	return &CooperativeShell{s: newSession(client, base, creds, logger, headers)}
}

// SetBase rehomes the shell so subsequent relative-path requests resolve
// against base instead of the URL it was constructed with.
func (c *CooperativeShell) SetBase(base *url.URL) {
	c.s.setBase(base)
}

// Execute runs req under ctx, aborting the in-flight request (and any
// retry) as soon as ctx is cancelled or its deadline passes.
func (c *CooperativeShell) Execute(ctx context.Context, req dav.DavRequest) (dav.DavResponse, error) {
	resp, err := c.s.execute(ctx, req)
	if err != nil && ctx.Err() != nil {
		return dav.DavResponse{}, ErrCancelled
	}
	return resp, err
}
