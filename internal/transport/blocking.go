package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/calendrierhub/caldav/internal/dav"
)

// BlockingShell executes DavRequest values synchronously against a real
// HTTP connection. It is the simpler of the two shells: every call blocks
// the calling goroutine until the response (or a transport error) is in
// hand.
type BlockingShell struct {
	s *session
}

// NewBlockingShell builds a shell rooted at base, authenticating with creds
// when the server challenges for it. A nil client gets http.DefaultClient's
// behavior via a fresh *http.Client{}; a nil logger discards output. headers,
// when non-nil, are applied to every outgoing request before
// protocol-specific headers.
func NewBlockingShell(base *url.URL, client *http.Client, creds Credentials, logger *slog.Logger, headers map[string]string) *BlockingShell {
	return &BlockingShell{s: newSession(client, base, creds, logger, headers)}
}

// Execute runs req to completion under the 401-challenge handshake
// described in internal/transport/shell.go: one signed retry, plus one
// more if that retry is answered with a second 401.
func (b *BlockingShell) Execute(req dav.DavRequest) (dav.DavResponse, error) {
	return b.s.execute(context.Background(), req)
}
