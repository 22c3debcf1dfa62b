package caldav

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/calendrierhub/caldav/internal/transport"
)

// ClientConfig is the input to NewClient. URL may be a full URL, an email
// address, or a bare domain — the latter two trigger RFC 6764 discovery.
type ClientConfig struct {
	URL      string
	Username string
	Password string
	// AuthType optionally pins the scheme instead of inferring it from
	// the first 401 ("basic", "digest", "bearer").
	AuthType string
	Token    string

	Timeout time.Duration

	SSLVerifyCert bool
	SSLCABundle   string
	SSLCertFile   string
	SSLKeyFile    string

	Proxy string
	// Headers are applied to every outgoing request, before any
	// protocol-specific header the engine itself sets (which always wins
	// on a name collision).
	Headers map[string]string

	// Features names a built-in quirks profile (see quirks.go). Leave
	// empty for defaults.
	Features string
	Quirks   Quirks

	EnableRFC6764 bool
	RequireTLS    bool

	Logger *slog.Logger
}

// DefaultClientConfig returns sane defaults: TLS verification on, RFC 6764
// discovery on, TLS required for discovery, a 30s timeout.
func DefaultClientConfig(rawURL string) ClientConfig {
	return ClientConfig{
		URL:           rawURL,
		Timeout:       30 * time.Second,
		SSLVerifyCert: true,
		EnableRFC6764: true,
		RequireTLS:    true,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (c ClientConfig) authScheme() transport.AuthScheme {
	switch c.AuthType {
	case "basic":
		return transport.AuthBasic
	case "digest":
		return transport.AuthDigest
	case "bearer":
		return transport.AuthBearer
	default:
		return transport.AuthNone
	}
}

func (c ClientConfig) credentials() transport.Credentials {
	return transport.Credentials{
		Username: c.Username,
		Password: c.Password,
		Token:    c.Token,
		AuthType: c.authScheme(),
	}
}

func (c ClientConfig) httpClient() (*http.Client, error) {
	tr := &http.Transport{}
	tlsCfg := &tls.Config{InsecureSkipVerify: !c.SSLVerifyCert}
	if c.SSLCABundle != "" {
		pool, err := loadCertPool(c.SSLCABundle)
		if err == nil {
			tlsCfg.RootCAs = pool
		}
	}
	if c.SSLCertFile != "" && c.SSLKeyFile != "" {
		if cert, err := tls.LoadX509KeyPair(c.SSLCertFile, c.SSLKeyFile); err == nil {
			tlsCfg.Certificates = []tls.Certificate{cert}
		}
	}
	tr.TLSClientConfig = tlsCfg
	if c.Proxy != "" {
		if p, err := url.Parse(c.Proxy); err == nil {
			tr.Proxy = http.ProxyURL(p)
		}
	}
	return &http.Client{Transport: tr, Timeout: c.Timeout}, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool.AppendCertsFromPEM(pem)
	return pool, nil
}
