package caldav

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// redirectingTransport forwards every request to a fixed test-server URL
// regardless of the original host, so well-known discovery tests never
// touch the real network.
type redirectingTransport struct {
	target *url.URL
}

func (rt redirectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.URL.Scheme = rt.target.Scheme
	cloned.URL.Host = rt.target.Host
	cloned.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(cloned)
}

type stubResolver struct {
	srv map[string][]*net.SRV
	txt map[string][]string
}

func (s *stubResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	addrs, ok := s.srv[name]
	if !ok {
		return "", nil, &net.DNSError{Err: "no such host", Name: name}
	}
	return name, addrs, nil
}

func (s *stubResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return s.txt[name], nil
}

func TestDiscover_SRVSuccess(t *testing.T) {
	resolver := &stubResolver{
		srv: map[string][]*net.SRV{
			"_caldavs._tcp.example.com": {
				{Target: "caldav.example.com.", Port: 8443, Priority: 0, Weight: 0},
			},
		},
		txt: map[string][]string{
			"_caldavs._tcp.example.com": {"path=/dav/"},
		},
	}
	info, err := Discover(context.Background(), "alice@example.com", DiscoveryConfig{
		Resolver:   resolver,
		RequireTLS: true,
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if info.Hostname != "caldav.example.com" || info.Port != 8443 {
		t.Fatalf("info = %+v", info)
	}
	if info.URL != "https://caldav.example.com:8443/dav/" {
		t.Fatalf("URL = %q", info.URL)
	}
	if info.Username != "alice" {
		t.Fatalf("Username = %q", info.Username)
	}
	if info.Source != "srv" {
		t.Fatalf("Source = %q", info.Source)
	}
}

func TestDiscover_RejectsCrossDomainSRVTarget(t *testing.T) {
	resolver := &stubResolver{
		srv: map[string][]*net.SRV{
			"_caldavs._tcp.example.com": {
				{Target: "evil.example.net.", Port: 443},
			},
		},
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()
	tsURL, _ := url.Parse(ts.URL)

	_, err := Discover(context.Background(), "alice@example.com", DiscoveryConfig{
		Resolver:   resolver,
		RequireTLS: true,
		Client:     &http.Client{Transport: redirectingTransport{target: tsURL}},
	})
	if err == nil {
		t.Fatal("expected discovery to fail when SRV target is rejected and well-known 404s")
	}
}

func TestDiscover_FallsBackToWellKnown(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	tsURL, _ := url.Parse(ts.URL)

	resolver := &stubResolver{}
	info, err := Discover(context.Background(), "nonexistent-domain.invalid", DiscoveryConfig{
		Resolver:   resolver,
		RequireTLS: true,
		Client:     &http.Client{Transport: redirectingTransport{target: tsURL}},
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if info.Source != "well-known" {
		t.Fatalf("Source = %q", info.Source)
	}
}

func TestDiscover_NoSRVAndWellKnownFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()
	tsURL, _ := url.Parse(ts.URL)

	resolver := &stubResolver{}
	_, err := Discover(context.Background(), "nonexistent-domain.invalid", DiscoveryConfig{
		Resolver:   resolver,
		RequireTLS: true,
		Client:     &http.Client{Transport: redirectingTransport{target: tsURL}},
	})
	if err == nil {
		t.Fatal("expected an error: no SRV records and no reachable well-known endpoint")
	}
	var discErr *DiscoveryError
	if !asDiscoveryError(err, &discErr) {
		t.Fatalf("expected *DiscoveryError, got %T: %v", err, err)
	}
}

func asDiscoveryError(err error, target **DiscoveryError) bool {
	if de, ok := err.(*DiscoveryError); ok {
		*target = de
		return true
	}
	return false
}

func TestParseTXTPath(t *testing.T) {
	path, ok := parseTXTPath([]string{"path=/dav/calendars/ extra=ignored"})
	if !ok || path != "/dav/calendars/" {
		t.Fatalf("parseTXTPath() = %q, %v", path, ok)
	}
	if _, ok := parseTXTPath([]string{"nothing-here"}); ok {
		t.Fatal("expected ok=false with no path field")
	}
}

func TestSameDomainOrSubdomain(t *testing.T) {
	if !sameDomainOrSubdomain("caldav.example.com", "example.com") {
		t.Fatal("subdomain should match")
	}
	if !sameDomainOrSubdomain("EXAMPLE.com.", "example.com") {
		t.Fatal("case/trailing-dot should be ignored")
	}
	if sameDomainOrSubdomain("example.net", "example.com") {
		t.Fatal("different domain must not match")
	}
}

func TestBuildServiceURL_OmitsDefaultPort(t *testing.T) {
	if got := buildServiceURL("https", "example.com", 443, "/dav/", true); got != "https://example.com/dav/" {
		t.Fatalf("buildServiceURL() = %q", got)
	}
	if got := buildServiceURL("https", "example.com", 8443, "/dav/", true); got != "https://example.com:8443/dav/" {
		t.Fatalf("buildServiceURL() = %q", got)
	}
}
