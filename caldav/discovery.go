package caldav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// DNSResolver is the seam for RFC 6764 SRV/TXT lookups, so discovery tests
// can supply a fake resolver instead of touching real DNS.
type DNSResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (cname string, addrs []*net.SRV, err error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// ServiceInfo is the resolved outcome of discovery.
type ServiceInfo struct {
	URL      string
	Hostname string
	Port     int
	Path     string
	TLS      bool
	Source   string // "srv", "txt", or "well-known"
	Username string
}

// DiscoveryConfig controls the DNS/HTTP seams and safety policy used by
// Discover; DefaultDiscoveryConfig wires real resolvers.
type DiscoveryConfig struct {
	Resolver       DNSResolver
	Client         *http.Client
	Logger         *slog.Logger
	RequireTLS     bool
	// VerifyDNSSEC is accepted for interface compatibility with callers
	// that pass a DNSSEC policy; net.Resolver does not expose RRSIG
	// records, so this is not currently enforced.
	VerifyDNSSEC bool
}

func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Resolver:   &net.Resolver{},
		Client:     &http.Client{},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		RequireTLS: true,
	}
}

// Discover resolves identifier (an email address, a bare domain, or a URL)
// to a CalDAV ServiceInfo per RFC 6764 §6, trying DNS SRV first and
// falling back to .well-known.
func Discover(ctx context.Context, identifier string, cfg DiscoveryConfig) (ServiceInfo, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	domain, username := splitIdentifier(identifier)
	if domain == "" {
		return ServiceInfo{}, &DiscoveryError{Domain: identifier, Reason: "could not extract a domain"}
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = &net.Resolver{}
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	prefixes := []struct {
		name string
		tls  bool
	}{{"_caldavs._tcp.", true}}
	if !cfg.RequireTLS {
		prefixes = append(prefixes, struct {
			name string
			tls  bool
		}{"_caldav._tcp.", false})
	}

	for _, pfx := range prefixes {
		host := pfx.name + domain
		logger.Debug("caldav: looking up SRV", "host", host)
		_, addrs, err := resolver.LookupSRV(ctx, "", "", host)
		if err != nil || len(addrs) == 0 {
			logger.Debug("caldav: SRV lookup failed, trying next", "host", host, "error", err)
			continue
		}

		sort.Slice(addrs, func(i, j int) bool {
			if addrs[i].Priority != addrs[j].Priority {
				return addrs[i].Priority < addrs[j].Priority
			}
			return addrs[i].Weight > addrs[j].Weight
		})

		var target *net.SRV
		for _, a := range addrs {
			t := strings.TrimSuffix(a.Target, ".")
			if !sameDomainOrSubdomain(t, domain) {
				logger.Debug("caldav: rejecting cross-domain SRV target", "target", t, "domain", domain)
				continue
			}
			target = a
			break
		}
		if target == nil {
			continue
		}

		path := "/"
		if txts, err := resolver.LookupTXT(ctx, host); err == nil {
			if p, ok := parseTXTPath(txts); ok {
				path = p
			}
		}

		scheme := "http"
		if pfx.tls {
			scheme = "https"
		}
		hostname := strings.TrimSuffix(target.Target, ".")
		info := ServiceInfo{
			Hostname: hostname,
			Port:     int(target.Port),
			Path:     path,
			TLS:      pfx.tls,
			Source:   "srv",
			Username: username,
		}
		info.URL = buildServiceURL(scheme, hostname, int(target.Port), path, pfx.tls)
		return info, nil
	}

	return discoverWellKnown(ctx, client, domain, username, cfg.RequireTLS, logger)
}

func splitIdentifier(identifier string) (domain, username string) {
	if strings.Contains(identifier, "@") && !strings.Contains(identifier, "://") {
		parts := strings.SplitN(identifier, "@", 2)
		return parts[1], parts[0]
	}
	if u, err := url.Parse(identifier); err == nil && u.Host != "" {
		return u.Hostname(), ""
	}
	return identifier, ""
}

func sameDomainOrSubdomain(host, domain string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func parseTXTPath(txts []string) (string, bool) {
	for _, txt := range txts {
		for _, field := range strings.Fields(txt) {
			if strings.HasPrefix(field, "path=") {
				return strings.TrimPrefix(field, "path="), true
			}
		}
	}
	return "", false
}

func buildServiceURL(scheme, host string, port int, path string, isTLS bool) string {
	defaultPort := 80
	if isTLS {
		defaultPort = 443
	}
	hostport := host
	if port != 0 && port != defaultPort {
		hostport = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + hostport + path
}

func discoverWellKnown(ctx context.Context, client *http.Client, domain, username string, requireTLS bool, logger *slog.Logger) (ServiceInfo, error) {
	scheme := "https"
	if !requireTLS {
		scheme = "http"
	}
	wellKnown := scheme + "://" + domain + "/.well-known/caldav"
	logger.Debug("caldav: trying well-known", "url", wellKnown)

	noRedirect := &http.Client{
		Transport: client.Transport,
		Timeout:   client.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return ServiceInfo{}, &DiscoveryError{Domain: domain, Reason: err.Error()}
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return ServiceInfo{}, &DiscoveryError{Domain: domain, Reason: fmt.Sprintf("well-known request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		u, err := url.Parse(loc)
		if err != nil {
			return ServiceInfo{}, &DiscoveryError{Domain: domain, Reason: "invalid redirect location"}
		}
		if !sameDomainOrSubdomain(u.Hostname(), domain) {
			return ServiceInfo{}, &DiscoveryError{Domain: domain, Reason: "well-known redirect left the domain"}
		}
		return ServiceInfo{
			URL:      u.String(),
			Hostname: u.Hostname(),
			Path:     u.Path,
			TLS:      u.Scheme == "https",
			Source:   "well-known",
			Username: username,
		}, nil
	}
	if resp.StatusCode == http.StatusOK {
		return ServiceInfo{
			URL:      wellKnown,
			Hostname: domain,
			Path:     "/.well-known/caldav",
			TLS:      scheme == "https",
			Source:   "well-known",
			Username: username,
		}, nil
	}
	return ServiceInfo{}, &DiscoveryError{Domain: domain, Reason: fmt.Sprintf("well-known returned HTTP %d", resp.StatusCode)}
}
