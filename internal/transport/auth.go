// Package transport is the I/O shell: it executes dav.DavRequest values
// against a real HTTP connection and returns dav.DavResponse values. It
// never touches XML — that is the internal/dav package's job.
package transport

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// AuthScheme is a negotiated HTTP authentication scheme.
type AuthScheme int

const (
	AuthNone AuthScheme = iota
	AuthBasic
	AuthDigest
	AuthBearer
)

// Credentials holds whatever the caller supplied; AuthType may be AuthNone
// to mean "infer from the first 401".
type Credentials struct {
	Username string
	Password string
	Token    string // bearer token
	AuthType AuthScheme
}

func (c Credentials) hasPassword() bool { return c.Password != "" }
func (c Credentials) hasToken() bool    { return c.Token != "" }

// challenge is one parsed WWW-Authenticate offer.
type challenge struct {
	scheme string // "basic", "digest", "bearer"
	params map[string]string
}

// parseWWWAuthenticate splits a (possibly multi-valued) WWW-Authenticate
// header into individual challenges.
func parseWWWAuthenticate(header string) []challenge {
	if header == "" {
		return nil
	}
	var out []challenge
	for _, part := range splitChallenges(header) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sp := strings.IndexAny(part, " \t")
		var scheme, rest string
		if sp < 0 {
			scheme = part
		} else {
			scheme = part[:sp]
			rest = part[sp+1:]
		}
		out = append(out, challenge{
			scheme: strings.ToLower(scheme),
			params: parseAuthParams(rest),
		})
	}
	return out
}

// splitChallenges splits on commas that are not inside a quoted string.
func splitChallenges(s string) []string {
	var parts []string
	depth := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			depth = !depth
		case ',':
			if !depth {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	// Re-merge fragments that are actually "key=value" continuations of the
	// previous scheme (i.e. don't start a new "scheme " token); callers only
	// care about whole-challenge scheme detection, so a forgiving pass here
	// is sufficient in practice for basic/digest/bearer.
	var merged []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "=") && len(merged) > 0 && !looksLikeNewScheme(p) {
			merged[len(merged)-1] += ", " + p
		} else {
			merged = append(merged, p)
		}
	}
	return merged
}

func looksLikeNewScheme(p string) bool {
	for _, s := range []string{"basic", "digest", "bearer", "Basic", "Digest", "Bearer"} {
		if strings.HasPrefix(p, s) {
			return true
		}
	}
	return false
}

func parseAuthParams(s string) map[string]string {
	out := map[string]string{}
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		eq := strings.Index(kv, "=")
		if eq < 0 {
			continue
		}
		k := strings.TrimSpace(kv[:eq])
		v := strings.Trim(strings.TrimSpace(kv[eq+1:]), `"`)
		if k != "" {
			out[strings.ToLower(k)] = v
		}
	}
	return out
}

// chooseScheme implements the preference order in spec.md §4.5: digest >
// basic > bearer when a password is present, bearer when only a token is.
func chooseScheme(offered []challenge, creds Credentials) (AuthScheme, challenge, bool) {
	has := func(name string) (challenge, bool) {
		for _, c := range offered {
			if c.scheme == name {
				return c, true
			}
		}
		return challenge{}, false
	}
	if creds.hasPassword() {
		if c, ok := has("digest"); ok {
			return AuthDigest, c, true
		}
		if c, ok := has("basic"); ok {
			return AuthBasic, c, true
		}
	}
	if creds.hasToken() {
		if c, ok := has("bearer"); ok {
			return AuthBearer, c, true
		}
	}
	if creds.hasPassword() {
		if c, ok := has("bearer"); ok {
			return AuthBearer, c, true
		}
	}
	return AuthNone, challenge{}, false
}

// applyAuth signs req for the given scheme. For digest, challenge carries
// the realm/nonce/qop/opaque parsed from WWW-Authenticate.
func applyAuth(req *http.Request, scheme AuthScheme, ch challenge, creds Credentials) error {
	switch scheme {
	case AuthBasic:
		req.SetBasicAuth(creds.Username, creds.Password)
	case AuthBearer:
		token := creds.Token
		if token == "" {
			token = creds.Password
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case AuthDigest:
		header, err := buildDigestHeader(req, ch, creds)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", header)
	}
	return nil
}

func buildDigestHeader(req *http.Request, ch challenge, creds Credentials) (string, error) {
	realm := ch.params["realm"]
	nonce := ch.params["nonce"]
	opaque := ch.params["opaque"]
	qop := ch.params["qop"]
	algorithm := ch.params["algorithm"]
	if algorithm == "" {
		algorithm = "MD5"
	}
	if nonce == "" {
		return "", fmt.Errorf("transport: digest challenge missing nonce")
	}

	ha1 := md5hex(creds.Username + ":" + realm + ":" + creds.Password)
	ha2 := md5hex(req.Method + ":" + req.URL.RequestURI())

	cnonce, err := randomHex(8)
	if err != nil {
		return "", err
	}
	nc := "00000001"

	var response string
	if strings.Contains(qop, "auth") {
		response = md5hex(strings.Join([]string{ha1, nonce, nc, cnonce, "auth", ha2}, ":"))
	} else {
		response = md5hex(strings.Join([]string{ha1, nonce, ha2}, ":"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=%s`,
		creds.Username, realm, nonce, req.URL.RequestURI(), response, algorithm)
	if strings.Contains(qop, "auth") {
		fmt.Fprintf(&b, `, qop=auth, nc=%s, cnonce="%s"`, nc, cnonce)
	}
	if opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, opaque)
	}
	return b.String(), nil
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// AuthorizationError is returned when the 401/403 handshake exhausts its
// options (spec.md §6.4).
type AuthorizationError struct {
	URL    string
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "transport: authorization failed for " + e.URL + ": " + e.Reason
}

func statusText(code int) string {
	return strconv.Itoa(code) + " " + http.StatusText(code)
}
