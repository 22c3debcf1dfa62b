package transport

import (
	"net/http"
	"strings"
	"testing"
)

func TestParseWWWAuthenticate_MultipleSchemes(t *testing.T) {
	challenges := parseWWWAuthenticate(`Digest realm="caldav", nonce="abc123", qop="auth", Basic realm="caldav"`)
	if len(challenges) != 2 {
		t.Fatalf("expected 2 challenges, got %d: %+v", len(challenges), challenges)
	}
	if challenges[0].scheme != "digest" || challenges[0].params["nonce"] != "abc123" {
		t.Fatalf("challenges[0] = %+v", challenges[0])
	}
	if challenges[1].scheme != "basic" {
		t.Fatalf("challenges[1] = %+v", challenges[1])
	}
}

func TestParseWWWAuthenticate_Empty(t *testing.T) {
	if got := parseWWWAuthenticate(""); got != nil {
		t.Fatalf("expected nil for an empty header, got %+v", got)
	}
}

func TestChooseScheme_PrefersDigestOverBasic(t *testing.T) {
	offered := []challenge{{scheme: "basic"}, {scheme: "digest"}}
	scheme, _, ok := chooseScheme(offered, Credentials{Username: "alice", Password: "secret"})
	if !ok || scheme != AuthDigest {
		t.Fatalf("chooseScheme() = %v, %v", scheme, ok)
	}
}

func TestChooseScheme_FallsBackToBasic(t *testing.T) {
	offered := []challenge{{scheme: "basic"}}
	scheme, _, ok := chooseScheme(offered, Credentials{Username: "alice", Password: "secret"})
	if !ok || scheme != AuthBasic {
		t.Fatalf("chooseScheme() = %v, %v", scheme, ok)
	}
}

func TestChooseScheme_BearerForTokenOnly(t *testing.T) {
	offered := []challenge{{scheme: "bearer"}}
	scheme, _, ok := chooseScheme(offered, Credentials{Token: "xyz"})
	if !ok || scheme != AuthBearer {
		t.Fatalf("chooseScheme() = %v, %v", scheme, ok)
	}
}

func TestChooseScheme_NoUsableCredentials(t *testing.T) {
	offered := []challenge{{scheme: "digest"}}
	_, _, ok := chooseScheme(offered, Credentials{})
	if ok {
		t.Fatal("expected ok=false with no credentials at all")
	}
}

func TestApplyAuth_Basic(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://example.com/cal/", nil)
	if err := applyAuth(req, AuthBasic, challenge{}, Credentials{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("applyAuth: %v", err)
	}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "alice" || pass != "secret" {
		t.Fatalf("BasicAuth() = %q, %q, %v", user, pass, ok)
	}
}

func TestApplyAuth_DigestRequiresNonce(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://example.com/cal/", nil)
	err := applyAuth(req, AuthDigest, challenge{params: map[string]string{"realm": "caldav"}}, Credentials{Username: "a", Password: "b"})
	if err == nil {
		t.Fatal("expected an error when the digest challenge has no nonce")
	}
}

func TestApplyAuth_DigestBuildsResponse(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://example.com/cal/work.ics", nil)
	ch := challenge{params: map[string]string{"realm": "caldav", "nonce": "abc123", "qop": "auth"}}
	if err := applyAuth(req, AuthDigest, ch, Credentials{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("applyAuth: %v", err)
	}
	header := req.Header.Get("Authorization")
	if header == "" {
		t.Fatal("expected an Authorization header")
	}
	if !strings.Contains(header, `username="alice"`) || !strings.Contains(header, `nonce="abc123"`) || !strings.Contains(header, "qop=auth") {
		t.Fatalf("Authorization header missing expected fields: %s", header)
	}
}
