package caldav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestNewClient_AppliesConfiguredHeadersToEveryRequest(t *testing.T) {
	var gotCustom, gotAccept string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCustom = r.Header.Get("X-Api-Key")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := DefaultClientConfig(ts.URL)
	cfg.EnableRFC6764 = false
	cfg.Headers = map[string]string{"X-Api-Key": "secret-token"}

	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	req := client.Engine().PropfindRequest("/", nil, 0)
	if _, err := client.do(req); err != nil {
		t.Fatalf("do: %v", err)
	}

	if gotCustom != "secret-token" {
		t.Fatalf("X-Api-Key = %q, want %q", gotCustom, "secret-token")
	}
	if gotAccept == "" {
		t.Fatal("expected engine-set Accept header to survive alongside custom headers")
	}
}

func TestNewClient_EngineHeaderWinsOverConfiguredHeader(t *testing.T) {
	var gotContentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := DefaultClientConfig(ts.URL)
	cfg.EnableRFC6764 = false
	cfg.Headers = map[string]string{"Content-Type": "text/plain"}

	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	req := client.Engine().PutRequest("/cal/1.ics", []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), "", false)
	if _, err := client.do(req); err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotContentType == "text/plain" {
		t.Fatalf("engine-set header did not win: Content-Type = %q", gotContentType)
	}
}

func TestClient_SetBaseURL_RehomesSubsequentRelativeRequests(t *testing.T) {
	var gotHost string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer other.Close()

	client := newTestClient(t, ts)
	otherBase, err := url.Parse(other.URL)
	if err != nil {
		t.Fatalf("parse other url: %v", err)
	}

	client.setBaseURL(*otherBase)
	if client.BaseURL() != other.URL {
		t.Fatalf("BaseURL = %q, want %q", client.BaseURL(), other.URL)
	}

	if _, err := client.do(client.Engine().OptionsRequest("/cal/")); err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotHost != otherBase.Host {
		t.Fatalf("request went to %q, want rehomed host %q", gotHost, otherBase.Host)
	}
}
