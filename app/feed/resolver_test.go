package feed

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestVariants(t *testing.T) {
	variants := Variants("https://example.org/rss?seccion=V#top", "https://r.jina.ai/", 42)

	expected := []string{
		"https://example.org/rss?seccion=V&_cb=42",
		"http://example.org/rss?seccion=V&_cb=42",
		"https://www.example.org/rss?seccion=V&_cb=42",
		"http://www.example.org/rss?seccion=V&_cb=42",
		"https://r.jina.ai/https://example.org/rss?seccion=V&_cb=42",
		"https://r.jina.ai/http://example.org/rss?seccion=V&_cb=42",
		"https://r.jina.ai/https://www.example.org/rss?seccion=V&_cb=42",
		"https://r.jina.ai/http://www.example.org/rss?seccion=V&_cb=42",
	}

	if len(variants) != len(expected) {
		t.Fatalf("Expected %d variants, got %d: %v", len(expected), len(variants), variants)
	}
	for i := range expected {
		if variants[i] != expected[i] {
			t.Errorf("Variant %d: expected %s, got %s", i, expected[i], variants[i])
		}
	}
}

func TestVariants_HostToggle(t *testing.T) {
	tests := []struct {
		url      string
		expected []string
	}{
		{
			url: "http://www.boe.es/rss",
			expected: []string{
				"http://www.boe.es/rss?_cb=1",
				"https://www.boe.es/rss?_cb=1",
				"http://boe.es/rss?_cb=1",
				"https://boe.es/rss?_cb=1",
			},
		},
		{
			url: "http://127.0.0.1:8080/feed",
			expected: []string{
				"http://127.0.0.1:8080/feed?_cb=1",
				"https://127.0.0.1:8080/feed?_cb=1",
			},
		},
		{
			url: "https://www.es/feed",
			expected: []string{
				"https://www.es/feed?_cb=1",
				"http://www.es/feed?_cb=1",
			},
		},
	}

	for _, test := range tests {
		t.Run(test.url, func(t *testing.T) {
			variants := Variants(test.url, "", 1)
			if strings.Join(variants, " ") != strings.Join(test.expected, " ") {
				t.Errorf("Expected %v, got %v", test.expected, variants)
			}
		})
	}
}

func TestVariants_Deduplicates(t *testing.T) {
	variants := Variants("ftp://example.org/feed", "", 7)

	seen := map[string]bool{}
	for _, v := range variants {
		if seen[v] {
			t.Errorf("Duplicate variant %s", v)
		}
		seen[v] = true
	}
	if len(variants) != 2 {
		t.Errorf("Expected host toggle only for unknown scheme, got %v", variants)
	}
}

// newRoutingClient sends https traffic to tlsServer and http traffic to
// plainServer regardless of the requested host.
func newRoutingClient(tlsServer, plainServer *httptest.Server) *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if strings.HasSuffix(addr, ":443") {
					return dialer.DialContext(ctx, network, tlsServer.Listener.Addr().String())
				}
				return dialer.DialContext(ctx, network, plainServer.Listener.Addr().String())
			},
		},
	}
}

func TestResolverFallsBackFromHTMLInterstitial(t *testing.T) {
	var interstitialHits int
	tlsServer := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		interstitialHits++
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<!DOCTYPE html><html><body>Please enable JavaScript</body></html>"))
	}))
	defer tlsServer.Close()

	var gotHeaders http.Header
	plainServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssFixture))
	}))
	defer plainServer.Close()

	resolver := NewResolver(newRoutingClient(tlsServer, plainServer), NewParser(), "test-agent", "")
	source := &Source{Code: "ES-BOE", Kind: KindRSS, URL: "https://feeds.example.test/rss"}

	data, err := resolver.Resolve(context.Background(), source)
	if err != nil {
		t.Fatalf("Expected fallback to succeed, got %v", err)
	}
	if string(data) != rssFixture {
		t.Errorf("Expected XML bytes from http variant")
	}
	if interstitialHits != 1 {
		t.Errorf("Expected exactly one interstitial attempt, got %d", interstitialHits)
	}

	if gotHeaders.Get("User-Agent") != "test-agent" {
		t.Errorf("Expected User-Agent 'test-agent', got '%s'", gotHeaders.Get("User-Agent"))
	}
	if !strings.Contains(gotHeaders.Get("Accept"), "application/rss+xml") {
		t.Errorf("Expected feed Accept header, got '%s'", gotHeaders.Get("Accept"))
	}
	if gotHeaders.Get("Referer") != "https://feeds.example.test/" {
		t.Errorf("Expected origin referer, got '%s'", gotHeaders.Get("Referer"))
	}
}

func TestResolverFallsBackFromNonFeedXML(t *testing.T) {
	var errorHits int
	tlsServer := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errorHits++
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`))
	}))
	defer tlsServer.Close()

	plainServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssFixture))
	}))
	defer plainServer.Close()

	resolver := NewResolver(newRoutingClient(tlsServer, plainServer), NewParser(), "test-agent", "")
	source := &Source{Code: "ES-BOE", Kind: KindRSS, URL: "https://feeds.example.test/rss"}

	data, err := resolver.Resolve(context.Background(), source)
	if err != nil {
		t.Fatalf("Expected fallback to succeed, got %v", err)
	}
	if string(data) != rssFixture {
		t.Errorf("Expected feed bytes from http variant")
	}
	if errorHits != 1 {
		t.Errorf("Expected exactly one error document attempt, got %d", errorHits)
	}
}

func TestResolverRejections(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		status  int
		body    string
		wantErr bool
	}{
		{"valid rss", KindRSS, http.StatusOK, rssFixture, false},
		{"valid json", KindJSON, http.StatusOK, `[{"title": "x"}]`, false},
		{"server error", KindRSS, http.StatusBadGateway, rssFixture, true},
		{"not found", KindRSS, http.StatusNotFound, rssFixture, true},
		{"empty body", KindRSS, http.StatusOK, "  ", true},
		{"html", KindRSS, http.StatusOK, "<html><body>blocked</body></html>", true},
		{"json envelope for xml", KindRSS, http.StatusOK, `{"error": "forbidden"}`, true},
		{"xml for json", KindJSON, http.StatusOK, rssFixture, true},
		{"unparseable xml", KindAtom, http.StatusOK, `<?xml version="1.0"?>`, true},
		{"non-feed xml", KindRSS, http.StatusOK, `<?xml version="1.0"?><Error><Code>AccessDenied</Code></Error>`, true},
		{"truncated rss", KindRSS, http.StatusOK, `<rss version="2.0"><channel><item><title>A</title></item><item><title>B`, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				w.Write([]byte(test.body))
			}))
			defer server.Close()

			resolver := NewResolver(server.Client(), nil, "", "")
			source := &Source{Code: "T", Kind: test.kind, URL: server.URL + "/feed"}

			data, err := resolver.Resolve(context.Background(), source)
			if test.wantErr {
				var fetchFailure *FetchFailure
				if !errors.As(err, &fetchFailure) {
					t.Fatalf("Expected *FetchFailure, got %v", err)
				}
				if fetchFailure.Source != "T" {
					t.Errorf("Expected source T, got %s", fetchFailure.Source)
				}
				if len(fetchFailure.Attempts) == 0 || fetchFailure.Attempts[0].URL == "" || fetchFailure.Attempts[0].Reason == "" {
					t.Errorf("Expected recorded attempts, got %+v", fetchFailure.Attempts)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if string(data) != test.body {
				t.Errorf("Expected body to be returned unchanged")
			}
		})
	}
}

func TestResolverUsesProxyAsLastResort(t *testing.T) {
	var proxied string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/proxy/") {
			proxied = r.URL.Path
			w.Write([]byte(rssFixture))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	resolver := NewResolver(server.Client(), nil, "", server.URL+"/proxy/")
	source := &Source{Code: "T", Kind: KindRSS, URL: server.URL + "/feed"}

	if _, err := resolver.Resolve(context.Background(), source); err != nil {
		t.Fatalf("Expected proxy variant to succeed, got %v", err)
	}
	if !strings.HasPrefix(proxied, "/proxy/http:/") {
		t.Errorf("Expected proxied request for the source URL, got %s", proxied)
	}
}

func TestResolverHonoursCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssFixture))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resolver := NewResolver(server.Client(), nil, "", "")
	_, err := resolver.Resolve(ctx, &Source{Code: "T", Kind: KindRSS, URL: server.URL})

	var fetchFailure *FetchFailure
	if !errors.As(err, &fetchFailure) {
		t.Fatalf("Expected *FetchFailure, got %v", err)
	}
	if len(fetchFailure.Attempts) != 1 {
		t.Errorf("Expected a single aborted attempt, got %d", len(fetchFailure.Attempts))
	}
}
