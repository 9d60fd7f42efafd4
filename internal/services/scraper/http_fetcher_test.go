package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/models"
)

func newTestHTTPFetcher(config HTTPFetcherConfig) *HTTPFetcher {
	return NewHTTPFetcher(config, arbor.NewLogger())
}

func TestHTTPFetcherFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	defer server.Close()

	fetcher := newTestHTTPFetcher(HTTPFetcherConfig{Timeout: 5 * time.Second})
	result := fetcher.Fetch(context.Background(), server.URL+"/p/1")

	if !result.OK() {
		t.Fatalf("fetch failed: %s %s", result.Kind, result.Detail)
	}
	page := result.Page
	if page.StatusCode != 200 {
		t.Errorf("status = %d", page.StatusCode)
	}
	if !strings.Contains(string(page.Body), "ok") {
		t.Errorf("body = %q", page.Body)
	}
	if !strings.HasPrefix(page.ContentType, "text/html") {
		t.Errorf("content type = %q", page.ContentType)
	}
	if page.Source != models.PriceSourceHTTP {
		t.Errorf("source = %s", page.Source)
	}
	if page.Elapsed <= 0 {
		t.Error("elapsed not recorded")
	}
}

func TestHTTPFetcherRotatesUserAgents(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.UserAgent())
		mu.Unlock()
	}))
	defer server.Close()

	fetcher := newTestHTTPFetcher(HTTPFetcherConfig{
		UserAgents: []string{"agent-a", "agent-b"},
		Timeout:    5 * time.Second,
	})
	for i := 0; i < 3; i++ {
		fetcher.Fetch(context.Background(), server.URL)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"agent-a", "agent-b", "agent-a"}
	if len(seen) != len(want) {
		t.Fatalf("requests = %d, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("request %d user agent = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestHTTPFetcherReturnsNonOKStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	result := newTestHTTPFetcher(HTTPFetcherConfig{}).Fetch(context.Background(), server.URL)
	if !result.OK() {
		t.Fatalf("transport succeeded, page expected: %s", result.Detail)
	}
	if result.Page.StatusCode != 404 {
		t.Errorf("status = %d, want 404", result.Page.StatusCode)
	}
}

func TestHTTPFetcherRedirectBound(t *testing.T) {
	var server *httptest.Server
	hops := 0
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, server.URL+fmt.Sprintf("/hop/%d", hops), http.StatusFound)
	}))
	defer server.Close()

	result := newTestHTTPFetcher(HTTPFetcherConfig{MaxRedirects: 3}).Fetch(context.Background(), server.URL)
	if result.OK() {
		t.Fatal("expected redirect bound failure")
	}
	if result.Kind != models.FailKindNetworkError {
		t.Errorf("kind = %s, want network_error", result.Kind)
	}
	if !strings.Contains(result.Detail, "redirect") {
		t.Errorf("detail = %q", result.Detail)
	}
}

func TestHTTPFetcherFollowsRedirectsWithinBound(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			http.Redirect(w, r, "/final", http.StatusMovedPermanently)
		case "/final":
			fmt.Fprint(w, "<html>done</html>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	result := newTestHTTPFetcher(HTTPFetcherConfig{MaxRedirects: 5}).Fetch(context.Background(), server.URL+"/start")
	if !result.OK() {
		t.Fatalf("fetch failed: %s %s", result.Kind, result.Detail)
	}
	if !strings.HasSuffix(result.Page.FinalURL, "/final") {
		t.Errorf("final URL = %q", result.Page.FinalURL)
	}
}

func TestHTTPFetcherBodyCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 1000))
	}))
	defer server.Close()

	result := newTestHTTPFetcher(HTTPFetcherConfig{MaxBodySize: 64}).Fetch(context.Background(), server.URL)
	if !result.OK() {
		t.Fatalf("fetch failed: %s", result.Kind)
	}
	if len(result.Page.Body) != 64 {
		t.Errorf("body length = %d, want capped at 64", len(result.Page.Body))
	}
}

func TestHTTPFetcherTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	result := newTestHTTPFetcher(HTTPFetcherConfig{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), server.URL)
	if result.OK() {
		t.Fatal("expected timeout failure")
	}
	if result.Kind != models.FailKindTimeout {
		t.Errorf("kind = %s, want timeout", result.Kind)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   models.FailKind
	}{
		{429, models.FailKindRateLimited},
		{403, models.FailKindBlocked},
		{451, models.FailKindBlocked},
		{500, models.FailKindNetworkError},
		{502, models.FailKindNetworkError},
		{503, models.FailKindNetworkError},
		{504, models.FailKindNetworkError},
		{404, models.FailKindHTTPStatus},
		{410, models.FailKindHTTPStatus},
		{401, models.FailKindHTTPStatus},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}
