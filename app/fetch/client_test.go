package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestClient_Get_SendsConditionalHeaders(t *testing.T) {
	var mu sync.Mutex
	var gotETag, gotModified, gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotETag = r.Header.Get("If-None-Match")
		gotModified = r.Header.Get("If-Modified-Since")
		gotUserAgent = r.Header.Get("User-Agent")
		w.Write([]byte("<rss></rss>"))
	}))
	defer server.Close()

	client := NewClient(server.Client(), "Test Agent/1.0")

	_, err := client.Get(context.Background(), server.URL, Options{
		ETag:         `"abc123"`,
		LastModified: "Mon, 02 Jan 2006 15:04:05 GMT",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotETag != `"abc123"` {
		t.Errorf("Expected If-None-Match header to be sent, got '%s'", gotETag)
	}
	if gotModified != "Mon, 02 Jan 2006 15:04:05 GMT" {
		t.Errorf("Expected If-Modified-Since header to be sent, got '%s'", gotModified)
	}
	if gotUserAgent != "Test Agent/1.0" {
		t.Errorf("Expected User-Agent to be sent, got '%s'", gotUserAgent)
	}
}

func TestClient_Get_OmitsConditionalHeadersWhenUnset(t *testing.T) {
	var mu sync.Mutex
	var hasETag, hasModified bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_, hasETag = r.Header["If-None-Match"]
		_, hasModified = r.Header["If-Modified-Since"]
		w.Write([]byte("<rss></rss>"))
	}))
	defer server.Close()

	client := NewClient(server.Client(), "Test Agent/1.0")

	_, err := client.Get(context.Background(), server.URL, Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if hasETag {
		t.Errorf("Expected no If-None-Match header on first fetch")
	}
	if hasModified {
		t.Errorf("Expected no If-Modified-Since header on first fetch")
	}
}

func TestClient_Get_CapturesValidators(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		w.Header().Set("Last-Modified", "Tue, 10 Feb 2026 10:00:00 GMT")
		w.Write([]byte("<rss>payload</rss>"))
	}))
	defer server.Close()

	client := NewClient(server.Client(), "Test Agent/1.0")

	result, err := client.Get(context.Background(), server.URL, Options{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.NotModified {
		t.Errorf("Expected NotModified to be false for a 200 response")
	}
	if string(result.Body) != "<rss>payload</rss>" {
		t.Errorf("Expected body to be returned, got '%s'", result.Body)
	}
	if result.ETag != `"v2"` {
		t.Errorf("Expected ETag to be captured, got '%s'", result.ETag)
	}
	if result.LastModified != "Tue, 10 Feb 2026 10:00:00 GMT" {
		t.Errorf("Expected Last-Modified to be captured, got '%s'", result.LastModified)
	}
}

func TestClient_Get_NotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("<rss></rss>"))
	}))
	defer server.Close()

	client := NewClient(server.Client(), "Test Agent/1.0")

	result, err := client.Get(context.Background(), server.URL, Options{ETag: `"v1"`})
	if err != nil {
		t.Fatalf("Expected no error for 304, got: %v", err)
	}

	if !result.NotModified {
		t.Errorf("Expected NotModified to be true for a 304 response")
	}
	if len(result.Body) != 0 {
		t.Errorf("Expected empty body for a 304 response")
	}
}

func TestClient_Get_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.Client(), "Test Agent/1.0")

	_, err := client.Get(context.Background(), server.URL, Options{})
	if err == nil {
		t.Fatalf("Expected error for 429 response")
	}

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("Expected RateLimitError, got: %v", err)
	}
	if rateErr.RetryAfter() != 7*time.Second {
		t.Errorf("Expected retry delay of 7s, got %s", rateErr.RetryAfter())
	}
}

func TestClient_Get_RateLimitedWithoutHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.Client(), "Test Agent/1.0")

	_, err := client.Get(context.Background(), server.URL, Options{})

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("Expected RateLimitError, got: %v", err)
	}
	if rateErr.RetryAfter() != 0 {
		t.Errorf("Expected zero delay when Retry-After is missing, got %s", rateErr.RetryAfter())
	}
}

func TestClient_Get_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.Client(), "Test Agent/1.0")

	_, err := client.Get(context.Background(), server.URL, Options{})
	if err == nil {
		t.Fatalf("Expected error for 500 response")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got: %v", err)
	}
	if statusErr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code 500, got %d", statusErr.Code)
	}
}

func TestParseRetryAfter_Seconds(t *testing.T) {
	if got := parseRetryAfter("120"); got != 120*time.Second {
		t.Errorf("Expected 120s, got %s", got)
	}
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	at := time.Now().Add(90 * time.Second).UTC()
	got := parseRetryAfter(at.Format(http.TimeFormat))

	if got < 80*time.Second || got > 90*time.Second {
		t.Errorf("Expected delay close to 90s, got %s", got)
	}
}

func TestParseRetryAfter_Invalid(t *testing.T) {
	cases := []string{"", "soon", "-5"}
	for _, value := range cases {
		if got := parseRetryAfter(value); got != 0 {
			t.Errorf("Expected zero delay for '%s', got %s", value, got)
		}
	}
}
