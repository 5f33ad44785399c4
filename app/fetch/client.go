package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// RateLimitError is returned for HTTP 429 responses. Delay carries the
// parsed Retry-After value, zero when the server sent none.
type RateLimitError struct {
	Delay time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Delay > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.Delay)
	}
	return "rate limited"
}

func (e *RateLimitError) RetryAfter() time.Duration {
	return e.Delay
}

// StatusError is returned for non-2xx responses other than 304 and 429
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.Code, e.Status)
}

// Options carries the conditional request validators from the previous
// fetch of the same resource
type Options struct {
	ETag         string
	LastModified string
}

// Result is a completed fetch. When NotModified is set the body is empty
// and the stored copy is still current.
type Result struct {
	Body         []byte
	StatusCode   int
	NotModified  bool
	ETag         string
	LastModified string
}

type Client struct {
	httpClient *http.Client
	userAgent  string
}

func NewClient(httpClient *http.Client, userAgent string) *Client {
	return &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

// Get performs a conditional GET. Validators from opts are sent as
// If-None-Match and If-Modified-Since; a 304 response comes back as a
// Result with NotModified set rather than an error.
func (c *Client) Get(ctx context.Context, url string, opts Options) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if opts.ETag != "" {
		req.Header.Set("If-None-Match", opts.ETag)
	}
	if opts.LastModified != "" {
		req.Header.Set("If-Modified-Since", opts.LastModified)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Result{StatusCode: resp.StatusCode, NotModified: true}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{Delay: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Result{
		Body:         data,
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// parseRetryAfter handles both forms the header allows: delta-seconds
// and an HTTP-date
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		delay := time.Until(at)
		if delay < 0 {
			return 0
		}
		return delay
	}

	return 0
}
