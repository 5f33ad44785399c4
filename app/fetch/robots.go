package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsCache checks URLs against each host's robots.txt, fetching and
// caching the parsed rules per host. Hosts whose robots.txt cannot be
// fetched or parsed are treated as allowing everything.
type RobotsCache struct {
	httpClient *http.Client
	userAgent  string
	mu         sync.Mutex
	groups     map[string]*robotstxt.Group
}

func NewRobotsCache(httpClient *http.Client, userAgent string) *RobotsCache {
	return &RobotsCache{
		httpClient: httpClient,
		userAgent:  userAgent,
		groups:     make(map[string]*robotstxt.Group),
	}
}

func (r *RobotsCache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	group := r.groupFor(ctx, u)
	if group == nil {
		return true
	}

	return group.Test(u.Path)
}

func (r *RobotsCache) groupFor(ctx context.Context, u *url.URL) *robotstxt.Group {
	key := u.Scheme + "://" + u.Host

	r.mu.Lock()
	defer r.mu.Unlock()

	if group, ok := r.groups[key]; ok {
		return group
	}

	group := r.fetchGroup(ctx, key)
	r.groups[key] = group
	return group
}

func (r *RobotsCache) fetchGroup(ctx context.Context, base string) *robotstxt.Group {
	robotsURL := fmt.Sprintf("%s/robots.txt", base)

	req, err := http.NewRequestWithContext(ctx, "GET", robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		slog.Debug("Failed to fetch robots.txt, allowing all", "url", robotsURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		slog.Debug("Failed to parse robots.txt, allowing all", "url", robotsURL, "error", err)
		return nil
	}

	return data.FindGroup(r.userAgent)
}
