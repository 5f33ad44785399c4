package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DiscoverFeeds scans an HTML page for candidate feed URLs: declared
// alternate links with a feed media type, plus anchors whose path ends in
// .rss or .xml. Candidates are resolved against baseURL and deduplicated,
// preserving document order.
func DiscoverFeeds(data []byte, baseURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	var candidates []string
	seen := make(map[string]bool)

	add := func(href string) {
		parsed, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(parsed).String()
		if !seen[resolved] {
			seen[resolved] = true
			candidates = append(candidates, resolved)
		}
	}

	doc.Find("link[rel='alternate']").Each(func(i int, s *goquery.Selection) {
		linkType, _ := s.Attr("type")
		if !isFeedType(linkType) {
			return
		}
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			add(href)
		}
	})

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		path := strings.ToLower(parsed.Path)
		if strings.HasSuffix(path, ".rss") || strings.HasSuffix(path, ".xml") {
			add(href)
		}
	})

	return candidates, nil
}

func isFeedType(linkType string) bool {
	linkType = strings.ToLower(linkType)
	return strings.Contains(linkType, "rss") ||
		strings.Contains(linkType, "atom") ||
		strings.Contains(linkType, "xml")
}
