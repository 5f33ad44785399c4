package feed

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
)

// ExtractedArticle is the readable form of an article page: sanitized
// markup with absolute resource URLs, plus the metadata readability found
type ExtractedArticle struct {
	Title       string
	Content     string
	Summary     string
	Author      string
	SiteName    string
	PublishedAt *time.Time
}

type ContentExtractor struct{}

func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{}
}

func (e *ContentExtractor) Run(data []byte, articleURL string) (*ExtractedArticle, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("HTML data is empty")
	}

	pageURL, err := url.Parse(articleURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse article URL: %w", err)
	}

	// Pages are not guaranteed to be UTF-8; sniff the charset from the
	// document itself before handing it to readability
	var reader io.Reader
	utf8Reader, err := charset.NewReader(bytes.NewReader(data), "")
	if err != nil {
		reader = bytes.NewReader(data)
	} else {
		reader = utf8Reader
	}

	article, err := readability.FromReader(reader, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	if article.Content == "" {
		return nil, fmt.Errorf("no content extracted from HTML data")
	}

	content, err := e.sanitize(article.Content, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to sanitize content: %w", err)
	}

	slog.Debug("Content extracted successfully",
		"title", article.Title,
		"content_length", len(content))

	return &ExtractedArticle{
		Title:       article.Title,
		Content:     content,
		Summary:     article.Excerpt,
		Author:      article.Byline,
		SiteName:    article.SiteName,
		PublishedAt: article.PublishedTime,
	}, nil
}

// sanitize strips active markup readability may have let through and
// rewrites every relative resource reference to an absolute URL against
// the article's own address
func (e *ContentExtractor) sanitize(content string, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse extracted HTML: %w", err)
	}

	doc.Find("script, style, noscript, object, embed, form, input, button, textarea, select").Remove()

	doc.Find("*").Each(func(i int, s *goquery.Selection) {
		removeEventAttributes(s)

		if href, ok := s.Attr("href"); ok {
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(href)), "javascript:") {
				s.RemoveAttr("href")
			}
		}
	})

	doc.Find("img, a, link, source, video, audio, iframe").Each(func(i int, s *goquery.Selection) {
		for _, attr := range []string{"src", "href", "poster"} {
			if value, ok := s.Attr(attr); ok {
				if absolute, changed := absoluteURL(value, base); changed {
					s.SetAttr(attr, absolute)
				}
			}
		}

		if srcset, ok := s.Attr("srcset"); ok {
			s.SetAttr("srcset", rewriteSrcset(srcset, base))
		}
	})

	sanitized, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("failed to render sanitized HTML: %w", err)
	}

	return sanitized, nil
}

func removeEventAttributes(s *goquery.Selection) {
	if len(s.Nodes) == 0 {
		return
	}

	var unwanted []string
	for _, attr := range s.Nodes[0].Attr {
		if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
			unwanted = append(unwanted, attr.Key)
		}
	}
	for _, key := range unwanted {
		s.RemoveAttr(key)
	}
}

// absoluteURL resolves a reference against base. Fragments, data URLs and
// already-absolute references are left alone.
func absoluteURL(raw string, base *url.URL) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "data:") {
		return "", false
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if parsed.IsAbs() {
		return "", false
	}

	return base.ResolveReference(parsed).String(), true
}

// rewriteSrcset resolves each candidate of a srcset value, keeping the
// width/density descriptors intact
func rewriteSrcset(srcset string, base *url.URL) string {
	candidates := strings.Split(srcset, ",")
	rewritten := make([]string, 0, len(candidates))

	for _, candidate := range candidates {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}

		if absolute, changed := absoluteURL(fields[0], base); changed {
			fields[0] = absolute
		}
		rewritten = append(rewritten, strings.Join(fields, " "))
	}

	return strings.Join(rewritten, ", ")
}
