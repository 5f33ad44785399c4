package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"
)

const ttlCustomKey = "ttl"

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	gofeedParser := gofeed.NewParser()
	gofeedParser.RSSTranslator = newTTLTranslator()

	return &Parser{
		gofeedParser: gofeedParser,
	}
}

func (p *Parser) Run(data []byte) (*Metadata, []Entry, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Type:        feed.FeedType,
		Title:       feed.Title,
		Link:        feed.Link,
		Description: feed.Description,
		Language:    feed.Language,
		Generator:   feed.Generator,
		Rights:      feed.Copyright,
	}

	if feed.Image != nil {
		metadata.ImageURL = feed.Image.URL
		metadata.ImageTitle = feed.Image.Title
	}

	if len(feed.Authors) > 0 && feed.Authors[0] != nil {
		metadata.Author = formatAuthor(feed.Authors[0].Name, feed.Authors[0].Email)
	}

	if raw, ok := feed.Custom[ttlCustomKey]; ok {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			metadata.TTLMinutes = &minutes
		}
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, p.normalizeItem(item))
	}

	return metadata, entries, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) Entry {
	entry := Entry{
		GUID:    cmp.Or(item.GUID, item.Link, item.Title, "no-guid"),
		Title:   item.Title,
		Link:    item.Link,
		Summary: item.Description,
		Content: item.Content,
	}

	if item.PublishedParsed != nil {
		entry.PublishedAt = item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		entry.PublishedAt = item.UpdatedParsed
	}

	entry.Author = extractAuthor(item)

	return entry
}

func extractAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return formatAuthor(item.Authors[0].Name, item.Authors[0].Email)
	}
	if item.Author != nil {
		return formatAuthor(item.Author.Name, item.Author.Email)
	}
	return ""
}

func formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	} else if email != "" {
		return email
	}

	return ""
}

// ttlTranslator wraps the default RSS translation to carry the <ttl>
// element through, which gofeed's universal feed drops otherwise
type ttlTranslator struct {
	defaultTranslator *gofeed.DefaultRSSTranslator
}

func newTTLTranslator() *ttlTranslator {
	return &ttlTranslator{
		defaultTranslator: &gofeed.DefaultRSSTranslator{},
	}
}

func (t *ttlTranslator) Translate(feed interface{}) (*gofeed.Feed, error) {
	rssFeed, ok := feed.(*rss.Feed)
	if !ok {
		return nil, fmt.Errorf("feed is not an RSS feed")
	}

	translated, err := t.defaultTranslator.Translate(rssFeed)
	if err != nil {
		return nil, err
	}

	if rssFeed.TTL != "" {
		if translated.Custom == nil {
			translated.Custom = make(map[string]string)
		}
		translated.Custom[ttlCustomKey] = rssFeed.TTL
	}

	return translated, nil
}
