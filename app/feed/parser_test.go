package feed

import (
	"testing"
)

func TestParseRSS2(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>https://example.com</link>
    <description>Test Description</description>
    <language>en-us</language>
    <copyright>Copyright 2026</copyright>
    <generator>Test Generator</generator>
    <ttl>120</ttl>
    <image>
      <url>https://example.com/icon.png</url>
      <title>Test Feed Icon</title>
      <link>https://example.com</link>
    </image>
    <item>
      <title>Test Item 1</title>
      <link>https://example.com/item1</link>
      <description>Test Item 1 Description</description>
      <guid>item-1</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
      <author>test@example.com (Test Author)</author>
    </item>
    <item>
      <title>Test Item 2</title>
      <link>https://example.com/item2</link>
      <description>Test Item 2 Description</description>
      <guid>item-2</guid>
      <pubDate>Mon, 03 Jul 2023 11:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

	parser := NewParser()
	metadata, entries, err := parser.Run([]byte(rssData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Test metadata
	if metadata.Type != "rss" {
		t.Errorf("Expected type 'rss', got: %s", metadata.Type)
	}
	if metadata.Title != "Test Feed" {
		t.Errorf("Expected title 'Test Feed', got: %s", metadata.Title)
	}
	if metadata.Link != "https://example.com" {
		t.Errorf("Expected link 'https://example.com', got: %s", metadata.Link)
	}
	if metadata.Description != "Test Description" {
		t.Errorf("Expected description 'Test Description', got: %s", metadata.Description)
	}
	if metadata.Language != "en-us" {
		t.Errorf("Expected language 'en-us', got: %s", metadata.Language)
	}
	if metadata.Rights != "Copyright 2026" {
		t.Errorf("Expected rights 'Copyright 2026', got: %s", metadata.Rights)
	}
	if metadata.Generator != "Test Generator" {
		t.Errorf("Expected generator 'Test Generator', got: %s", metadata.Generator)
	}
	if metadata.ImageURL != "https://example.com/icon.png" {
		t.Errorf("Expected image URL 'https://example.com/icon.png', got: %s", metadata.ImageURL)
	}
	if metadata.ImageTitle != "Test Feed Icon" {
		t.Errorf("Expected image title 'Test Feed Icon', got: %s", metadata.ImageTitle)
	}
	if metadata.TTLMinutes == nil || *metadata.TTLMinutes != 120 {
		t.Errorf("Expected TTL of 120 minutes, got: %v", metadata.TTLMinutes)
	}

	// Test entries
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got: %d", len(entries))
	}

	entry1 := entries[0]
	if entry1.Title != "Test Item 1" {
		t.Errorf("Expected title 'Test Item 1', got: %s", entry1.Title)
	}
	if entry1.Link != "https://example.com/item1" {
		t.Errorf("Expected link 'https://example.com/item1', got: %s", entry1.Link)
	}
	if entry1.GUID != "item-1" {
		t.Errorf("Expected GUID 'item-1', got: %s", entry1.GUID)
	}
	if entry1.Summary != "Test Item 1 Description" {
		t.Errorf("Expected summary to carry the item description, got: %s", entry1.Summary)
	}
	if entry1.PublishedAt == nil {
		t.Error("Expected published time to be set")
	}
	if entry1.Author != "test@example.com (Test Author)" {
		t.Errorf("Expected author 'test@example.com (Test Author)', got: %s", entry1.Author)
	}
}

func TestParseRSSWithoutTTL(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>No TTL Feed</title>
    <link>https://example.com</link>
    <description>Test</description>
  </channel>
</rss>`

	parser := NewParser()
	metadata, _, err := parser.Run([]byte(rssData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if metadata.TTLMinutes != nil {
		t.Errorf("Expected nil TTL when the feed declares none, got: %d", *metadata.TTLMinutes)
	}
}

func TestParseAtom(t *testing.T) {
	atomData := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Test Atom Feed</title>
  <link href="https://example.com"/>
  <updated>2023-07-03T12:00:00Z</updated>
  <author>
    <name>Test Author</name>
  </author>
  <id>urn:uuid:1234567890</id>
  <entry>
    <title>Test Entry</title>
    <link href="https://example.com/entry1"/>
    <id>urn:uuid:entry-1</id>
    <updated>2023-07-03T10:00:00Z</updated>
    <content type="html">Test content</content>
  </entry>
</feed>`

	parser := NewParser()
	metadata, entries, err := parser.Run([]byte(atomData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if metadata.Type != "atom" {
		t.Errorf("Expected type 'atom', got: %s", metadata.Type)
	}
	if metadata.Title != "Test Atom Feed" {
		t.Errorf("Expected title 'Test Atom Feed', got: %s", metadata.Title)
	}

	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got: %d", len(entries))
	}

	entry := entries[0]
	if entry.Title != "Test Entry" {
		t.Errorf("Expected title 'Test Entry', got: %s", entry.Title)
	}
	if entry.Link != "https://example.com/entry1" {
		t.Errorf("Expected link 'https://example.com/entry1', got: %s", entry.Link)
	}
	if entry.GUID != "urn:uuid:entry-1" {
		t.Errorf("Expected GUID 'urn:uuid:entry-1', got: %s", entry.GUID)
	}
	if entry.PublishedAt == nil {
		t.Error("Expected published time to fall back to the updated time")
	}
}

func TestParseGUIDFallbackChain(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Fallback Feed</title>
    <link>https://example.com</link>
    <description>Test</description>
    <item>
      <title>Has Link</title>
      <link>https://example.com/has-link</link>
    </item>
    <item>
      <title>Title Only</title>
    </item>
    <item>
      <description>Nothing identifying</description>
    </item>
  </channel>
</rss>`

	parser := NewParser()
	_, entries, err := parser.Run([]byte(rssData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got: %d", len(entries))
	}

	if entries[0].GUID != "https://example.com/has-link" {
		t.Errorf("Expected GUID to fall back to link, got: %s", entries[0].GUID)
	}
	if entries[1].GUID != "Title Only" {
		t.Errorf("Expected GUID to fall back to title, got: %s", entries[1].GUID)
	}
	if entries[2].GUID != "no-guid" {
		t.Errorf("Expected GUID sentinel 'no-guid', got: %s", entries[2].GUID)
	}
}

func TestParseInvalidFeed(t *testing.T) {
	parser := NewParser()
	_, _, err := parser.Run([]byte("invalid xml"))

	if err == nil {
		t.Error("Expected error for invalid XML")
	}
}

func TestFormatAuthor(t *testing.T) {
	cases := []struct {
		name     string
		email    string
		expected string
	}{
		{"Test Author", "test@example.com", "test@example.com (Test Author)"},
		{"Test Author", "", "Test Author"},
		{"", "test@example.com", "test@example.com"},
		{"", "", ""},
		{"  Spaced  ", "", "Spaced"},
	}

	for _, c := range cases {
		if got := formatAuthor(c.name, c.email); got != c.expected {
			t.Errorf("formatAuthor(%q, %q): expected %q, got %q", c.name, c.email, c.expected, got)
		}
	}
}
