package feed

import (
	"time"
)

// Feed parsing types

type Metadata struct {
	Type        string
	Title       string
	Link        string
	Description string
	Language    string
	Author      string
	ImageURL    string
	ImageTitle  string
	Rights      string
	Generator   string
	TTLMinutes  *int
}

type Entry struct {
	GUID        string
	Title       string
	Link        string
	Summary     string
	Content     string
	Author      string // Format "email (name)", "name" or "email"
	PublishedAt *time.Time
}

// Seed file types

type Seed struct {
	Name        string   // Derived from filename (without .yml extension)
	URL         string   `yaml:"url"`
	Category    string   `yaml:"category"`
	Subscribers []string `yaml:"subscribers"`
}
