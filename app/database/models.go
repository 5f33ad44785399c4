package database

import (
	"encoding/json"
	"time"
)

// Feed represents a syndication source in the database
type Feed struct {
	ID            int64
	URL           string // Source feed URL, unique across the table
	Type          string // "rss" or "atom"
	Slug          string
	Title         string
	Description   string
	Link          string // Homepage URL from the feed's <link> element
	Language      string
	Author        string
	ImageURL      string
	ImageTitle    string
	Rights        string
	Generator     string
	ETag          string // HTTP cache validator from the last fetch
	LastModified  string // Last-Modified token, stored verbatim
	TTLMinutes    *int   // Feed-declared refresh interval, nil when unset
	LastFetchedAt *time.Time
	LastSuccessAt *time.Time
	ErrorCount    int
	ErrorMessage  string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Article represents one entry of a feed. Identity is (feed_id, guid).
type Article struct {
	ID          int64
	FeedID      int64
	GUID        string
	Slug        string // Unique within the feed
	Title       string
	Link        string
	Summary     string
	Content     string
	Author      string
	SourceName  string
	PublishedAt *time.Time
	FetchStatus FetchStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Subscription is a user-to-feed edge with an optional category
type Subscription struct {
	UserID    string
	FeedID    int64
	Category  string
	CreatedAt time.Time
}

// SubscribedFeed is a subscription joined with its feed for listing
type SubscribedFeed struct {
	Feed
	Category     string
	SubscribedAt time.Time
}

// UserArticleState holds per-user flags on an article, created lazily
type UserArticleState struct {
	UserID       string
	ArticleID    int64
	IsRead       bool
	IsBookmarked bool
	IsFavorite   bool
	ReadAt       *time.Time
	UpdatedAt    time.Time
}

// PendingFeedRequest tracks an in-flight add-feed request
type PendingFeedRequest struct {
	ID          string
	URL         string
	RequestedBy string
	Status      PendingStatus
	Candidates  []string // Discovered feed URLs, set when ambiguous
	Error       string
	FeedID      *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobInstance is one durable execution of a named job definition
type JobInstance struct {
	ID         string
	JobName    string
	Input      json.RawMessage
	Status     JobStatus
	RetryCount int
	MaxRetries int
	Error      string
	Result     json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobStep is a persisted step result, keyed by (instance_id, step_name).
// Replayed instead of re-executed when a job instance is retried.
type JobStep struct {
	InstanceID  string
	StepName    string
	Result      json.RawMessage
	CompletedAt time.Time
}
