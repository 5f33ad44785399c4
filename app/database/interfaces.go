package database

import (
	"time"
)

// NewArticle carries one parsed feed entry into the article store
type NewArticle struct {
	GUID        string
	Slug        string
	Title       string
	Link        string
	Summary     string
	Content     string
	Author      string
	SourceName  string
	PublishedAt *time.Time
}

// FeedMetadata carries parsed feed-level fields into a metadata update
type FeedMetadata struct {
	Type         string
	Slug         string
	Title        string
	Description  string
	Link         string
	Language     string
	Author       string
	ImageURL     string
	ImageTitle   string
	Rights       string
	Generator    string
	ETag         string
	LastModified string
	TTLMinutes   *int
}

// ExtractedContent carries full-text extraction results into an article
// update. Content always overwrites; the remaining fields only fill
// columns that are currently NULL unless the extractor produced a value.
type ExtractedContent struct {
	Content     string
	Summary     string
	Author      string
	SourceName  string
	PublishedAt *time.Time
}

type FeedRepository interface {
	GetFeed(id int64) (*Feed, error)
	GetFeedByURL(url string) (*Feed, error)
	GetFeedBySlug(slug string) (*Feed, error)
	CreateFeed(url, slug, title, feedType string) (int64, error)
	UpdateFeedMetadata(id int64, meta FeedMetadata) error
	RecordFetchError(id int64, message string) error
	TouchFetched(id int64) error
	SetFeedActive(id int64, active bool) error
	GetFeedsDue(now time.Time) ([]Feed, error)
	SlugTaken(slug string, excludeID int64) (bool, error)
	GetFeedCount() (int, error)
	GetActiveFeedCount() (int, error)
}

type ArticleRepository interface {
	GetArticle(id int64) (*Article, error)
	GetArticlesByFeed(feedID int64, limit int) ([]Article, error)
	InsertArticle(feedID int64, article NewArticle) (int64, bool, error)
	UpdateExtractedContent(id int64, extracted ExtractedContent) error
	UpdateFetchStatus(id int64, status FetchStatus) error
	SlugTaken(feedID int64, slug string) (bool, error)
	GetArticleCount() (int, error)
}

type SubscriptionRepository interface {
	Subscribe(userID string, feedID int64, category string) error
	Unsubscribe(userID string, feedID int64) error
	IsSubscribed(userID string, feedID int64) (bool, error)
	GetSubscribers(feedID int64) ([]string, error)
	GetSubscribedFeeds(userID string) ([]SubscribedFeed, error)
}

type UserArticleStateRepository interface {
	GetState(userID string, articleID int64) (*UserArticleState, error)
	UpsertState(userID string, articleID int64, read, bookmarked, favorite *bool) (*UserArticleState, error)
}

type PendingFeedRepository interface {
	CreateRequest(id, url, requestedBy string) error
	GetRequest(id string) (*PendingFeedRequest, error)
	ResolveCompleted(id string, feedID int64) error
	MarkFailed(id string, message string) error
	MarkAmbiguous(id string, candidates []string) error
}

type JobRepository interface {
	CreateInstance(instance *JobInstance) error
	GetInstance(id string) (*JobInstance, error)
	GetIncompleteInstances() ([]JobInstance, error)
	MarkQueued(id string) error
	MarkRunning(id string) error
	MarkCompleted(id string, result []byte) error
	MarkFailed(id string, message string) error
	ScheduleRetry(id string, message string) error
	GetStepResult(instanceID, stepName string) ([]byte, bool, error)
	SaveStepResult(instanceID, stepName string, result []byte) error
	CountByStatus() (map[JobStatus]int, error)
}
