package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/feedhive/feedhive/app/database"
	"github.com/feedhive/feedhive/app/feed"
	"github.com/feedhive/feedhive/app/fetch"
	"github.com/feedhive/feedhive/app/hub"
)

const (
	JobFeedRefresh = "feed-refresh"

	feedFetchTimeout         = 30 * time.Second
	maxExtractionsPerRefresh = 20
)

type FeedRefreshInput struct {
	FeedID int64 `json:"feedId"`
}

type FeedRefreshResult struct {
	Status      string `json:"status"`
	FeedTitle   string `json:"feedTitle,omitempty"`
	TotalItems  int    `json:"totalItems"`
	NewArticles int    `json:"newArticles"`
}

type parsedFeed struct {
	Metadata *feed.Metadata `json:"metadata"`
	Entries  []feed.Entry   `json:"entries"`
}

type insertedArticle struct {
	ID          int64      `json:"id"`
	PublishedAt *time.Time `json:"publishedAt"`
}

// FeedRefreshJob fetches a feed with conditional request headers, parses
// it, persists metadata and new articles, fans out content extraction and
// notifies subscribers
type FeedRefreshJob struct {
	feedRepo         database.FeedRepository
	articleRepo      database.ArticleRepository
	subscriptionRepo database.SubscriptionRepository
	fetcher          *fetch.Client
	parser           *feed.Parser
	notifier         Notifier
}

func NewFeedRefreshJob(feedRepo database.FeedRepository, articleRepo database.ArticleRepository,
	subscriptionRepo database.SubscriptionRepository, fetcher *fetch.Client, parser *feed.Parser,
	notifier Notifier) *FeedRefreshJob {
	return &FeedRefreshJob{
		feedRepo:         feedRepo,
		articleRepo:      articleRepo,
		subscriptionRepo: subscriptionRepo,
		fetcher:          fetcher,
		parser:           parser,
		notifier:         notifier,
	}
}

// Two refreshes may run at once across all feeds
func (j *FeedRefreshJob) Definition() *Definition {
	return &Definition{
		Name:        JobFeedRefresh,
		MaxRetries:  DefaultMaxRetries,
		Concurrency: &ConcurrencyPolicy{Limit: 2},
		Handler:     j.Execute,
	}
}

func (j *FeedRefreshJob) Execute(ctx context.Context, run *Run) (interface{}, error) {
	startTime := time.Now()

	var input FeedRefreshInput
	if err := json.Unmarshal(run.Input, &input); err != nil {
		return nil, Fatal(fmt.Errorf("invalid feed refresh input: %w", err))
	}

	target, err := Step(ctx, run, "validate", func(ctx context.Context) (*database.Feed, error) {
		f, err := j.feedRepo.GetFeed(input.FeedID)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, Fatal(fmt.Errorf("feed %d not found", input.FeedID))
		}
		if !f.IsActive {
			return nil, Fatal(fmt.Errorf("feed %d is not active", input.FeedID))
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}

	fetched, err := Step(ctx, run, "fetch", func(ctx context.Context) (*fetch.Result, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, feedFetchTimeout)
		defer cancel()

		result, err := j.fetcher.Get(fetchCtx, target.URL, fetch.Options{
			ETag:         target.ETag,
			LastModified: target.LastModified,
		})
		if err != nil {
			var statusErr *fetch.StatusError
			if errors.As(err, &statusErr) {
				j.recordFeedError(target.ID, err)
				return nil, Fatal(err)
			}
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	if fetched.NotModified {
		_, err := Step(ctx, run, "touch", func(ctx context.Context) (bool, error) {
			if err := j.feedRepo.TouchFetched(target.ID); err != nil {
				return false, err
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}

		slog.Info("Feed not modified", "feed", target.Title, "duration", time.Since(startTime))

		return &FeedRefreshResult{Status: "not-modified", FeedTitle: target.Title}, nil
	}

	parsed, err := Step(ctx, run, "parse", func(ctx context.Context) (*parsedFeed, error) {
		metadata, entries, err := j.parser.Run(fetched.Body)
		if err != nil {
			j.recordFeedError(target.ID, err)
			return nil, Fatal(fmt.Errorf("error parsing feed data: %w", err))
		}
		return &parsedFeed{Metadata: metadata, Entries: entries}, nil
	})
	if err != nil {
		return nil, err
	}

	_, err = Step(ctx, run, "persist-metadata", func(ctx context.Context) (string, error) {
		slug, err := feed.GenerateSlug(func(candidate string) (bool, error) {
			return j.feedRepo.SlugTaken(candidate, target.ID)
		}, parsed.Metadata.Title, hostOf(target.URL))
		if err != nil {
			return "", err
		}

		metadata := database.FeedMetadata{
			Type:         parsed.Metadata.Type,
			Slug:         slug,
			Title:        parsed.Metadata.Title,
			Description:  parsed.Metadata.Description,
			Link:         parsed.Metadata.Link,
			Language:     parsed.Metadata.Language,
			Author:       parsed.Metadata.Author,
			ImageURL:     parsed.Metadata.ImageURL,
			ImageTitle:   parsed.Metadata.ImageTitle,
			Rights:       parsed.Metadata.Rights,
			Generator:    parsed.Metadata.Generator,
			ETag:         fetched.ETag,
			LastModified: fetched.LastModified,
			TTLMinutes:   parsed.Metadata.TTLMinutes,
		}

		if err := j.feedRepo.UpdateFeedMetadata(target.ID, metadata); err != nil {
			return "", err
		}
		return slug, nil
	})
	if err != nil {
		return nil, err
	}

	inserted, err := Step(ctx, run, "persist-articles", func(ctx context.Context) ([]insertedArticle, error) {
		var inserted []insertedArticle

		for _, entry := range parsed.Entries {
			slug, err := feed.GenerateSlug(func(candidate string) (bool, error) {
				return j.articleRepo.SlugTaken(target.ID, candidate)
			}, entry.Title, lastPathSegment(entry.Link))
			if err != nil {
				return nil, err
			}

			id, created, err := j.articleRepo.InsertArticle(target.ID, database.NewArticle{
				GUID:        entry.GUID,
				Slug:        slug,
				Title:       entry.Title,
				Link:        entry.Link,
				Summary:     entry.Summary,
				Content:     entry.Content,
				Author:      entry.Author,
				SourceName:  parsed.Metadata.Title,
				PublishedAt: entry.PublishedAt,
			})
			if err != nil {
				return nil, err
			}

			if created {
				inserted = append(inserted, insertedArticle{ID: id, PublishedAt: entry.PublishedAt})
			}
		}

		return inserted, nil
	})
	if err != nil {
		return nil, err
	}

	scheduled, err := Step(ctx, run, "fan-out", func(ctx context.Context) (int, error) {
		count := 0

		for _, article := range mostRecent(inserted, maxExtractionsPerRefresh) {
			if err := j.articleRepo.UpdateFetchStatus(article.ID, database.FetchStatusScheduled); err != nil {
				slog.Warn("Failed to schedule article extraction", "article", article.ID, "error", err)
				continue
			}

			if _, err := run.Trigger(JobArticleExtract, ArticleExtractInput{FeedID: target.ID, ArticleID: article.ID}); err != nil {
				slog.Warn("Failed to trigger article extraction", "article", article.ID, "error", err)
				continue
			}

			count++
		}

		return count, nil
	})
	if err != nil {
		return nil, err
	}

	_, err = Step(ctx, run, "notify", func(ctx context.Context) (int, error) {
		if len(inserted) == 0 {
			return 0, nil
		}

		subscribers, err := j.subscriptionRepo.GetSubscribers(target.ID)
		if err != nil {
			return 0, err
		}

		payload := hub.FeedParsedPayload{
			FeedID:      target.ID,
			FeedTitle:   parsed.Metadata.Title,
			NewArticles: len(inserted),
			TotalItems:  len(parsed.Entries),
		}

		delivered := 0
		for _, userID := range subscribers {
			if j.notifier.NotifyUser(ctx, userID, hub.EventFeedParsed, payload) {
				delivered++
			}
		}
		return delivered, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Feed refresh completed", "feed", parsed.Metadata.Title, "duration", time.Since(startTime),
		"total_items", len(parsed.Entries), "new_articles", len(inserted), "extractions", scheduled)

	return &FeedRefreshResult{
		Status:      "success",
		FeedTitle:   parsed.Metadata.Title,
		TotalItems:  len(parsed.Entries),
		NewArticles: len(inserted),
	}, nil
}

func (j *FeedRefreshJob) recordFeedError(feedID int64, err error) {
	if recordErr := j.feedRepo.RecordFetchError(feedID, err.Error()); recordErr != nil {
		slog.Warn("Failed to record feed fetch error", "feed", feedID, "error", recordErr)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func lastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	segment := segments[len(segments)-1]

	return strings.TrimSuffix(segment, path.Ext(segment))
}

// mostRecent returns up to limit articles ordered by published date
// descending, undated articles last
func mostRecent(articles []insertedArticle, limit int) []insertedArticle {
	sorted := make([]insertedArticle, len(articles))
	copy(sorted, articles)

	sort.SliceStable(sorted, func(i, k int) bool {
		a, b := sorted[i].PublishedAt, sorted[k].PublishedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.After(*b)
	})

	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
