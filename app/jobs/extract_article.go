package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/feedhive/feedhive/app/database"
	"github.com/feedhive/feedhive/app/feed"
	"github.com/feedhive/feedhive/app/fetch"
	"github.com/feedhive/feedhive/app/hub"
)

const (
	JobArticleExtract = "article-extract"

	pageFetchTimeout = 20 * time.Second
)

type ArticleExtractInput struct {
	FeedID    int64 `json:"feedId"`
	ArticleID int64 `json:"articleId"`
}

type ArticleExtractResult struct {
	Status        string `json:"status"`
	ContentLength int    `json:"contentLength"`
}

type extractedPage struct {
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Summary     string     `json:"summary"`
	Author      string     `json:"author"`
	SiteName    string     `json:"siteName"`
	PublishedAt *time.Time `json:"publishedAt"`
}

// ArticleExtractJob fetches an article's source page and replaces the
// truncated feed content with the extracted full text
type ArticleExtractJob struct {
	articleRepo      database.ArticleRepository
	subscriptionRepo database.SubscriptionRepository
	fetcher          *fetch.Client
	robots           *fetch.RobotsCache
	extractor        *feed.ContentExtractor
	notifier         Notifier
}

func NewArticleExtractJob(articleRepo database.ArticleRepository, subscriptionRepo database.SubscriptionRepository,
	fetcher *fetch.Client, robots *fetch.RobotsCache, extractor *feed.ContentExtractor,
	notifier Notifier) *ArticleExtractJob {
	return &ArticleExtractJob{
		articleRepo:      articleRepo,
		subscriptionRepo: subscriptionRepo,
		fetcher:          fetcher,
		robots:           robots,
		extractor:        extractor,
		notifier:         notifier,
	}
}

// One extraction per feed at a time, so a refresh fanning out twenty
// articles never floods a single origin
func (j *ArticleExtractJob) Definition() *Definition {
	return &Definition{
		Name:       JobArticleExtract,
		MaxRetries: DefaultMaxRetries,
		Concurrency: &ConcurrencyPolicy{
			Limit: 1,
			Key: func(input json.RawMessage) string {
				var in ArticleExtractInput
				if err := json.Unmarshal(input, &in); err != nil {
					return ""
				}
				return strconv.FormatInt(in.FeedID, 10)
			},
		},
		Handler: j.Execute,
	}
}

func (j *ArticleExtractJob) Execute(ctx context.Context, run *Run) (interface{}, error) {
	startTime := time.Now()

	var input ArticleExtractInput
	if err := json.Unmarshal(run.Input, &input); err != nil {
		return nil, Fatal(fmt.Errorf("invalid article extract input: %w", err))
	}

	article, err := Step(ctx, run, "load-article", func(ctx context.Context) (*database.Article, error) {
		a, err := j.articleRepo.GetArticle(input.ArticleID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, Fatal(fmt.Errorf("article %d not found", input.ArticleID))
		}
		if a.Link == "" {
			return nil, Fatal(fmt.Errorf("article %d has no source link", input.ArticleID))
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}

	page, err := Step(ctx, run, "fetch-page", func(ctx context.Context) (*fetch.Result, error) {
		if !j.robots.Allowed(ctx, article.Link) {
			j.markExtractionFailed(article.ID)
			return nil, Fatal(fmt.Errorf("robots.txt disallows fetching %s", article.Link))
		}

		fetchCtx, cancel := context.WithTimeout(ctx, pageFetchTimeout)
		defer cancel()

		result, err := j.fetcher.Get(fetchCtx, article.Link, fetch.Options{})
		if err != nil {
			var statusErr *fetch.StatusError
			if errors.As(err, &statusErr) {
				j.markExtractionFailed(article.ID)
				return nil, Fatal(err)
			}
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	extracted, err := Step(ctx, run, "extract-content", func(ctx context.Context) (*extractedPage, error) {
		result, err := j.extractor.Run(page.Body, article.Link)
		if err != nil {
			j.markExtractionFailed(article.ID)
			return nil, Fatal(fmt.Errorf("error extracting content: %w", err))
		}
		return &extractedPage{
			Title:       result.Title,
			Content:     result.Content,
			Summary:     result.Summary,
			Author:      result.Author,
			SiteName:    result.SiteName,
			PublishedAt: result.PublishedAt,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	_, err = Step(ctx, run, "persist-content", func(ctx context.Context) (bool, error) {
		content := database.ExtractedContent{
			Content:     extracted.Content,
			Summary:     extracted.Summary,
			Author:      extracted.Author,
			SourceName:  extracted.SiteName,
			PublishedAt: extracted.PublishedAt,
		}

		if err := j.articleRepo.UpdateExtractedContent(article.ID, content); err != nil {
			return false, err
		}

		if err := j.articleRepo.UpdateFetchStatus(article.ID, database.FetchStatusComplete); err != nil {
			return false, err
		}

		return true, nil
	})
	if err != nil {
		return nil, err
	}

	_, err = Step(ctx, run, "notify", func(ctx context.Context) (int, error) {
		subscribers, err := j.subscriptionRepo.GetSubscribers(article.FeedID)
		if err != nil {
			return 0, err
		}

		payload := hub.ArticleParsedPayload{
			ArticleID:     article.ID,
			FeedID:        article.FeedID,
			Title:         article.Title,
			ContentLength: len(extracted.Content),
		}

		delivered := 0
		for _, userID := range subscribers {
			if j.notifier.NotifyUser(ctx, userID, hub.EventArticleParsed, payload) {
				delivered++
			}
		}
		return delivered, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Content extraction completed", "article", article.Title, "duration", time.Since(startTime),
		"content_length", len(extracted.Content))

	return &ArticleExtractResult{Status: "extracted", ContentLength: len(extracted.Content)}, nil
}

// Fatal extraction outcomes release the article from "scheduled" so a
// later refresh may reschedule it
func (j *ArticleExtractJob) markExtractionFailed(articleID int64) {
	if err := j.articleRepo.UpdateFetchStatus(articleID, database.FetchStatusFailed); err != nil {
		slog.Warn("Failed to mark article extraction failed", "article", articleID, "error", err)
	}
}
