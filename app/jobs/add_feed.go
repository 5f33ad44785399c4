package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/feedhive/feedhive/app/database"
	"github.com/feedhive/feedhive/app/feed"
	"github.com/feedhive/feedhive/app/fetch"
	"github.com/feedhive/feedhive/app/hub"
)

const JobAddFeed = "add-feed"

type AddFeedInput struct {
	FeedURL     string `json:"feedUrl"`
	Category    string `json:"category,omitempty"`
	RequestedBy string `json:"requestedBy"`
	PendingID   string `json:"pendingId"`
}

type AddFeedResult struct {
	Status     string   `json:"status"`
	FeedID     int64    `json:"feedId,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

type feedCandidate struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// AddFeedJob resolves a user-submitted URL into a subscription: directly
// when the URL is a known or parseable feed, through link discovery when
// it points at an HTML page
type AddFeedJob struct {
	feedRepo         database.FeedRepository
	subscriptionRepo database.SubscriptionRepository
	pendingRepo      database.PendingFeedRepository
	fetcher          *fetch.Client
	parser           *feed.Parser
	notifier         Notifier
}

func NewAddFeedJob(feedRepo database.FeedRepository, subscriptionRepo database.SubscriptionRepository,
	pendingRepo database.PendingFeedRepository, fetcher *fetch.Client, parser *feed.Parser,
	notifier Notifier) *AddFeedJob {
	return &AddFeedJob{
		feedRepo:         feedRepo,
		subscriptionRepo: subscriptionRepo,
		pendingRepo:      pendingRepo,
		fetcher:          fetcher,
		parser:           parser,
		notifier:         notifier,
	}
}

// Serialized globally so two requests for the same URL cannot race a
// duplicate feed into existence
func (j *AddFeedJob) Definition() *Definition {
	return &Definition{
		Name:        JobAddFeed,
		MaxRetries:  DefaultMaxRetries,
		Concurrency: &ConcurrencyPolicy{Limit: 1},
		Handler:     j.Execute,
	}
}

func (j *AddFeedJob) Execute(ctx context.Context, run *Run) (interface{}, error) {
	var input AddFeedInput
	if err := json.Unmarshal(run.Input, &input); err != nil {
		return nil, Fatal(fmt.Errorf("invalid add feed input: %w", err))
	}

	if input.RequestedBy == "" || input.PendingID == "" {
		return nil, Fatal(fmt.Errorf("add feed input requires requestedBy and pendingId"))
	}

	if !validFeedURL(input.FeedURL) {
		return nil, j.failRequest(ctx, run, input, "invalid feed URL")
	}

	existing, err := Step(ctx, run, "check-existing", func(ctx context.Context) (*database.Feed, error) {
		return j.feedRepo.GetFeedByURL(input.FeedURL)
	})
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return j.completeWithFeed(ctx, run, input, existing.ID, existing.URL, "exists", false)
	}

	fetched, err := Step(ctx, run, "fetch", func(ctx context.Context) (*fetch.Result, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, feedFetchTimeout)
		defer cancel()

		return j.fetcher.Get(fetchCtx, input.FeedURL, fetch.Options{})
	})
	if err != nil {
		// Definitive HTTP errors fail the request; rate limits and
		// transient network errors stay retriable
		var statusErr *fetch.StatusError
		if errors.As(err, &statusErr) {
			return nil, j.failRequest(ctx, run, input, statusErr.Error())
		}
		return nil, err
	}

	direct, err := Step(ctx, run, "parse-direct", func(ctx context.Context) (*feedCandidate, error) {
		metadata, _, err := j.parser.Run(fetched.Body)
		if err != nil {
			// Not feed data, fall through to link discovery
			return nil, nil
		}
		return &feedCandidate{URL: input.FeedURL, Title: metadata.Title, Type: metadata.Type}, nil
	})
	if err != nil {
		return nil, err
	}

	if direct != nil {
		feedID, err := j.createFeed(ctx, run, direct)
		if err != nil {
			return nil, err
		}
		return j.completeWithFeed(ctx, run, input, feedID, direct.URL, "created", true)
	}

	candidates, err := Step(ctx, run, "discover", func(ctx context.Context) ([]string, error) {
		urls, err := feed.DiscoverFeeds(fetched.Body, input.FeedURL)
		if err != nil {
			return nil, Fatal(fmt.Errorf("error discovering feeds: %w", err))
		}
		return urls, nil
	})
	if err != nil {
		return nil, err
	}

	valid, err := Step(ctx, run, "validate-candidates", func(ctx context.Context) ([]feedCandidate, error) {
		var valid []feedCandidate

		for _, candidateURL := range candidates {
			candidate, ok := j.probeFeed(ctx, candidateURL)
			if !ok {
				continue
			}
			valid = append(valid, *candidate)
		}

		slog.Debug("Validated discovered feed candidates", "url", input.FeedURL, "discovered", len(candidates), "valid", len(valid))

		return valid, nil
	})
	if err != nil {
		return nil, err
	}

	switch len(valid) {
	case 0:
		return nil, j.failRequest(ctx, run, input, "no feeds found at URL")

	case 1:
		chosen := valid[0]

		known, err := Step(ctx, run, "check-discovered", func(ctx context.Context) (*database.Feed, error) {
			return j.feedRepo.GetFeedByURL(chosen.URL)
		})
		if err != nil {
			return nil, err
		}

		if known != nil {
			return j.completeWithFeed(ctx, run, input, known.ID, known.URL, "exists", false)
		}

		feedID, err := j.createFeed(ctx, run, &chosen)
		if err != nil {
			return nil, err
		}
		return j.completeWithFeed(ctx, run, input, feedID, chosen.URL, "created", true)

	default:
		urls := make([]string, len(valid))
		for i, candidate := range valid {
			urls[i] = candidate.URL
		}

		_, err = Step(ctx, run, "mark-ambiguous", func(ctx context.Context) (bool, error) {
			if err := j.pendingRepo.MarkAmbiguous(input.PendingID, urls); err != nil {
				return false, err
			}

			j.notifier.NotifyUser(ctx, input.RequestedBy, hub.EventFeedAddAmbiguous, hub.FeedAddAmbiguousPayload{
				CandidateURLs: urls,
				OriginalURL:   input.FeedURL,
				PendingID:     input.PendingID,
			})

			return true, nil
		})
		if err != nil {
			return nil, err
		}

		return &AddFeedResult{Status: "ambiguous", Candidates: urls}, nil
	}
}

// probeFeed checks that a discovered URL serves parseable feed data
func (j *AddFeedJob) probeFeed(ctx context.Context, feedURL string) (*feedCandidate, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, feedFetchTimeout)
	defer cancel()

	result, err := j.fetcher.Get(fetchCtx, feedURL, fetch.Options{})
	if err != nil {
		slog.Debug("Discarding feed candidate", "url", feedURL, "error", err)
		return nil, false
	}

	metadata, _, err := j.parser.Run(result.Body)
	if err != nil {
		slog.Debug("Discarding feed candidate", "url", feedURL, "error", err)
		return nil, false
	}

	return &feedCandidate{URL: feedURL, Title: metadata.Title, Type: metadata.Type}, true
}

func (j *AddFeedJob) createFeed(ctx context.Context, run *Run, candidate *feedCandidate) (int64, error) {
	return Step(ctx, run, "create-feed", func(ctx context.Context) (int64, error) {
		slug, err := feed.GenerateSlug(func(s string) (bool, error) {
			return j.feedRepo.SlugTaken(s, 0)
		}, candidate.Title, hostOf(candidate.URL))
		if err != nil {
			return 0, err
		}

		id, err := j.feedRepo.CreateFeed(candidate.URL, slug, candidate.Title, candidate.Type)
		if err != nil {
			// Lost a race with a concurrent insert for the same URL
			if existing, lookupErr := j.feedRepo.GetFeedByURL(candidate.URL); lookupErr == nil && existing != nil {
				return existing.ID, nil
			}
			return 0, err
		}

		return id, nil
	})
}

func (j *AddFeedJob) completeWithFeed(ctx context.Context, run *Run, input AddFeedInput, feedID int64,
	feedURL, status string, triggerRefresh bool) (*AddFeedResult, error) {
	_, err := Step(ctx, run, "subscribe", func(ctx context.Context) (bool, error) {
		if err := j.subscriptionRepo.Subscribe(input.RequestedBy, feedID, input.Category); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if triggerRefresh {
		_, err = Step(ctx, run, "trigger-refresh", func(ctx context.Context) (string, error) {
			return run.Trigger(JobFeedRefresh, FeedRefreshInput{FeedID: feedID})
		})
		if err != nil {
			return nil, err
		}
	}

	_, err = Step(ctx, run, "resolve-pending", func(ctx context.Context) (bool, error) {
		if err := j.pendingRepo.ResolveCompleted(input.PendingID, feedID); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	_, err = Step(ctx, run, "notify", func(ctx context.Context) (bool, error) {
		j.notifier.NotifyUser(ctx, input.RequestedBy, hub.EventFeedAdded, hub.FeedAddedPayload{
			FeedID:    feedID,
			FeedURL:   feedURL,
			PendingID: input.PendingID,
		})
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Feed added", "url", feedURL, "status", status, "user", input.RequestedBy)

	return &AddFeedResult{Status: status, FeedID: feedID}, nil
}

// failRequest marks the pending request failed, notifies the requester
// and returns the terminal error for the job instance
func (j *AddFeedJob) failRequest(ctx context.Context, run *Run, input AddFeedInput, reason string) error {
	_, err := Step(ctx, run, "fail-pending", func(ctx context.Context) (bool, error) {
		if err := j.pendingRepo.MarkFailed(input.PendingID, reason); err != nil {
			return false, err
		}

		j.notifier.NotifyUser(ctx, input.RequestedBy, hub.EventFeedAddFailed, hub.FeedAddFailedPayload{
			Error:       reason,
			OriginalURL: input.FeedURL,
			PendingID:   input.PendingID,
		})

		return true, nil
	})
	if err != nil {
		return err
	}

	return Fatal(errors.New(reason))
}

func validFeedURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
