package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/feedhive/feedhive/app/database"
)

const JobSweep = "sweep"

type SweepResult struct {
	Triggered int `json:"triggered"`
}

// SweepJob finds active feeds whose refresh interval has elapsed and
// triggers a refresh for each
type SweepJob struct {
	feedRepo database.FeedRepository
}

func NewSweepJob(feedRepo database.FeedRepository) *SweepJob {
	return &SweepJob{feedRepo: feedRepo}
}

// Never more than one sweep in flight, overlapping schedules collapse
func (j *SweepJob) Definition() *Definition {
	return &Definition{
		Name:        JobSweep,
		MaxRetries:  DefaultMaxRetries,
		Concurrency: &ConcurrencyPolicy{Limit: 1},
		Handler:     j.Execute,
	}
}

func (j *SweepJob) Execute(ctx context.Context, run *Run) (interface{}, error) {
	due, err := Step(ctx, run, "select-due", func(ctx context.Context) ([]int64, error) {
		feeds, err := j.feedRepo.GetFeedsDue(time.Now().UTC())
		if err != nil {
			return nil, err
		}

		ids := make([]int64, len(feeds))
		for i, f := range feeds {
			ids[i] = f.ID
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}

	triggered, err := Step(ctx, run, "enqueue-refreshes", func(ctx context.Context) (int, error) {
		count := 0

		for _, feedID := range due {
			if _, err := run.Trigger(JobFeedRefresh, FeedRefreshInput{FeedID: feedID}); err != nil {
				slog.Warn("Failed to trigger feed refresh", "feed", feedID, "error", err)
				continue
			}
			count++
		}

		return count, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Sweep completed", "due", len(due), "triggered", triggered)

	return &SweepResult{Triggered: triggered}, nil
}
