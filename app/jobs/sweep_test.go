package jobs

import (
	"encoding/json"
	"testing"

	"github.com/feedhive/feedhive/app/database"
)

func TestSweepTriggersDueFeeds(t *testing.T) {
	jobRepo := newFakeJobRepo()
	feedRepo := newFakeFeedRepo()
	feedRepo.due = []database.Feed{
		{ID: 4, Title: "Tech Digest"},
		{ID: 9, Title: "Example Blog"},
	}

	engine := NewEngine(jobRepo, 1)
	if err := engine.Register(NewSweepJob(feedRepo).Definition()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	registerStub(t, engine, JobFeedRefresh)

	id, err := engine.Enqueue(JobSweep, struct{}{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	runInstance(t, engine, id)

	instance, _ := jobRepo.GetInstance(id)
	if instance.Status != database.JobStatusCompleted {
		t.Fatalf("Expected completed sweep, got %s: %s", instance.Status, instance.Error)
	}

	refreshes := jobRepo.byJobName(JobFeedRefresh)
	if len(refreshes) != 2 {
		t.Fatalf("Expected 2 refresh jobs, got %d", len(refreshes))
	}

	triggered := make(map[int64]bool)
	for _, refresh := range refreshes {
		var input FeedRefreshInput
		json.Unmarshal(refresh.Input, &input)
		triggered[input.FeedID] = true
	}
	if !triggered[4] || !triggered[9] {
		t.Errorf("Expected refreshes for feeds 4 and 9, got %v", triggered)
	}

	var result SweepResult
	json.Unmarshal(instance.Result, &result)
	if result.Triggered != 2 {
		t.Errorf("Expected 2 triggered refreshes, got %d", result.Triggered)
	}
}

func TestSweepWithNothingDue(t *testing.T) {
	jobRepo := newFakeJobRepo()
	feedRepo := newFakeFeedRepo()

	engine := NewEngine(jobRepo, 1)
	if err := engine.Register(NewSweepJob(feedRepo).Definition()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	registerStub(t, engine, JobFeedRefresh)

	id, err := engine.Enqueue(JobSweep, struct{}{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	runInstance(t, engine, id)

	if status := jobRepo.status(id); status != database.JobStatusCompleted {
		t.Fatalf("Expected completed sweep, got %s", status)
	}

	if refreshes := jobRepo.byJobName(JobFeedRefresh); len(refreshes) != 0 {
		t.Errorf("Expected no refresh jobs, got %d", len(refreshes))
	}
}
