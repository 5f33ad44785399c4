package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/feedhive/feedhive/app/database"
)

type fakeJobRepo struct {
	mu        sync.Mutex
	order     []string
	instances map[string]*database.JobInstance
	steps     map[string][]byte
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		instances: make(map[string]*database.JobInstance),
		steps:     make(map[string][]byte),
	}
}

func (r *fakeJobRepo) CreateInstance(instance *database.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *instance
	stored.Status = database.JobStatusQueued
	stored.CreatedAt = time.Now().UTC()
	r.instances[stored.ID] = &stored
	r.order = append(r.order, stored.ID)
	return nil
}

func (r *fakeJobRepo) GetInstance(id string) (*database.JobInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instance, ok := r.instances[id]
	if !ok {
		return nil, nil
	}
	clone := *instance
	return &clone, nil
}

func (r *fakeJobRepo) GetIncompleteInstances() ([]database.JobInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var incomplete []database.JobInstance
	for _, id := range r.order {
		instance := r.instances[id]
		if instance.Status == database.JobStatusQueued || instance.Status == database.JobStatusRunning {
			incomplete = append(incomplete, *instance)
		}
	}
	return incomplete, nil
}

func (r *fakeJobRepo) setStatus(id string, status database.JobStatus) error {
	instance, ok := r.instances[id]
	if !ok {
		return fmt.Errorf("job instance %s not found", id)
	}
	instance.Status = status
	return nil
}

func (r *fakeJobRepo) MarkQueued(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setStatus(id, database.JobStatusQueued)
}

func (r *fakeJobRepo) MarkRunning(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setStatus(id, database.JobStatusRunning)
}

func (r *fakeJobRepo) MarkCompleted(id string, result []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setStatus(id, database.JobStatusCompleted); err != nil {
		return err
	}
	r.instances[id].Result = result
	r.instances[id].Error = ""
	return nil
}

func (r *fakeJobRepo) MarkFailed(id string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setStatus(id, database.JobStatusFailed); err != nil {
		return err
	}
	r.instances[id].Error = message
	return nil
}

func (r *fakeJobRepo) ScheduleRetry(id string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setStatus(id, database.JobStatusQueued); err != nil {
		return err
	}
	r.instances[id].RetryCount++
	r.instances[id].Error = message
	return nil
}

func (r *fakeJobRepo) GetStepResult(instanceID, stepName string) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, ok := r.steps[instanceID+"/"+stepName]
	if !ok {
		return nil, false, nil
	}
	return result, true, nil
}

func (r *fakeJobRepo) SaveStepResult(instanceID, stepName string, result []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := instanceID + "/" + stepName
	if _, exists := r.steps[key]; !exists {
		r.steps[key] = result
	}
	return nil
}

func (r *fakeJobRepo) CountByStatus() (map[database.JobStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[database.JobStatus]int)
	for _, instance := range r.instances {
		counts[instance.Status]++
	}
	return counts, nil
}

func (r *fakeJobRepo) status(id string) database.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.instances[id]
	if !ok {
		return ""
	}
	return instance.Status
}

func (r *fakeJobRepo) byJobName(name string) []database.JobInstance {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []database.JobInstance
	for _, id := range r.order {
		if r.instances[id].JobName == name {
			matched = append(matched, *r.instances[id])
		}
	}
	return matched
}

type fakeFeedRepo struct {
	mu         sync.Mutex
	feeds      map[int64]*database.Feed
	nextID     int64
	due        []database.Feed
	lastMeta   map[int64]database.FeedMetadata
	touchCount map[int64]int
}

func newFakeFeedRepo() *fakeFeedRepo {
	return &fakeFeedRepo{
		feeds:      make(map[int64]*database.Feed),
		lastMeta:   make(map[int64]database.FeedMetadata),
		touchCount: make(map[int64]int),
	}
}

func (r *fakeFeedRepo) addFeed(f database.Feed) *database.Feed {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f.ID == 0 {
		r.nextID++
		f.ID = r.nextID
	} else if f.ID > r.nextID {
		r.nextID = f.ID
	}
	r.feeds[f.ID] = &f
	return &f
}

func (r *fakeFeedRepo) GetFeed(id int64) (*database.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.feeds[id]
	if !ok {
		return nil, nil
	}
	clone := *f
	return &clone, nil
}

func (r *fakeFeedRepo) GetFeedByURL(url string) (*database.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.feeds {
		if f.URL == url {
			clone := *f
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeFeedRepo) GetFeedBySlug(slug string) (*database.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.feeds {
		if f.Slug == slug {
			clone := *f
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeFeedRepo) CreateFeed(url, slug, title, feedType string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.feeds {
		if f.URL == url {
			return 0, fmt.Errorf("feed URL already exists: %s", url)
		}
	}

	r.nextID++
	r.feeds[r.nextID] = &database.Feed{
		ID:       r.nextID,
		URL:      url,
		Slug:     slug,
		Title:    title,
		Type:     feedType,
		IsActive: true,
	}
	return r.nextID, nil
}

func (r *fakeFeedRepo) UpdateFeedMetadata(id int64, meta database.FeedMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.feeds[id]
	if !ok {
		return fmt.Errorf("feed %d not found", id)
	}

	now := time.Now().UTC()
	f.Type = meta.Type
	f.Slug = meta.Slug
	f.Title = meta.Title
	f.Description = meta.Description
	f.Link = meta.Link
	f.Language = meta.Language
	f.Author = meta.Author
	f.ImageURL = meta.ImageURL
	f.ImageTitle = meta.ImageTitle
	f.Rights = meta.Rights
	f.Generator = meta.Generator
	f.ETag = meta.ETag
	f.LastModified = meta.LastModified
	f.TTLMinutes = meta.TTLMinutes
	f.LastFetchedAt = &now
	f.LastSuccessAt = &now
	f.ErrorCount = 0
	f.ErrorMessage = ""
	r.lastMeta[id] = meta
	return nil
}

func (r *fakeFeedRepo) RecordFetchError(id int64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.feeds[id]
	if !ok {
		return fmt.Errorf("feed %d not found", id)
	}
	now := time.Now().UTC()
	f.ErrorCount++
	f.ErrorMessage = message
	f.LastFetchedAt = &now
	return nil
}

func (r *fakeFeedRepo) TouchFetched(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.feeds[id]
	if !ok {
		return fmt.Errorf("feed %d not found", id)
	}
	now := time.Now().UTC()
	f.LastFetchedAt = &now
	r.touchCount[id]++
	return nil
}

func (r *fakeFeedRepo) SetFeedActive(id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.feeds[id]
	if !ok {
		return fmt.Errorf("feed %d not found", id)
	}
	f.IsActive = active
	return nil
}

func (r *fakeFeedRepo) GetFeedsDue(now time.Time) ([]database.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]database.Feed(nil), r.due...), nil
}

func (r *fakeFeedRepo) SlugTaken(slug string, excludeID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.feeds {
		if f.Slug == slug && f.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeFeedRepo) GetFeedCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds), nil
}

func (r *fakeFeedRepo) GetActiveFeedCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, f := range r.feeds {
		if f.IsActive {
			count++
		}
	}
	return count, nil
}

func (r *fakeFeedRepo) feed(id int64) database.Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.feeds[id]
}

func (r *fakeFeedRepo) touches(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.touchCount[id]
}

type fakeArticleRepo struct {
	mu       sync.Mutex
	articles map[int64]*database.Article
	nextID   int64
}

func newFakeArticleRepo() *fakeArticleRepo {
	return &fakeArticleRepo{articles: make(map[int64]*database.Article)}
}

func (r *fakeArticleRepo) addArticle(a database.Article) *database.Article {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == 0 {
		r.nextID++
		a.ID = r.nextID
	} else if a.ID > r.nextID {
		r.nextID = a.ID
	}
	if a.FetchStatus == "" {
		a.FetchStatus = database.FetchStatusNone
	}
	r.articles[a.ID] = &a
	return &a
}

func (r *fakeArticleRepo) GetArticle(id int64) (*database.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.articles[id]
	if !ok {
		return nil, nil
	}
	clone := *a
	return &clone, nil
}

func (r *fakeArticleRepo) GetArticlesByFeed(feedID int64, limit int) ([]database.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var articles []database.Article
	for id := int64(1); id <= r.nextID; id++ {
		a, ok := r.articles[id]
		if !ok || a.FeedID != feedID {
			continue
		}
		articles = append(articles, *a)
		if limit > 0 && len(articles) >= limit {
			break
		}
	}
	return articles, nil
}

func (r *fakeArticleRepo) InsertArticle(feedID int64, article database.NewArticle) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.articles {
		if existing.FeedID == feedID && existing.GUID == article.GUID {
			return existing.ID, false, nil
		}
	}

	r.nextID++
	r.articles[r.nextID] = &database.Article{
		ID:          r.nextID,
		FeedID:      feedID,
		GUID:        article.GUID,
		Slug:        article.Slug,
		Title:       article.Title,
		Link:        article.Link,
		Summary:     article.Summary,
		Content:     article.Content,
		Author:      article.Author,
		SourceName:  article.SourceName,
		PublishedAt: article.PublishedAt,
		FetchStatus: database.FetchStatusNone,
	}
	return r.nextID, true, nil
}

func (r *fakeArticleRepo) UpdateExtractedContent(id int64, extracted database.ExtractedContent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.articles[id]
	if !ok {
		return fmt.Errorf("article %d not found", id)
	}

	a.Content = extracted.Content
	if extracted.Summary != "" {
		a.Summary = extracted.Summary
	}
	if extracted.Author != "" {
		a.Author = extracted.Author
	}
	if extracted.SourceName != "" {
		a.SourceName = extracted.SourceName
	}
	if extracted.PublishedAt != nil {
		a.PublishedAt = extracted.PublishedAt
	}
	return nil
}

func (r *fakeArticleRepo) UpdateFetchStatus(id int64, status database.FetchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.articles[id]
	if !ok {
		return fmt.Errorf("article %d not found", id)
	}
	a.FetchStatus = status
	return nil
}

func (r *fakeArticleRepo) SlugTaken(feedID int64, slug string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.articles {
		if a.FeedID == feedID && a.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeArticleRepo) GetArticleCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.articles), nil
}

func (r *fakeArticleRepo) article(id int64) database.Article {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.articles[id]
}

func (r *fakeArticleRepo) countByFeed(feedID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, a := range r.articles {
		if a.FeedID == feedID {
			count++
		}
	}
	return count
}

type fakeSubscriptionRepo struct {
	mu          sync.Mutex
	subscribers map[int64][]string
	failGetOnce bool
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subscribers: make(map[int64][]string)}
}

func (r *fakeSubscriptionRepo) Subscribe(userID string, feedID int64, category string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.subscribers[feedID] {
		if existing == userID {
			return nil
		}
	}
	r.subscribers[feedID] = append(r.subscribers[feedID], userID)
	return nil
}

func (r *fakeSubscriptionRepo) Unsubscribe(userID string, feedID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.subscribers[feedID][:0]
	for _, existing := range r.subscribers[feedID] {
		if existing != userID {
			kept = append(kept, existing)
		}
	}
	r.subscribers[feedID] = kept
	return nil
}

func (r *fakeSubscriptionRepo) IsSubscribed(userID string, feedID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.subscribers[feedID] {
		if existing == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSubscriptionRepo) GetSubscribers(feedID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failGetOnce {
		r.failGetOnce = false
		return nil, fmt.Errorf("database is locked")
	}
	return append([]string(nil), r.subscribers[feedID]...), nil
}

func (r *fakeSubscriptionRepo) GetSubscribedFeeds(userID string) ([]database.SubscribedFeed, error) {
	return nil, nil
}

type fakePendingRepo struct {
	mu       sync.Mutex
	requests map[string]*database.PendingFeedRequest
	resolved map[string]int64
}

func newFakePendingRepo() *fakePendingRepo {
	return &fakePendingRepo{
		requests: make(map[string]*database.PendingFeedRequest),
		resolved: make(map[string]int64),
	}
}

func (r *fakePendingRepo) CreateRequest(id, url, requestedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests[id] = &database.PendingFeedRequest{
		ID:          id,
		URL:         url,
		RequestedBy: requestedBy,
		Status:      database.PendingStatusPending,
	}
	return nil
}

func (r *fakePendingRepo) GetRequest(id string) (*database.PendingFeedRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	clone := *req
	return &clone, nil
}

func (r *fakePendingRepo) ResolveCompleted(id string, feedID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[id]; !ok {
		return fmt.Errorf("pending request %s not found", id)
	}
	delete(r.requests, id)
	r.resolved[id] = feedID
	return nil
}

func (r *fakePendingRepo) MarkFailed(id string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return fmt.Errorf("pending request %s not found", id)
	}
	req.Status = database.PendingStatusFailed
	req.Error = message
	return nil
}

func (r *fakePendingRepo) MarkAmbiguous(id string, candidates []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return fmt.Errorf("pending request %s not found", id)
	}
	req.Status = database.PendingStatusAmbiguous
	req.Candidates = append([]string(nil), candidates...)
	return nil
}

func (r *fakePendingRepo) resolvedFeed(id string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	feedID, ok := r.resolved[id]
	return feedID, ok
}

func (r *fakePendingRepo) request(id string) *database.PendingFeedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil
	}
	clone := *req
	return &clone
}

type notification struct {
	UserID  string
	Event   string
	Payload interface{}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) NotifyUser(ctx context.Context, userID string, event string, payload interface{}) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent = append(n.sent, notification{UserID: userID, Event: event, Payload: payload})
	return true
}

func (n *fakeNotifier) byEvent(event string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	var matched []notification
	for _, sent := range n.sent {
		if sent.Event == event {
			matched = append(matched, sent)
		}
	}
	return matched
}

// runInstance drives one execution attempt synchronously, without workers
func runInstance(t *testing.T, engine *Engine, instanceID string) {
	t.Helper()
	engine.processInstance(0, instanceID)
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}
