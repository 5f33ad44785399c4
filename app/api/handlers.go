package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feedhive/feedhive/app/database"
	"github.com/feedhive/feedhive/app/jobs"
)

type addFeedRequest struct {
	URL      string `json:"url"`
	Category string `json:"category"`
}

type chooseCandidateRequest struct {
	URL      string `json:"url"`
	Category string `json:"category"`
}

type articleStateRequest struct {
	Read       *bool `json:"read"`
	Bookmarked *bool `json:"bookmarked"`
	Favorite   *bool `json:"favorite"`
}

type feedActiveRequest struct {
	Active *bool `json:"active"`
}

// AddFeed accepts a URL for ingestion. The heavy lifting (fetch, parse,
// discovery) happens in the add-feed job; the response only carries the
// pending request id the client can correlate notifications with.
func (h *Handler) AddFeed(c *gin.Context) {
	var req addFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing feed URL"})
		return
	}

	userID := currentUser(c)
	pendingID := uuid.NewString()

	if err := h.pendingRepo.CreateRequest(pendingID, req.URL, userID); err != nil {
		slog.Error("Database error", "operation", "create_pending_request", "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	input := jobs.AddFeedInput{
		FeedURL:     req.URL,
		Category:    req.Category,
		RequestedBy: userID,
		PendingID:   pendingID,
	}

	if _, err := h.enqueuer.Enqueue(jobs.JobAddFeed, input); err != nil {
		slog.Error("Error enqueueing add-feed job", "url", req.URL, "error", err)
		if markErr := h.pendingRepo.MarkFailed(pendingID, "failed to enqueue add-feed job"); markErr != nil {
			slog.Warn("Failed to mark pending request failed", "pending_id", pendingID, "error", markErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue add-feed job",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"pendingId": pendingID})
}

// ChooseFeedCandidate resolves an ambiguous add-feed request by
// resubmitting one of its discovered candidates under the same pending id
func (h *Handler) ChooseFeedCandidate(c *gin.Context) {
	id := c.Param("id")

	var req chooseCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing candidate URL"})
		return
	}

	pending, err := h.pendingRepo.GetRequest(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_pending_request", "pending_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if pending == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pending request not found"})
		return
	}

	if pending.RequestedBy != currentUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Pending request belongs to another user"})
		return
	}

	if pending.Status != database.PendingStatusAmbiguous {
		c.JSON(http.StatusConflict, gin.H{"error": "Pending request is not awaiting a choice"})
		return
	}

	chosen := ""
	for _, candidate := range pending.Candidates {
		if candidate == req.URL {
			chosen = candidate
			break
		}
	}

	if chosen == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is not one of the discovered candidates"})
		return
	}

	input := jobs.AddFeedInput{
		FeedURL:     chosen,
		Category:    req.Category,
		RequestedBy: pending.RequestedBy,
		PendingID:   pending.ID,
	}

	if _, err := h.enqueuer.Enqueue(jobs.JobAddFeed, input); err != nil {
		slog.Error("Error enqueueing add-feed job", "url", chosen, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue add-feed job",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"pendingId": pending.ID})
}

// RefreshFeed enqueues an immediate refresh of a feed the caller is
// subscribed to
func (h *Handler) RefreshFeed(c *gin.Context) {
	feedID, ok := idParam(c, "feed id")
	if !ok {
		return
	}

	feed, err := h.feedRepo.GetFeed(feedID)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if feed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	userID := currentUser(c)
	subscribed, err := h.subscriptionRepo.IsSubscribed(userID, feedID)
	if err != nil {
		slog.Error("Database error", "operation", "check_subscription", "feed", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if !subscribed {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not subscribed to this feed"})
		return
	}

	jobID, err := h.enqueuer.Enqueue(jobs.JobFeedRefresh, jobs.FeedRefreshInput{FeedID: feedID})
	if err != nil {
		slog.Error("Error enqueueing feed refresh", "feed", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue feed refresh",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

// ListFeeds returns the caller's subscriptions joined with feed info
func (h *Handler) ListFeeds(c *gin.Context) {
	userID := currentUser(c)

	subscriptions, err := h.subscriptionRepo.GetSubscribedFeeds(userID)
	if err != nil {
		slog.Error("Database error", "operation", "list_subscribed_feeds", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	feeds := make([]map[string]interface{}, 0, len(subscriptions))

	for _, sub := range subscriptions {
		feeds = append(feeds, map[string]interface{}{
			"id":            sub.ID,
			"url":           sub.URL,
			"slug":          sub.Slug,
			"title":         sub.Title,
			"description":   sub.Description,
			"link":          sub.Link,
			"category":      sub.Category,
			"isActive":      sub.IsActive,
			"errorCount":    sub.ErrorCount,
			"lastFetchedAt": sub.LastFetchedAt,
			"lastSuccessAt": sub.LastSuccessAt,
			"subscribedAt":  sub.SubscribedAt,
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"total": len(feeds),
	})
}

// Unsubscribe removes the caller's subscription. The feed row itself
// stays: other users may be subscribed, and re-adding is cheap.
func (h *Handler) Unsubscribe(c *gin.Context) {
	feedID, ok := idParam(c, "feed id")
	if !ok {
		return
	}

	userID := currentUser(c)
	subscribed, err := h.subscriptionRepo.IsSubscribed(userID, feedID)
	if err != nil {
		slog.Error("Database error", "operation", "check_subscription", "feed", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if !subscribed {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
		return
	}

	if err := h.subscriptionRepo.Unsubscribe(userID, feedID); err != nil {
		slog.Error("Database error", "operation", "unsubscribe", "feed", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// UpdateArticleState upserts the caller's read/bookmark/favorite flags on
// an article. Omitted flags keep their current value.
func (h *Handler) UpdateArticleState(c *gin.Context) {
	articleID, ok := idParam(c, "article id")
	if !ok {
		return
	}

	var req articleStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.Read == nil && req.Bookmarked == nil && req.Favorite == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No state flags provided"})
		return
	}

	article, err := h.articleRepo.GetArticle(articleID)
	if err != nil {
		slog.Error("Database error", "operation", "get_article", "article", articleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if article == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Article not found"})
		return
	}

	state, err := h.stateRepo.UpsertState(currentUser(c), articleID, req.Read, req.Bookmarked, req.Favorite)
	if err != nil {
		slog.Error("Database error", "operation", "upsert_article_state", "article", articleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"articleId":  state.ArticleID,
		"read":       state.IsRead,
		"bookmarked": state.IsBookmarked,
		"favorite":   state.IsFavorite,
		"readAt":     state.ReadAt,
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		health["feeds"] = feedCount
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{
		"connections": h.hub.ConnectionCount(),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		stats["feeds"] = feedCount
	}

	if activeCount, err := h.feedRepo.GetActiveFeedCount(); err == nil {
		stats["activeFeeds"] = activeCount
	}

	if articleCount, err := h.articleRepo.GetArticleCount(); err == nil {
		stats["articles"] = articleCount
	}

	if counts, err := h.jobRepo.CountByStatus(); err == nil {
		byStatus := make(map[string]int, len(counts))
		for status, count := range counts {
			byStatus[string(status)] = count
		}
		stats["jobs"] = byStatus
	}

	c.JSON(http.StatusOK, stats)
}

// TriggerSweep enqueues an immediate sweep outside the cron schedule
func (h *Handler) TriggerSweep(c *gin.Context) {
	jobID, err := h.enqueuer.Enqueue(jobs.JobSweep, nil)
	if err != nil {
		slog.Error("Error enqueueing sweep", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue sweep",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

// SetFeedActive toggles a feed in or out of the refresh rotation
func (h *Handler) SetFeedActive(c *gin.Context) {
	feedID, ok := idParam(c, "feed id")
	if !ok {
		return
	}

	var req feedActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing active flag"})
		return
	}

	feed, err := h.feedRepo.GetFeed(feedID)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if feed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	if err := h.feedRepo.SetFeedActive(feedID, *req.Active); err != nil {
		slog.Error("Database error", "operation", "set_feed_active", "feed", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": feedID, "active": *req.Active})
}

func idParam(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + what})
		return 0, false
	}

	return id, true
}
