package api

import (
	"github.com/feedhive/feedhive/app/database"
	"github.com/feedhive/feedhive/app/hub"
	"github.com/feedhive/feedhive/app/jobs"
)

// JobEnqueuer is the slice of the job engine the API needs: fire-and-forget
// submission of named job instances.
type JobEnqueuer interface {
	Enqueue(jobName string, input interface{}) (string, error)
}

var _ JobEnqueuer = (*jobs.Engine)(nil)

// NotificationHub registers live user connections and reports on them
type NotificationHub interface {
	AddConnection(userID string, conn hub.Conn)
	RemoveConnection(userID string, conn hub.Conn)
	ConnectionCount() int
}

var _ NotificationHub = (*hub.Hub)(nil)

type Handler struct {
	feedRepo         database.FeedRepository
	articleRepo      database.ArticleRepository
	subscriptionRepo database.SubscriptionRepository
	stateRepo        database.UserArticleStateRepository
	pendingRepo      database.PendingFeedRepository
	jobRepo          database.JobRepository
	enqueuer         JobEnqueuer
	hub              NotificationHub
	identity         Identity
}
