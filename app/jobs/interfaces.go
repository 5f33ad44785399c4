package jobs

import (
	"context"

	"github.com/feedhive/feedhive/app/hub"
)

type EngineInterface interface {
	Start() error
	Stop()
	Enqueue(jobName string, input interface{}) (string, error)
}

// Notifier pushes an event to a user's live connection, reporting whether
// it was delivered
type Notifier interface {
	NotifyUser(ctx context.Context, userID string, event string, payload interface{}) bool
}

var _ Notifier = (*hub.Hub)(nil)
