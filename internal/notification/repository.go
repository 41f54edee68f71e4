package notification

import (
	"context"
	"time"

	"github.com/kazz187/taskdesk/internal/task"
)

// PatchFunc edits a notification in place. Returning an error aborts the
// update and leaves the stored record unchanged.
type PatchFunc func(n *Notification) error

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	// Update applies patch atomically against the stored record.
	Update(ctx context.Context, id string, patch PatchFunc) (*Notification, error)
}

func MarkRead(ctx context.Context, repo Repository, id string) (*Notification, error) {
	return repo.Update(ctx, id, func(n *Notification) error {
		n.Read = true
		return nil
	})
}

// MarkConsumed stamps the consumed-action marker. It fails with
// AlreadyProcessed when another action consumed the notification first.
func MarkConsumed(ctx context.Context, repo Repository, id string, action Action, actor string, at time.Time) (*Notification, error) {
	return repo.Update(ctx, id, func(n *Notification) error {
		if n.IsConsumed() {
			return alreadyConsumed(n)
		}
		n.Action = action
		n.ActedBy = actor
		n.ActedAt = &at
		n.Read = true
		return nil
	})
}

func alreadyConsumed(n *Notification) error {
	return task.AlreadyProcessed("notification %s was already handled (%s by %s)", n.ID, n.Action, n.ActedBy)
}
