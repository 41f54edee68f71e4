package notification

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskdesk/internal/eventbus"
	"github.com/kazz187/taskdesk/pkg/clog"
)

const MetadataRecipientID = "recipient_id"

// Notifier stores notifications and announces them on the change feed.
type Notifier struct {
	repo     Repository
	eventBus *eventbus.Bus
}

func NewNotifier(repo Repository, eventBus *eventbus.Bus) *Notifier {
	return &Notifier{repo: repo, eventBus: eventBus}
}

// Notify creates one notification per recipient. Recipients listed twice get
// a single notification. Notifications are side effects of a transition that
// has already been committed, so a failed write is logged and the remaining
// recipients are still served; the first error is returned.
func (n *Notifier) Notify(ctx context.Context, recipients []string, typ Type, taskID string, metadata map[string]string) ([]*Notification, error) {
	var (
		created  []*Notification
		firstErr error
		seen     = make(map[string]struct{}, len(recipients))
	)
	for _, recipient := range recipients {
		if recipient == "" {
			continue
		}
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}

		notif := &Notification{
			ID:          ulid.Make().String(),
			RecipientID: recipient,
			Type:        typ,
			RelatedID:   taskID,
			Metadata:    maps.Clone(metadata),
			CreatedAt:   time.Now(),
		}
		if err := n.repo.Create(ctx, notif); err != nil {
			slog.ErrorContext(ctx, "failed to create notification",
				"recipient_id", recipient, "type", typ, clog.TaskAttributeKey, taskID, clog.ErrorAttributeKey, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n.Publish(eventbus.EventNotificationCreated, notif)
		created = append(created, notif)
	}
	return created, firstErr
}

func (n *Notifier) Publish(eventType eventbus.EventType, notif *Notification) {
	n.eventBus.PublishNew(eventType, notif.ID, map[string]string{
		MetadataRecipientID: notif.RecipientID,
		"task_id":           notif.RelatedID,
		"type":              string(notif.Type),
	})
}
