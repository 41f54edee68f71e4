package pushnotification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kazz187/taskdesk/internal/eventbus"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/clog"
)

// Dispatcher pushes every newly created notification to its recipient's
// browsers.
type Dispatcher struct {
	eventBus      *eventbus.Bus
	notifications notification.Repository
	tasks         task.Repository
	sender        *Sender
}

func NewDispatcher(eventBus *eventbus.Bus, notifications notification.Repository, tasks task.Repository, sender *Sender) *Dispatcher {
	return &Dispatcher{
		eventBus:      eventBus,
		notifications: notifications,
		tasks:         tasks,
		sender:        sender,
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	subID, ch := d.eventBus.Subscribe(256)
	defer d.eventBus.Unsubscribe(subID)

	slog.InfoContext(ctx, "push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "push notification dispatcher stopped")
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			if event.Type == eventbus.EventNotificationCreated {
				d.handleNotificationCreated(ctx, event)
			}
		}
	}
}

func (d *Dispatcher) handleNotificationCreated(ctx context.Context, event *eventbus.Event) {
	n, err := d.notifications.Get(ctx, event.ResourceID)
	if err != nil {
		slog.ErrorContext(ctx, "push dispatcher: failed to get notification", "id", event.ResourceID, clog.ErrorAttributeKey, err)
		return
	}
	payload := &NotificationPayload{
		Title: title(n.Type),
		URL:   fmt.Sprintf("/tasks/%s", n.RelatedID),
		Tag:   n.ID,
	}
	if t, err := d.tasks.Get(ctx, n.RelatedID); err == nil {
		payload.Body = t.Title
	}
	d.sender.SendToUser(ctx, n.RecipientID, payload)
}

func title(typ notification.Type) string {
	switch typ {
	case notification.TypeTaskAssigned:
		return "New assignment"
	case notification.TypeTaskRejection:
		return "Assignment refused"
	case notification.TypeTaskApproval:
		return "Approval requested"
	case notification.TypeTaskPoolRequest:
		return "Claim requested"
	case notification.TypeTaskPoolOpen:
		return "Task open for claims"
	case notification.TypeTaskClaimApproved:
		return "Claim approved"
	case notification.TypeTaskClaimRejected:
		return "Claim rejected"
	case notification.TypeTaskClaimSuperseded:
		return "Task taken by someone else"
	case notification.TypeTaskApproved:
		return "Work approved"
	case notification.TypeTaskApprovalReject:
		return "Work sent back"
	case notification.TypeTaskRejectionReject:
		return "Refusal declined"
	default:
		return "Task updated"
	}
}
