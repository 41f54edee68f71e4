package notification

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskdesk/internal/eventbus"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/clog"
	"github.com/kazz187/taskdesk/pkg/connectjson"
)

const ServiceName = "taskdesk.v1.NotificationService"

type ListNotificationsRequest struct {
	RecipientID string `json:"recipient_id"`
	UnreadOnly  bool   `json:"unread_only,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

type ListNotificationsResponse struct {
	Notifications []*Notification `json:"notifications"`
	Total         int             `json:"total"`
}

type MarkReadRequest struct {
	ID    string `json:"id"`
	Actor string `json:"actor"`
}

type NotificationResponse struct {
	Notification *Notification `json:"notification"`
}

type SubscribeNotificationsRequest struct {
	RecipientID string `json:"recipient_id"`
}

type NotificationEvent struct {
	Event        *eventbus.Event `json:"event"`
	Notification *Notification   `json:"notification,omitempty"`
}

type Server struct {
	repo     Repository
	notifier *Notifier
	eventBus *eventbus.Bus
}

func NewServer(repo Repository, notifier *Notifier, eventBus *eventbus.Bus) *Server {
	return &Server{
		repo:     repo,
		notifier: notifier,
		eventBus: eventBus,
	}
}

func NewNotificationServiceHandler(s *Server, opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	connectjson.Unary(svc, "ListNotifications", s.ListNotifications)
	connectjson.Unary(svc, "MarkRead", s.MarkRead)
	connectjson.ServerStream(svc, "SubscribeNotifications", s.SubscribeNotifications)
	return svc.Handler()
}

func (s *Server) ListNotifications(ctx context.Context, req *connect.Request[ListNotificationsRequest]) (*connect.Response[ListNotificationsResponse], error) {
	if req.Msg.RecipientID == "" {
		return nil, task.ValidationError("recipient_id", "recipient_id.required", "recipient_id is required")
	}
	limit := 50
	if req.Msg.Limit > 0 {
		limit = req.Msg.Limit
	}
	list, total, err := s.repo.List(ctx, req.Msg.RecipientID, req.Msg.UnreadOnly, limit, max(req.Msg.Offset, 0))
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListNotificationsResponse{Notifications: list, Total: total}), nil
}

func (s *Server) MarkRead(ctx context.Context, req *connect.Request[MarkReadRequest]) (*connect.Response[NotificationResponse], error) {
	clog.AddActor(ctx, req.Msg.Actor)
	current, err := s.repo.Get(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	if current.RecipientID != req.Msg.Actor {
		return nil, task.NotAuthorized("notification %s belongs to another user", current.ID)
	}
	if current.Read {
		return connect.NewResponse(&NotificationResponse{Notification: current}), nil
	}
	updated, err := MarkRead(ctx, s.repo, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(eventbus.EventNotificationRead, updated)
	return connect.NewResponse(&NotificationResponse{Notification: updated}), nil
}

// SubscribeNotifications streams the recipient's notification changes, so a
// stale inbox learns when another viewer consumed a shared notification.
func (s *Server) SubscribeNotifications(ctx context.Context, req *connect.Request[SubscribeNotificationsRequest], stream *connect.ServerStream[NotificationEvent]) error {
	if req.Msg.RecipientID == "" {
		return task.ValidationError("recipient_id", "recipient_id.required", "recipient_id is required")
	}
	subID, ch := s.eventBus.Subscribe(64)
	defer s.eventBus.Unsubscribe(subID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			switch event.Type {
			case eventbus.EventNotificationCreated, eventbus.EventNotificationConsumed, eventbus.EventNotificationRead:
			default:
				continue
			}
			if event.Metadata[MetadataRecipientID] != req.Msg.RecipientID {
				continue
			}
			msg := &NotificationEvent{Event: event}
			if n, err := s.repo.Get(ctx, event.ResourceID); err == nil {
				msg.Notification = n
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
