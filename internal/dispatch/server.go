package dispatch

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/connectjson"
)

const ServiceName = "taskdesk.v1.DispatchService"

type ListActionsRequest struct {
	NotificationID string `json:"notification_id"`
}

type ListActionsResponse struct {
	Notification *notification.Notification `json:"notification"`
	Verbs        []Verb                     `json:"verbs"`
}

type Server struct {
	router        *Router
	notifications notification.Repository
}

func NewServer(router *Router, notifications notification.Repository) *Server {
	return &Server{
		router:        router,
		notifications: notifications,
	}
}

func NewDispatchServiceHandler(s *Server, opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	connectjson.Unary(svc, "Dispatch", s.Dispatch)
	connectjson.Unary(svc, "ListActions", s.ListActions)
	return svc.Handler()
}

func (s *Server) Dispatch(ctx context.Context, req *connect.Request[Request]) (*connect.Response[Result], error) {
	res, err := s.router.Dispatch(ctx, *req.Msg)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(res), nil
}

// ListActions tells a client which buttons to render for a notification.
func (s *Server) ListActions(ctx context.Context, req *connect.Request[ListActionsRequest]) (*connect.Response[ListActionsResponse], error) {
	if req.Msg.NotificationID == "" {
		return nil, task.ValidationError("notification_id", "notification_id.required", "notification_id is required")
	}
	n, err := s.notifications.Get(ctx, req.Msg.NotificationID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListActionsResponse{Notification: n, Verbs: s.router.Verbs(n)}), nil
}
