package pushnotification

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskdesk/internal/config"
	"github.com/kazz187/taskdesk/internal/pushsubscription"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/connectjson"
)

const ServiceName = "taskdesk.v1.PushNotificationService"

type GetVapidPublicKeyRequest struct{}

type GetVapidPublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

type RegisterPushSubscriptionRequest struct {
	UserID    string `json:"user_id"`
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

type UnregisterPushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
}

type SendTestNotificationRequest struct {
	UserID string `json:"user_id"`
}

type SendTestNotificationResponse struct {
	Delivered int `json:"delivered"`
}

type Empty struct{}

type Server struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	sender   *Sender
}

func NewServer(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, sender *Sender) *Server {
	return &Server{
		vapidEnv: vapidEnv,
		repo:     repo,
		sender:   sender,
	}
}

func NewPushNotificationServiceHandler(s *Server, opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	connectjson.Unary(svc, "GetVapidPublicKey", s.GetVapidPublicKey)
	connectjson.Unary(svc, "RegisterPushSubscription", s.RegisterPushSubscription)
	connectjson.Unary(svc, "UnregisterPushSubscription", s.UnregisterPushSubscription)
	connectjson.Unary(svc, "SendTestNotification", s.SendTestNotification)
	return svc.Handler()
}

func (s *Server) publicKey() (string, error) {
	if s.vapidEnv.VAPIDPublicKey == "" {
		return "", cerr.NewError(cerr.FailedPrecondition, "VAPID keys not configured", nil)
	}
	return s.vapidEnv.VAPIDPublicKey, nil
}

func (s *Server) GetVapidPublicKey(_ context.Context, _ *connect.Request[GetVapidPublicKeyRequest]) (*connect.Response[GetVapidPublicKeyResponse], error) {
	key, err := s.publicKey()
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&GetVapidPublicKeyResponse{PublicKey: key}), nil
}

// HandleVapidPublicKey serves the key over plain HTTP for service workers;
// it runs behind cerr.NewJSONChiMiddleware.
func (s *Server) HandleVapidPublicKey(_ http.ResponseWriter, r *http.Request) {
	key, err := s.publicKey()
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), &GetVapidPublicKeyResponse{PublicKey: key})
}

func (s *Server) RegisterPushSubscription(ctx context.Context, req *connect.Request[RegisterPushSubscriptionRequest]) (*connect.Response[Empty], error) {
	switch {
	case req.Msg.UserID == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "user_id is required", nil)
	case req.Msg.Endpoint == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "endpoint is required", nil)
	case req.Msg.P256dhKey == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "p256dh_key is required", nil)
	case req.Msg.AuthKey == "":
		return nil, cerr.NewError(cerr.InvalidArgument, "auth_key is required", nil)
	}

	sub := &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		UserID:    req.Msg.UserID,
		Endpoint:  req.Msg.Endpoint,
		P256dhKey: req.Msg.P256dhKey,
		AuthKey:   req.Msg.AuthKey,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Save(ctx, sub); err != nil {
		return nil, err
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Server) UnregisterPushSubscription(ctx context.Context, req *connect.Request[UnregisterPushSubscriptionRequest]) (*connect.Response[Empty], error) {
	if req.Msg.Endpoint == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "endpoint is required", nil)
	}
	if err := s.repo.DeleteByEndpoint(ctx, req.Msg.Endpoint); err != nil {
		return nil, err
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Server) SendTestNotification(ctx context.Context, req *connect.Request[SendTestNotificationRequest]) (*connect.Response[SendTestNotificationResponse], error) {
	if req.Msg.UserID == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "user_id is required", nil)
	}
	delivered := s.sender.SendToUser(ctx, req.Msg.UserID, &NotificationPayload{
		Title: "taskdesk",
		Body:  "Push notifications are working!",
	})
	return connect.NewResponse(&SendTestNotificationResponse{Delivered: delivered}), nil
}
