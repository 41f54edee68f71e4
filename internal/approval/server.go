package approval

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/connectjson"
)

const ServiceName = "taskdesk.v1.ApprovalService"

type DecisionRequest struct {
	TaskID string `json:"task_id"`
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

type Server struct {
	engine *Engine
}

func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

func NewApprovalServiceHandler(s *Server, opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	connectjson.Unary(svc, "RequestApproval", s.RequestApproval)
	connectjson.Unary(svc, "Approve", s.Approve)
	connectjson.Unary(svc, "Reject", s.Reject)
	return svc.Handler()
}

func (s *Server) RequestApproval(ctx context.Context, req *connect.Request[DecisionRequest]) (*connect.Response[task.TaskResponse], error) {
	if err := validate(req.Msg); err != nil {
		return nil, err
	}
	t, err := s.engine.RequestApproval(ctx, req.Msg.TaskID, req.Msg.Actor)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&task.TaskResponse{Task: t}), nil
}

func (s *Server) Approve(ctx context.Context, req *connect.Request[DecisionRequest]) (*connect.Response[task.TaskResponse], error) {
	if err := validate(req.Msg); err != nil {
		return nil, err
	}
	t, err := s.engine.Approve(ctx, req.Msg.TaskID, req.Msg.Actor)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&task.TaskResponse{Task: t}), nil
}

func (s *Server) Reject(ctx context.Context, req *connect.Request[DecisionRequest]) (*connect.Response[task.TaskResponse], error) {
	if err := validate(req.Msg); err != nil {
		return nil, err
	}
	t, err := s.engine.Reject(ctx, req.Msg.TaskID, req.Msg.Actor, req.Msg.Reason)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&task.TaskResponse{Task: t}), nil
}

func validate(req *DecisionRequest) error {
	if req.TaskID == "" {
		return task.ValidationError("task_id", "task_id.required", "task_id is required")
	}
	if req.Actor == "" {
		return task.ValidationError("actor", "actor.required", "actor is required")
	}
	return nil
}
