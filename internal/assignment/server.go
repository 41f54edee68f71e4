package assignment

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/connectjson"
)

const ServiceName = "taskdesk.v1.AssignmentService"

type AssignRequest struct {
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
	Actor  string `json:"actor"`
}

// ActRequest addresses a transition on an existing assignment. Reason is
// required when rejecting or refusing a rejection.
type ActRequest struct {
	AssignmentID string `json:"assignment_id"`
	Actor        string `json:"actor"`
	Reason       string `json:"reason,omitempty"`
}

type GetAssignmentRequest struct {
	ID string `json:"id"`
}

type AssignmentResponse struct {
	Assignment *Assignment `json:"assignment"`
}

type ListAssignmentsRequest struct {
	TaskID string `json:"task_id"`
}

type ListAssignmentsResponse struct {
	Assignments []*Assignment `json:"assignments"`
}

type Server struct {
	engine *Engine
	repo   Repository
}

func NewServer(engine *Engine, repo Repository) *Server {
	return &Server{
		engine: engine,
		repo:   repo,
	}
}

func NewAssignmentServiceHandler(s *Server, opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	connectjson.Unary(svc, "Assign", s.Assign)
	connectjson.Unary(svc, "Accept", s.act(s.engine.Accept))
	connectjson.Unary(svc, "Reject", s.actWithReason(s.engine.Reject))
	connectjson.Unary(svc, "ApproveRejection", s.act(s.engine.ApproveRejection))
	connectjson.Unary(svc, "RejectRejection", s.actWithReason(s.engine.RejectRejection))
	connectjson.Unary(svc, "Complete", s.act(s.engine.Complete))
	connectjson.Unary(svc, "GetAssignment", s.GetAssignment)
	connectjson.Unary(svc, "ListAssignments", s.ListAssignments)
	return svc.Handler()
}

func (s *Server) Assign(ctx context.Context, req *connect.Request[AssignRequest]) (*connect.Response[Result], error) {
	if err := requireActor(req.Msg.Actor); err != nil {
		return nil, err
	}
	res, err := s.engine.Assign(ctx, req.Msg.TaskID, req.Msg.UserID, req.Msg.Actor)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(res), nil
}

type unaryFunc = func(context.Context, *connect.Request[ActRequest]) (*connect.Response[Result], error)

func (s *Server) act(fn func(ctx context.Context, assignmentID, actor string) (*Result, error)) unaryFunc {
	return s.actWithReason(func(ctx context.Context, assignmentID, actor, _ string) (*Result, error) {
		return fn(ctx, assignmentID, actor)
	})
}

func (s *Server) actWithReason(fn func(ctx context.Context, assignmentID, actor, reason string) (*Result, error)) unaryFunc {
	return func(ctx context.Context, req *connect.Request[ActRequest]) (*connect.Response[Result], error) {
		if err := requireActor(req.Msg.Actor); err != nil {
			return nil, err
		}
		if req.Msg.AssignmentID == "" {
			return nil, task.ValidationError("assignment_id", "assignment_id.required", "assignment_id is required")
		}
		res, err := fn(ctx, req.Msg.AssignmentID, req.Msg.Actor, req.Msg.Reason)
		if err != nil {
			return nil, err
		}
		return connect.NewResponse(res), nil
	}
}

func (s *Server) GetAssignment(ctx context.Context, req *connect.Request[GetAssignmentRequest]) (*connect.Response[AssignmentResponse], error) {
	if req.Msg.ID == "" {
		return nil, task.ValidationError("id", "id.required", "id is required")
	}
	a, err := s.repo.Get(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&AssignmentResponse{Assignment: a}), nil
}

func (s *Server) ListAssignments(ctx context.Context, req *connect.Request[ListAssignmentsRequest]) (*connect.Response[ListAssignmentsResponse], error) {
	if req.Msg.TaskID == "" {
		return nil, task.ValidationError("task_id", "task_id.required", "task_id is required")
	}
	list, err := s.repo.ListByTask(ctx, req.Msg.TaskID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListAssignmentsResponse{Assignments: list}), nil
}

func requireActor(actor string) error {
	if actor == "" {
		return task.ValidationError("actor", "actor.required", "actor is required")
	}
	return nil
}
