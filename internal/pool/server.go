package pool

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/connectjson"
)

const ServiceName = "taskdesk.v1.PoolService"

type RequestClaimRequest struct {
	TaskID string `json:"task_id"`
	Actor  string `json:"actor"`
}

// ClaimDecisionRequest approves or rejects ClaimantID's claim.
type ClaimDecisionRequest struct {
	TaskID     string `json:"task_id"`
	ClaimantID string `json:"claimant_id"`
	Actor      string `json:"actor"`
}

type ReturnToPoolRequest struct {
	TaskID     string   `json:"task_id"`
	Actor      string   `json:"actor"`
	Candidates []string `json:"candidates,omitempty"`
}

type Server struct {
	engine *Engine
}

func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

func NewPoolServiceHandler(s *Server, opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	connectjson.Unary(svc, "RequestClaim", s.RequestClaim)
	connectjson.Unary(svc, "ApproveClaim", s.ApproveClaim)
	connectjson.Unary(svc, "RejectClaim", s.RejectClaim)
	connectjson.Unary(svc, "ReturnToPool", s.ReturnToPool)
	return svc.Handler()
}

func (s *Server) RequestClaim(ctx context.Context, req *connect.Request[RequestClaimRequest]) (*connect.Response[assignment.Result], error) {
	if err := required(req.Msg.TaskID, req.Msg.Actor); err != nil {
		return nil, err
	}
	res, err := s.engine.RequestClaim(ctx, req.Msg.TaskID, req.Msg.Actor)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(res), nil
}

func (s *Server) ApproveClaim(ctx context.Context, req *connect.Request[ClaimDecisionRequest]) (*connect.Response[assignment.Result], error) {
	if err := requiredClaim(req.Msg); err != nil {
		return nil, err
	}
	res, err := s.engine.ApproveClaim(ctx, req.Msg.TaskID, req.Msg.ClaimantID, req.Msg.Actor)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(res), nil
}

func (s *Server) RejectClaim(ctx context.Context, req *connect.Request[ClaimDecisionRequest]) (*connect.Response[assignment.Result], error) {
	if err := requiredClaim(req.Msg); err != nil {
		return nil, err
	}
	res, err := s.engine.RejectClaim(ctx, req.Msg.TaskID, req.Msg.ClaimantID, req.Msg.Actor)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(res), nil
}

func (s *Server) ReturnToPool(ctx context.Context, req *connect.Request[ReturnToPoolRequest]) (*connect.Response[assignment.Result], error) {
	if err := required(req.Msg.TaskID, req.Msg.Actor); err != nil {
		return nil, err
	}
	res, err := s.engine.ReturnToPool(ctx, req.Msg.TaskID, req.Msg.Actor, req.Msg.Candidates)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(res), nil
}

func requiredClaim(req *ClaimDecisionRequest) error {
	if req.ClaimantID == "" {
		return task.ValidationError("claimant_id", "claimant_id.required", "claimant_id is required")
	}
	return required(req.TaskID, req.Actor)
}

func required(taskID, actor string) error {
	if taskID == "" {
		return task.ValidationError("task_id", "task_id.required", "task_id is required")
	}
	if actor == "" {
		return task.ValidationError("actor", "actor.required", "actor is required")
	}
	return nil
}
