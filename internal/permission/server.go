package permission

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/connectjson"
)

const ServiceName = "taskdesk.v1.DirectoryService"

type GetStandingRequest struct {
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
}

type GetStandingResponse struct {
	Standing   Standing `json:"standing"`
	IsApprover bool     `json:"is_approver"`
}

type Server struct {
	gate *Gate
}

func NewServer(gate *Gate) *Server {
	return &Server{gate: gate}
}

func NewDirectoryServiceHandler(s *Server, opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	connectjson.Unary(svc, "GetStanding", s.GetStanding)
	return svc.Handler()
}

func (s *Server) GetStanding(ctx context.Context, req *connect.Request[GetStandingRequest]) (*connect.Response[GetStandingResponse], error) {
	if req.Msg.TaskID == "" || req.Msg.UserID == "" {
		return nil, task.ValidationError("task_id", "task_id.required", "task_id and user_id are required")
	}
	st, err := s.gate.ResolveApproverStanding(ctx, req.Msg.TaskID, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&GetStandingResponse{Standing: st, IsApprover: st.IsApprover()}), nil
}
