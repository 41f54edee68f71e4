package task

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskdesk/internal/eventbus"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/clog"
	"github.com/kazz187/taskdesk/pkg/connectjson"
)

const ServiceName = "taskdesk.v1.TaskService"

type CreateTaskRequest struct {
	Actor            string     `json:"actor"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	ProjectID        string     `json:"project_id,omitempty"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	Priority         int        `json:"priority"`
	DelegateApproval bool       `json:"delegate_approval,omitempty"`
}

type TaskResponse struct {
	Task *Task `json:"task"`
}

type GetTaskRequest struct {
	ID string `json:"id"`
}

type ListTasksRequest struct {
	ProjectID      string         `json:"project_id,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
	WorkStatus     WorkStatus     `json:"work_status,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approval_status,omitempty"`
	PooledOnly     bool           `json:"pooled_only,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	Offset         int            `json:"offset,omitempty"`
}

type ListTasksResponse struct {
	Tasks []*Task `json:"tasks"`
	Total int     `json:"total"`
}

type SubscribeTasksRequest struct {
	TaskID    string `json:"task_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// TaskEvent carries a change-feed event and the task snapshot read after it.
type TaskEvent struct {
	Event *eventbus.Event `json:"event"`
	Task  *Task           `json:"task,omitempty"`
}

type Server struct {
	repo     Repository
	eventBus *eventbus.Bus
}

func NewServer(repo Repository, eventBus *eventbus.Bus) *Server {
	return &Server{
		repo:     repo,
		eventBus: eventBus,
	}
}

func NewTaskServiceHandler(s *Server, opts ...connect.HandlerOption) (string, http.Handler) {
	svc := connectjson.NewService(ServiceName, opts...)
	connectjson.Unary(svc, "CreateTask", s.CreateTask)
	connectjson.Unary(svc, "GetTask", s.GetTask)
	connectjson.Unary(svc, "ListTasks", s.ListTasks)
	connectjson.ServerStream(svc, "SubscribeTasks", s.SubscribeTasks)
	return svc.Handler()
}

func (s *Server) CreateTask(ctx context.Context, req *connect.Request[CreateTaskRequest]) (*connect.Response[TaskResponse], error) {
	if req.Msg.Actor == "" {
		return nil, ValidationError("actor", "actor.required", "actor is required")
	}
	clog.AddActor(ctx, req.Msg.Actor)

	now := time.Now()
	t := &Task{
		ID:               ulid.Make().String(),
		Title:            req.Msg.Title,
		Description:      req.Msg.Description,
		ProjectID:        req.Msg.ProjectID,
		CreatedBy:        req.Msg.Actor,
		DueDate:          req.Msg.DueDate,
		Priority:         req.Msg.Priority,
		WorkStatus:       WorkStatusPending,
		ApprovalStatus:   ApprovalStatusNone,
		DelegateApproval: req.Msg.DelegateApproval,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	clog.AddTask(ctx, t.ID)
	PublishChange(s.eventBus, eventbus.EventTaskCreated, t)

	return connect.NewResponse(&TaskResponse{Task: t}), nil
}

func (s *Server) GetTask(ctx context.Context, req *connect.Request[GetTaskRequest]) (*connect.Response[TaskResponse], error) {
	if req.Msg.ID == "" {
		return nil, ValidationError("id", "id.required", "id is required")
	}
	t, err := s.repo.Get(ctx, req.Msg.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&TaskResponse{Task: t}), nil
}

func (s *Server) ListTasks(ctx context.Context, req *connect.Request[ListTasksRequest]) (*connect.Response[ListTasksResponse], error) {
	limit := 50
	if req.Msg.Limit > 0 {
		limit = req.Msg.Limit
	}
	if req.Msg.Offset < 0 {
		return nil, cerr.NewError(cerr.InvalidArgument, "offset must not be negative", nil)
	}
	tasks, total, err := s.repo.List(ctx, Filter{
		ProjectID:      req.Msg.ProjectID,
		CreatedBy:      req.Msg.CreatedBy,
		WorkStatus:     req.Msg.WorkStatus,
		ApprovalStatus: req.Msg.ApprovalStatus,
		PooledOnly:     req.Msg.PooledOnly,
		Limit:          limit,
		Offset:         req.Msg.Offset,
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListTasksResponse{Tasks: tasks, Total: total}), nil
}

// SubscribeTasks streams task and assignment changes. Viewers use it to
// refresh stale state after another actor has acted.
func (s *Server) SubscribeTasks(ctx context.Context, req *connect.Request[SubscribeTasksRequest], stream *connect.ServerStream[TaskEvent]) error {
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
			taskID := event.Metadata[MetadataTaskID]
			if taskID == "" {
				continue
			}
			switch event.Type {
			case eventbus.EventTaskCreated, eventbus.EventTaskUpdated,
				eventbus.EventAssignmentCreated, eventbus.EventAssignmentUpdated:
			default:
				continue
			}
			if req.Msg.TaskID != "" && taskID != req.Msg.TaskID {
				continue
			}
			if req.Msg.ProjectID != "" && event.Metadata[MetadataProjectID] != req.Msg.ProjectID {
				continue
			}
			msg := &TaskEvent{Event: event}
			if t, err := s.repo.Get(ctx, taskID); err == nil {
				msg.Task = t
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

const (
	MetadataTaskID    = "task_id"
	MetadataProjectID = "project_id"
)

// PublishChange announces a task write on the change feed.
func PublishChange(bus *eventbus.Bus, eventType eventbus.EventType, t *Task) {
	bus.PublishNew(eventType, t.ID, map[string]string{
		MetadataTaskID:    t.ID,
		MetadataProjectID: t.ProjectID,
	})
}
