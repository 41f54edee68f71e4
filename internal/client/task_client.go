package client

import (
	"context"

	"github.com/kazz187/taskdesk/internal/approval"
	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/pool"
	"github.com/kazz187/taskdesk/internal/task"
)

func (c *Client) CreateTask(ctx context.Context, req *task.CreateTaskRequest) (*task.Task, error) {
	req.Actor = c.user
	res, err := call[task.CreateTaskRequest, task.TaskResponse](ctx, c, task.ServiceName, "CreateTask", req)
	if err != nil {
		return nil, err
	}
	return res.Task, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*task.Task, error) {
	res, err := call[task.GetTaskRequest, task.TaskResponse](ctx, c, task.ServiceName, "GetTask", &task.GetTaskRequest{ID: id})
	if err != nil {
		return nil, err
	}
	return res.Task, nil
}

func (c *Client) ListTasks(ctx context.Context, req *task.ListTasksRequest) (*task.ListTasksResponse, error) {
	return call[task.ListTasksRequest, task.ListTasksResponse](ctx, c, task.ServiceName, "ListTasks", req)
}

func (c *Client) ListAssignments(ctx context.Context, taskID string) ([]*assignment.Assignment, error) {
	res, err := call[assignment.ListAssignmentsRequest, assignment.ListAssignmentsResponse](ctx, c, assignment.ServiceName, "ListAssignments",
		&assignment.ListAssignmentsRequest{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	return res.Assignments, nil
}

func (c *Client) Assign(ctx context.Context, taskID, userID string) (*assignment.Result, error) {
	return call[assignment.AssignRequest, assignment.Result](ctx, c, assignment.ServiceName, "Assign",
		&assignment.AssignRequest{TaskID: taskID, UserID: userID, Actor: c.user})
}

// Act runs an assignment transition: Accept, Reject, ApproveRejection,
// RejectRejection or Complete.
func (c *Client) Act(ctx context.Context, method, assignmentID, reason string) (*assignment.Result, error) {
	return call[assignment.ActRequest, assignment.Result](ctx, c, assignment.ServiceName, method,
		&assignment.ActRequest{AssignmentID: assignmentID, Actor: c.user, Reason: reason})
}

func (c *Client) RequestApproval(ctx context.Context, taskID string) (*task.Task, error) {
	return c.decide(ctx, "RequestApproval", taskID, "")
}

func (c *Client) Approve(ctx context.Context, taskID string) (*task.Task, error) {
	return c.decide(ctx, "Approve", taskID, "")
}

func (c *Client) Decline(ctx context.Context, taskID, reason string) (*task.Task, error) {
	return c.decide(ctx, "Reject", taskID, reason)
}

func (c *Client) decide(ctx context.Context, method, taskID, reason string) (*task.Task, error) {
	res, err := call[approval.DecisionRequest, task.TaskResponse](ctx, c, approval.ServiceName, method,
		&approval.DecisionRequest{TaskID: taskID, Actor: c.user, Reason: reason})
	if err != nil {
		return nil, err
	}
	return res.Task, nil
}

func (c *Client) RequestClaim(ctx context.Context, taskID string) (*assignment.Result, error) {
	return call[pool.RequestClaimRequest, assignment.Result](ctx, c, pool.ServiceName, "RequestClaim",
		&pool.RequestClaimRequest{TaskID: taskID, Actor: c.user})
}

func (c *Client) ApproveClaim(ctx context.Context, taskID, claimant string) (*assignment.Result, error) {
	return call[pool.ClaimDecisionRequest, assignment.Result](ctx, c, pool.ServiceName, "ApproveClaim",
		&pool.ClaimDecisionRequest{TaskID: taskID, ClaimantID: claimant, Actor: c.user})
}

func (c *Client) RejectClaim(ctx context.Context, taskID, claimant string) (*assignment.Result, error) {
	return call[pool.ClaimDecisionRequest, assignment.Result](ctx, c, pool.ServiceName, "RejectClaim",
		&pool.ClaimDecisionRequest{TaskID: taskID, ClaimantID: claimant, Actor: c.user})
}

func (c *Client) ReturnToPool(ctx context.Context, taskID string, candidates []string) (*assignment.Result, error) {
	return call[pool.ReturnToPoolRequest, assignment.Result](ctx, c, pool.ServiceName, "ReturnToPool",
		&pool.ReturnToPoolRequest{TaskID: taskID, Actor: c.user, Candidates: candidates})
}
