package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/eventbus"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/permission"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/clog"
)

// Engine drives a task's sign-off cycle:
//
//	none|rejected -> pending -> approved
//	                         -> rejected (work reverts to in_progress)
//
// Each decision is a single write conditional on the version the decision
// was made against; losing it means someone else decided first.
type Engine struct {
	tasks       task.Repository
	assignments assignment.Repository
	gate        *permission.Gate
	notifier    *notification.Notifier
	eventBus    *eventbus.Bus
}

func NewEngine(tasks task.Repository, assignments assignment.Repository, gate *permission.Gate, notifier *notification.Notifier, eventBus *eventbus.Bus) *Engine {
	return &Engine{
		tasks:       tasks,
		assignments: assignments,
		gate:        gate,
		notifier:    notifier,
		eventBus:    eventBus,
	}
}

// RequestApproval opens a new approval cycle on completed work. The requester
// must be the worker who completed it or hold approver standing.
func (e *Engine) RequestApproval(ctx context.Context, taskID, requester string) (*task.Task, error) {
	clog.AddActor(ctx, requester)
	clog.AddTask(ctx, taskID)
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	worker, err := assignment.NewAssigneeFinder(e.assignments).CurrentAssignee(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if requester != worker {
		if _, err := e.gate.RequireApprover(ctx, t, requester, "request approval"); err != nil {
			return nil, err
		}
	}
	if t.WorkStatus != task.WorkStatusCompleted {
		return nil, task.InvalidTransition("task %s work is %s, not completed", t.ID, t.WorkStatus)
	}
	switch t.ApprovalStatus {
	case task.ApprovalStatusNone, task.ApprovalStatusRejected:
	default:
		return nil, task.InvalidTransition("task %s approval is already %s", t.ID, t.ApprovalStatus)
	}

	now := time.Now()
	t.ArchiveApprovalCycle()
	t.ApprovalStatus = task.ApprovalStatusPending
	t.ApprovalRequestedBy = requester
	t.ApprovalRequestedAt = &now
	if err := e.update(ctx, t); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "approval requested")

	approvers, err := e.gate.Approvers(ctx, t, worker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve approvers", clog.ErrorAttributeKey, err)
		approvers = []string{t.CreatedBy}
	}
	_, _ = e.notifier.Notify(ctx, approvers, notification.TypeTaskApproval, t.ID, map[string]string{
		notification.MetaActor: requester,
	})
	return t, nil
}

// Approve signs off a pending cycle. The work stays completed.
func (e *Engine) Approve(ctx context.Context, taskID, approver string) (*task.Task, error) {
	t, err := e.loadPending(ctx, taskID, approver, "approve")
	if err != nil {
		return nil, err
	}
	now := time.Now()
	t.ApprovalStatus = task.ApprovalStatusApproved
	t.ApprovedBy = approver
	t.ApprovedAt = &now
	if err := e.update(ctx, t); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "task approved")

	_, _ = e.notifier.Notify(ctx, []string{t.ApprovalRequestedBy}, notification.TypeTaskApproved, t.ID, map[string]string{
		notification.MetaActor: approver,
	})
	return t, nil
}

// Reject declines a pending cycle and sends the work back to in_progress.
// The reason is free text and may be empty.
func (e *Engine) Reject(ctx context.Context, taskID, approver, reason string) (*task.Task, error) {
	t, err := e.loadPending(ctx, taskID, approver, "reject approval")
	if err != nil {
		return nil, err
	}
	now := time.Now()
	t.ApprovalStatus = task.ApprovalStatusRejected
	t.WorkStatus = task.WorkStatusInProgress
	t.RejectedBy = approver
	t.RejectedAt = &now
	t.RejectionReason = reason
	if err := e.update(ctx, t); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "task approval rejected")

	recipients := []string{t.ApprovalRequestedBy}
	metadata := map[string]string{
		notification.MetaReason: reason,
		notification.MetaActor:  approver,
	}
	if a, err := e.reopen(ctx, t); err != nil {
		slog.ErrorContext(ctx, "failed to reopen completed assignment", clog.ErrorAttributeKey, err)
	} else if a != nil {
		recipients = append(recipients, a.AssignedTo)
		metadata[notification.MetaAssignmentID] = a.ID
	}
	_, _ = e.notifier.Notify(ctx, recipients, notification.TypeTaskApprovalReject, t.ID, metadata)
	return t, nil
}

func (e *Engine) loadPending(ctx context.Context, taskID, approver, action string) (*task.Task, error) {
	clog.AddActor(ctx, approver)
	clog.AddTask(ctx, taskID)
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := e.gate.RequireApprover(ctx, t, approver, action); err != nil {
		return nil, err
	}
	if t.ApprovalStatus != task.ApprovalStatusPending {
		return nil, task.InvalidTransition("task %s approval is %s, not pending", t.ID, t.ApprovalStatus)
	}
	return t, nil
}

func (e *Engine) update(ctx context.Context, t *task.Task) error {
	t.UpdatedAt = time.Now()
	if err := e.tasks.Update(ctx, t, t.Version); err != nil {
		if errors.Is(err, task.ErrStale) {
			return task.AlreadyProcessed("approval of task %s was already decided", t.ID)
		}
		return err
	}
	task.PublishChange(e.eventBus, eventbus.EventTaskUpdated, t)
	return nil
}

// reopen moves the task's latest completed assignment back to accepted so the
// worker can complete it again.
func (e *Engine) reopen(ctx context.Context, t *task.Task) (*assignment.Assignment, error) {
	list, err := e.assignments.ListByTask(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	var last *assignment.Assignment
	for _, a := range list {
		if a.IsActive() {
			return nil, nil
		}
		if a.Status == assignment.StatusCompleted && a.IsOpen() {
			last = a
		}
	}
	if last == nil {
		return nil, nil
	}
	last.Status = assignment.StatusAccepted
	last.CompletedAt = nil
	last.UpdatedAt = time.Now()
	if err := e.assignments.Update(ctx, last, last.Version); err != nil {
		return nil, err
	}
	assignment.PublishChange(e.eventBus, eventbus.EventAssignmentUpdated, last, t)
	return last, nil
}
