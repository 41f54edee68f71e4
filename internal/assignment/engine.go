package assignment

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskdesk/internal/eventbus"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/permission"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/clog"
)

// Result is the state left behind by a transition.
type Result struct {
	Task       *task.Task  `json:"task"`
	Assignment *Assignment `json:"assignment"`
}

// Engine drives the assignment lifecycle:
//
//	pending -> accepted -> completed
//	pending -> rejected -> closed (rejection approved)
//	                    -> accepted (rejection refused)
type Engine struct {
	tasks    task.Repository
	repo     Repository
	gate     *permission.Gate
	notifier *notification.Notifier
	eventBus *eventbus.Bus
}

func NewEngine(tasks task.Repository, repo Repository, gate *permission.Gate, notifier *notification.Notifier, eventBus *eventbus.Bus) *Engine {
	return &Engine{
		tasks:    tasks,
		repo:     repo,
		gate:     gate,
		notifier: notifier,
		eventBus: eventBus,
	}
}

// Assign binds userID to the task as a pending assignment. A pooled task
// leaves the pool and its outstanding claims are dropped.
func (e *Engine) Assign(ctx context.Context, taskID, userID, actor string) (*Result, error) {
	if userID == "" {
		return nil, task.ValidationError("user_id", "user_id.required", "user_id is required")
	}
	clog.AddActor(ctx, actor)
	clog.AddTask(ctx, taskID)

	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := e.gate.RequireApprover(ctx, t, actor, "assign"); err != nil {
		return nil, err
	}
	if t.WorkStatus == task.WorkStatusCompleted {
		return nil, task.InvalidTransition("task %s is already completed", t.ID)
	}
	active, err := FindActive(ctx, e.repo, t.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, task.InvalidTransition("task %s already has active assignment %s", t.ID, active.ID)
	}

	var superseded []string
	var pooled *task.Task
	if t.IsPooled {
		pooled = t.Clone()
		superseded = t.PoolClaims
		t.LeavePool()
		t.UpdatedAt = time.Now()
		if err := e.tasks.Update(ctx, t, t.Version); err != nil {
			if errors.Is(err, task.ErrStale) {
				return nil, task.AlreadyProcessed("task %s changed while it was being assigned", t.ID)
			}
			return nil, err
		}
		task.PublishChange(e.eventBus, eventbus.EventTaskUpdated, t)
	}

	now := time.Now()
	a := &Assignment{
		ID:         ulid.Make().String(),
		TaskID:     t.ID,
		AssignedTo: userID,
		Status:     StatusPending,
		AssignedAt: now,
		UpdatedAt:  now,
	}
	if err := e.repo.Create(ctx, a); err != nil {
		if pooled != nil {
			e.returnToPool(ctx, pooled)
		}
		if cerr.IsCode(err, cerr.AlreadyExists) {
			return nil, task.AlreadyProcessed("task %s was assigned concurrently", t.ID)
		}
		return nil, err
	}
	clog.AddAssignment(ctx, a.ID)
	e.publish(eventbus.EventAssignmentCreated, a, t)
	slog.InfoContext(ctx, "task assigned", "assigned_to", userID)

	_, _ = e.notifier.Notify(ctx, []string{userID}, notification.TypeTaskAssigned, t.ID, map[string]string{
		notification.MetaAssignmentID: a.ID,
		notification.MetaActor:        actor,
	})
	superseded = slices.DeleteFunc(superseded, func(id string) bool { return id == userID })
	_, _ = e.notifier.Notify(ctx, superseded, notification.TypeTaskClaimSuperseded, t.ID, map[string]string{
		notification.MetaAssignmentID: a.ID,
		notification.MetaActor:        actor,
	})
	return &Result{Task: t, Assignment: a}, nil
}

// Accept moves a pending assignment to accepted and starts the work.
func (e *Engine) Accept(ctx context.Context, assignmentID, actor string) (*Result, error) {
	a, err := e.loadForAssignee(ctx, assignmentID, actor, "accept")
	if err != nil {
		return nil, err
	}
	if a.Status != StatusPending || !a.IsOpen() {
		return nil, task.InvalidTransition("assignment %s is %s, not pending", a.ID, a.Status)
	}
	prev := a.Clone()
	a.Status = StatusAccepted
	if err := e.update(ctx, a); err != nil {
		return nil, err
	}

	t, err := e.startWork(ctx, a.TaskID)
	if err != nil {
		e.revert(ctx, prev, a)
		return nil, err
	}
	e.publish(eventbus.EventAssignmentUpdated, a, t)
	slog.InfoContext(ctx, "assignment accepted")

	_, _ = e.notifier.Notify(ctx, []string{t.CreatedBy}, notification.TypeTaskUpdated, t.ID, map[string]string{
		notification.MetaAssignmentID: a.ID,
		notification.MetaStatus:       string(StatusAccepted),
		notification.MetaActor:        actor,
	})
	return &Result{Task: t, Assignment: a}, nil
}

// Reject records the worker's refusal and asks the rejection reviewers to
// decide on it.
func (e *Engine) Reject(ctx context.Context, assignmentID, actor, reason string) (*Result, error) {
	a, err := e.loadForAssignee(ctx, assignmentID, actor, "reject")
	if err != nil {
		return nil, err
	}
	if err := task.ValidateReason(reason); err != nil {
		return nil, err
	}
	if a.Status != StatusPending || !a.IsOpen() {
		return nil, task.InvalidTransition("assignment %s is %s, not pending", a.ID, a.Status)
	}
	t, err := e.tasks.Get(ctx, a.TaskID)
	if err != nil {
		return nil, err
	}
	reviewers, err := e.gate.RejectionReviewers(ctx, t, a.AssignedTo)
	if err != nil {
		return nil, err
	}

	a.Status = StatusRejected
	a.RejectionReason = reason
	if err := e.update(ctx, a); err != nil {
		return nil, err
	}
	e.publish(eventbus.EventAssignmentUpdated, a, t)
	slog.InfoContext(ctx, "assignment rejected", "reviewers", reviewers)
	_, _ = e.notifier.Notify(ctx, reviewers, notification.TypeTaskRejection, t.ID, map[string]string{
		notification.MetaAssignmentID: a.ID,
		notification.MetaStatus:       string(StatusRejectionPendingApproval),
		notification.MetaReason:       reason,
		notification.MetaActor:        actor,
	})
	return &Result{Task: t, Assignment: a}, nil
}

// ApproveRejection accepts the worker's refusal. The assignment is closed and
// the task goes back to the pool.
func (e *Engine) ApproveRejection(ctx context.Context, assignmentID, actor string) (*Result, error) {
	a, t, err := e.loadForReviewer(ctx, assignmentID, actor, "approve rejection")
	if err != nil {
		return nil, err
	}
	if !a.AwaitsRejectionReview() {
		return nil, task.InvalidTransition("assignment %s is %s, not awaiting rejection review", a.ID, a.Status)
	}

	prev := a.Clone()
	now := time.Now()
	a.ClosedAt = &now
	a.ClosedBy = actor
	if err := e.update(ctx, a); err != nil {
		return nil, err
	}

	t, err = task.Mutate(ctx, e.tasks, t.ID, func(t *task.Task) error {
		t.ReturnToPool()
		if t.WorkStatus == task.WorkStatusInProgress {
			t.WorkStatus = task.WorkStatusPending
		}
		return nil
	})
	if err != nil {
		e.revert(ctx, prev, a)
		return nil, err
	}
	task.PublishChange(e.eventBus, eventbus.EventTaskUpdated, t)
	e.publish(eventbus.EventAssignmentUpdated, a, t)
	slog.InfoContext(ctx, "assignment rejection approved, task returned to pool")
	return &Result{Task: t, Assignment: a}, nil
}

// RejectRejection refuses the worker's refusal; the worker is expected to
// carry on with the assignment.
func (e *Engine) RejectRejection(ctx context.Context, assignmentID, actor, reason string) (*Result, error) {
	a, _, err := e.loadForReviewer(ctx, assignmentID, actor, "reject rejection")
	if err != nil {
		return nil, err
	}
	if err := task.ValidateReason(reason); err != nil {
		return nil, err
	}
	if !a.AwaitsRejectionReview() {
		return nil, task.InvalidTransition("assignment %s is %s, not awaiting rejection review", a.ID, a.Status)
	}

	prev := a.Clone()
	a.Status = StatusAccepted
	a.BounceReason = reason
	if err := e.update(ctx, a); err != nil {
		return nil, err
	}
	t, err := e.startWork(ctx, a.TaskID)
	if err != nil {
		e.revert(ctx, prev, a)
		return nil, err
	}
	e.publish(eventbus.EventAssignmentUpdated, a, t)
	slog.InfoContext(ctx, "assignment rejection refused")

	_, _ = e.notifier.Notify(ctx, []string{a.AssignedTo}, notification.TypeTaskRejectionReject, t.ID, map[string]string{
		notification.MetaAssignmentID: a.ID,
		notification.MetaReason:       reason,
		notification.MetaActor:        actor,
	})
	return &Result{Task: t, Assignment: a}, nil
}

// Complete finishes an accepted assignment and marks the task's work done.
func (e *Engine) Complete(ctx context.Context, assignmentID, actor string) (*Result, error) {
	a, err := e.loadForAssignee(ctx, assignmentID, actor, "complete")
	if err != nil {
		return nil, err
	}
	if a.Status != StatusAccepted || !a.IsOpen() {
		return nil, task.InvalidTransition("assignment %s is %s, not accepted", a.ID, a.Status)
	}

	prev := a.Clone()
	now := time.Now()
	a.Status = StatusCompleted
	a.CompletedAt = &now
	if err := e.update(ctx, a); err != nil {
		return nil, err
	}
	t, err := task.Mutate(ctx, e.tasks, a.TaskID, func(t *task.Task) error {
		t.WorkStatus = task.WorkStatusCompleted
		return nil
	})
	if err != nil {
		e.revert(ctx, prev, a)
		return nil, err
	}
	task.PublishChange(e.eventBus, eventbus.EventTaskUpdated, t)
	e.publish(eventbus.EventAssignmentUpdated, a, t)
	slog.InfoContext(ctx, "assignment completed")

	_, _ = e.notifier.Notify(ctx, []string{t.CreatedBy}, notification.TypeTaskUpdated, t.ID, map[string]string{
		notification.MetaAssignmentID: a.ID,
		notification.MetaStatus:       string(StatusCompleted),
		notification.MetaActor:        actor,
	})
	return &Result{Task: t, Assignment: a}, nil
}

func (e *Engine) loadForAssignee(ctx context.Context, assignmentID, actor, action string) (*Assignment, error) {
	clog.AddActor(ctx, actor)
	clog.AddAssignment(ctx, assignmentID)
	a, err := e.repo.Get(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	clog.AddTask(ctx, a.TaskID)
	if a.AssignedTo != actor {
		return nil, task.NotAuthorized("only the assignee may %s assignment %s", action, a.ID)
	}
	return a, nil
}

// loadForReviewer requires approver standing on the task. The worker never
// reviews their own refusal, even as the task's creator.
func (e *Engine) loadForReviewer(ctx context.Context, assignmentID, actor, action string) (*Assignment, *task.Task, error) {
	clog.AddActor(ctx, actor)
	clog.AddAssignment(ctx, assignmentID)
	a, err := e.repo.Get(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	clog.AddTask(ctx, a.TaskID)
	if a.AssignedTo == actor {
		return nil, nil, task.NotAuthorized("the assignee may not %s on assignment %s", action, a.ID)
	}
	t, err := e.tasks.Get(ctx, a.TaskID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.gate.RequireApprover(ctx, t, actor, action); err != nil {
		return nil, nil, err
	}
	return a, t, nil
}

// update writes a conditionally on the version it was read at. Losing the
// race means another actor already moved the assignment on.
func (e *Engine) update(ctx context.Context, a *Assignment) error {
	a.UpdatedAt = time.Now()
	if err := e.repo.Update(ctx, a, a.Version); err != nil {
		if errors.Is(err, task.ErrStale) {
			return task.AlreadyProcessed("assignment %s was already processed", a.ID)
		}
		return err
	}
	return nil
}

// revert writes prev back over a when the task half of a transition failed,
// so the action can be retried.
func (e *Engine) revert(ctx context.Context, prev, a *Assignment) {
	restored := prev.Clone()
	restored.UpdatedAt = time.Now()
	if err := e.repo.Update(ctx, restored, a.Version); err != nil {
		slog.ErrorContext(ctx, "failed to revert assignment after task write failed", clog.ErrorAttributeKey, err)
		return
	}
	*a = *restored
}

var errNoChange = errors.New("no change")

// returnToPool puts a task that left the pool back when its assignment could
// not be created.
func (e *Engine) returnToPool(ctx context.Context, before *task.Task) {
	t, err := task.Mutate(ctx, e.tasks, before.ID, func(t *task.Task) error {
		if t.IsPooled {
			return errNoChange
		}
		t.IsPooled = true
		t.PoolClaims = before.PoolClaims
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNoChange) {
			slog.ErrorContext(ctx, "failed to return task to pool after failed assignment", clog.ErrorAttributeKey, err)
		}
		return
	}
	task.PublishChange(e.eventBus, eventbus.EventTaskUpdated, t)
}

func (e *Engine) startWork(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := task.Mutate(ctx, e.tasks, taskID, func(t *task.Task) error {
		if t.WorkStatus == task.WorkStatusPending {
			t.WorkStatus = task.WorkStatusInProgress
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	task.PublishChange(e.eventBus, eventbus.EventTaskUpdated, t)
	return t, nil
}

const MetadataAssignmentID = "assignment_id"

func (e *Engine) publish(eventType eventbus.EventType, a *Assignment, t *task.Task) {
	PublishChange(e.eventBus, eventType, a, t)
}

// PublishChange announces an assignment write on the change feed, keyed so
// task subscribers receive it too.
func PublishChange(bus *eventbus.Bus, eventType eventbus.EventType, a *Assignment, t *task.Task) {
	bus.PublishNew(eventType, a.ID, map[string]string{
		task.MetadataTaskID:    a.TaskID,
		task.MetadataProjectID: t.ProjectID,
		MetadataAssignmentID:   a.ID,
		"assigned_to":          a.AssignedTo,
		"status":               string(a.Status),
	})
}
