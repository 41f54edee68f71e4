package pool

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/eventbus"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/permission"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/clog"
)

// Engine arbitrates claims on pooled tasks. Approving a claim is a write
// conditional on the task version read while it was still pooled, so of two
// racing approvals exactly one takes the task.
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

// RequestClaim adds userID to the task's claims. Repeating a claim changes
// nothing and notifies nobody.
func (e *Engine) RequestClaim(ctx context.Context, taskID, userID string) (*assignment.Result, error) {
	clog.AddActor(ctx, userID)
	clog.AddTask(ctx, taskID)

	added := false
	t, err := task.Mutate(ctx, e.tasks, taskID, func(t *task.Task) error {
		if !t.IsPooled {
			return task.InvalidTransition("task %s is not pooled", t.ID)
		}
		if !t.IsCandidate(userID) {
			return task.NotAuthorized("%s is not a candidate for task %s", userID, t.ID)
		}
		added = t.AddClaim(userID)
		if !added {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		t, err = e.tasks.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return &assignment.Result{Task: t}, nil
	}
	if err != nil {
		return nil, err
	}
	task.PublishChange(e.eventBus, eventbus.EventTaskUpdated, t)
	slog.InfoContext(ctx, "pool claim requested", "claims", len(t.PoolClaims))

	_, _ = e.notifier.Notify(ctx, []string{t.CreatedBy}, notification.TypeTaskPoolRequest, t.ID, map[string]string{
		notification.MetaClaimantID: userID,
		notification.MetaPoolClaims: strings.Join(t.PoolClaims, ","),
		notification.MetaActor:      userID,
	})
	return &assignment.Result{Task: t}, nil
}

var errNoChange = errors.New("no change")

// ApproveClaim hands the task to userID with an accepted assignment. The task
// leaves the pool and every other claim is superseded.
func (e *Engine) ApproveClaim(ctx context.Context, taskID, userID, approver string) (*assignment.Result, error) {
	clog.AddActor(ctx, approver)
	clog.AddTask(ctx, taskID)

	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := e.gate.RequireApprover(ctx, t, approver, "approve claim"); err != nil {
		return nil, err
	}
	if !t.IsPooled {
		return nil, task.InvalidTransition("task %s is no longer pooled", t.ID)
	}
	if !t.HasClaim(userID) {
		return nil, task.InvalidTransition("%s has no claim on task %s", userID, t.ID)
	}

	var before *task.Task
	var losers []string
	t, err = task.Mutate(ctx, e.tasks, taskID, func(t *task.Task) error {
		// Claims may have been added since the first read; only the pool
		// flag decides whether this approval still wins.
		if !t.IsPooled {
			return task.AlreadyClaimed("task %s was taken by another claim", t.ID)
		}
		if !t.HasClaim(userID) {
			return task.InvalidTransition("%s has no claim on task %s", userID, t.ID)
		}
		before = t.Clone()
		losers = slices.DeleteFunc(slices.Clone(t.PoolClaims), func(id string) bool { return id == userID })
		t.LeavePool()
		if t.WorkStatus == task.WorkStatusPending {
			t.WorkStatus = task.WorkStatusInProgress
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, task.ErrStale) {
			return nil, task.AlreadyClaimed("task %s kept changing while approving the claim", taskID)
		}
		return nil, err
	}

	now := time.Now()
	a := &assignment.Assignment{
		ID:         ulid.Make().String(),
		TaskID:     t.ID,
		AssignedTo: userID,
		Status:     assignment.StatusAccepted,
		AssignedAt: now,
		UpdatedAt:  now,
	}
	if err := e.assignments.Create(ctx, a); err != nil {
		e.restore(ctx, before)
		if cerr.IsCode(err, cerr.AlreadyExists) {
			return nil, task.AlreadyClaimed("task %s was assigned concurrently", t.ID)
		}
		return nil, err
	}
	clog.AddAssignment(ctx, a.ID)
	task.PublishChange(e.eventBus, eventbus.EventTaskUpdated, t)
	assignment.PublishChange(e.eventBus, eventbus.EventAssignmentCreated, a, t)
	slog.InfoContext(ctx, "pool claim approved", "assigned_to", userID, "superseded", len(losers))

	_, _ = e.notifier.Notify(ctx, []string{userID}, notification.TypeTaskClaimApproved, t.ID, map[string]string{
		notification.MetaAssignmentID: a.ID,
		notification.MetaActor:        approver,
	})
	_, _ = e.notifier.Notify(ctx, losers, notification.TypeTaskClaimSuperseded, t.ID, map[string]string{
		notification.MetaAssignmentID: a.ID,
		notification.MetaActor:        approver,
	})
	return &assignment.Result{Task: t, Assignment: a}, nil
}

// restore puts a task that left the pool back when its assignment could not
// be created.
func (e *Engine) restore(ctx context.Context, before *task.Task) {
	_, err := task.Mutate(ctx, e.tasks, before.ID, func(t *task.Task) error {
		if t.IsPooled {
			return errNoChange
		}
		t.IsPooled = true
		t.PoolClaims = before.PoolClaims
		t.WorkStatus = before.WorkStatus
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		slog.ErrorContext(ctx, "failed to return task to pool after failed claim approval", clog.ErrorAttributeKey, err)
	}
}

// RejectClaim drops userID's claim. The task stays pooled.
func (e *Engine) RejectClaim(ctx context.Context, taskID, userID, approver string) (*assignment.Result, error) {
	clog.AddActor(ctx, approver)
	clog.AddTask(ctx, taskID)

	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := e.gate.RequireApprover(ctx, t, approver, "reject claim"); err != nil {
		return nil, err
	}
	t, err = task.Mutate(ctx, e.tasks, taskID, func(t *task.Task) error {
		if !t.IsPooled {
			return task.InvalidTransition("task %s is no longer pooled", t.ID)
		}
		if !t.RemoveClaim(userID) {
			return task.InvalidTransition("%s has no claim on task %s", userID, t.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	task.PublishChange(e.eventBus, eventbus.EventTaskUpdated, t)
	slog.InfoContext(ctx, "pool claim rejected", "claimant_id", userID)

	_, _ = e.notifier.Notify(ctx, []string{userID}, notification.TypeTaskClaimRejected, t.ID, map[string]string{
		notification.MetaClaimantID: userID,
		notification.MetaActor:      approver,
	})
	return &assignment.Result{Task: t}, nil
}

// ReturnToPool opens an unassigned task for claims. When candidates is not
// empty only they may claim, and each is told the task is open.
func (e *Engine) ReturnToPool(ctx context.Context, taskID, actor string, candidates []string) (*assignment.Result, error) {
	clog.AddActor(ctx, actor)
	clog.AddTask(ctx, taskID)

	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := e.gate.RequireApprover(ctx, t, actor, "return to pool"); err != nil {
		return nil, err
	}
	if t.IsPooled {
		return nil, task.InvalidTransition("task %s is already pooled", t.ID)
	}
	if t.WorkStatus == task.WorkStatusCompleted {
		return nil, task.InvalidTransition("task %s is already completed", t.ID)
	}
	active, err := assignment.FindActive(ctx, e.assignments, t.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, task.InvalidTransition("task %s has active assignment %s", t.ID, active.ID)
	}

	t.ReturnToPool()
	t.Candidates = slices.Compact(slices.Sorted(slices.Values(candidates)))
	t.UpdatedAt = time.Now()
	if err := e.tasks.Update(ctx, t, t.Version); err != nil {
		if errors.Is(err, task.ErrStale) {
			return nil, task.AlreadyProcessed("task %s changed while it was being pooled", t.ID)
		}
		return nil, err
	}
	task.PublishChange(e.eventBus, eventbus.EventTaskUpdated, t)
	slog.InfoContext(ctx, "task returned to pool", "candidates", len(t.Candidates))

	_, _ = e.notifier.Notify(ctx, t.Candidates, notification.TypeTaskPoolOpen, t.ID, map[string]string{
		notification.MetaActor: actor,
	})
	return &assignment.Result{Task: t}, nil
}
