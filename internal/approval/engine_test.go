package approval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/internal/testenv"
)

// completedTask walks a task through assignment and completion.
func completedTask(t *testing.T, env *testenv.Env, creator, worker string, opts ...testenv.TaskOption) (*task.Task, *assignment.Assignment) {
	t.Helper()
	ctx := context.Background()
	tk, a := env.Assign(t, creator, worker, opts...)
	_, err := env.AssignmentEngine.Accept(ctx, a.ID, worker)
	require.NoError(t, err)
	_, err = env.AssignmentEngine.Complete(ctx, a.ID, worker)
	require.NoError(t, err)
	return env.Task(t, tk.ID), env.Assignment(t, a.ID)
}

func TestEngine_RequestAndApprove(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()

	pending, _ := env.Assign(t, "alice", "bob")
	_, err := env.ApprovalEngine.RequestApproval(ctx, pending.ID, "bob")
	assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))

	tk, _ := completedTask(t, env, "alice", "bob")
	_, err = env.ApprovalEngine.RequestApproval(ctx, tk.ID, "eve")
	assert.Equal(t, task.KindNotAuthorized, task.KindOf(err))

	got, err := env.ApprovalEngine.RequestApproval(ctx, tk.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, task.ApprovalStatusPending, got.ApprovalStatus)
	assert.Equal(t, "bob", got.ApprovalRequestedBy)
	assert.NotNil(t, got.ApprovalRequestedAt)
	assert.NotNil(t, env.Latest(t, "alice", notification.TypeTaskApproval))

	_, err = env.ApprovalEngine.RequestApproval(ctx, tk.ID, "bob")
	assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))

	_, err = env.ApprovalEngine.Approve(ctx, tk.ID, "carol")
	assert.Equal(t, task.KindNotAuthorized, task.KindOf(err))

	got, err = env.ApprovalEngine.Approve(ctx, tk.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, task.ApprovalStatusApproved, got.ApprovalStatus)
	assert.Equal(t, task.WorkStatusCompleted, got.WorkStatus)
	assert.Equal(t, "alice", got.ApprovedBy)
	assert.NotNil(t, got.ApprovedAt)
	assert.NotNil(t, env.Latest(t, "bob", notification.TypeTaskApproved))

	_, err = env.ApprovalEngine.Reject(ctx, tk.ID, "alice", "")
	assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))
}

func TestEngine_RejectReopensWork(t *testing.T) {
	env := testenv.New(t, testenv.WithSQLite())
	ctx := context.Background()
	tk, a := completedTask(t, env, "alice", "bob")
	_, err := env.ApprovalEngine.RequestApproval(ctx, tk.ID, "bob")
	require.NoError(t, err)

	got, err := env.ApprovalEngine.Reject(ctx, tk.ID, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, task.ApprovalStatusRejected, got.ApprovalStatus)
	assert.Equal(t, task.WorkStatusInProgress, got.WorkStatus)
	assert.Equal(t, "alice", got.RejectedBy)
	assert.NotNil(t, got.RejectedAt)

	reopened := env.Assignment(t, a.ID)
	assert.Equal(t, assignment.StatusAccepted, reopened.Status)
	assert.Nil(t, reopened.CompletedAt)
	n := env.Latest(t, "bob", notification.TypeTaskApprovalReject)
	require.NotNil(t, n)
	assert.Equal(t, a.ID, n.Metadata[notification.MetaAssignmentID])

	_, err = env.AssignmentEngine.Complete(ctx, a.ID, "bob")
	require.NoError(t, err)
	got, err = env.ApprovalEngine.RequestApproval(ctx, tk.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, task.ApprovalStatusPending, got.ApprovalStatus)
	require.Len(t, got.ApprovalHistory, 1)
	assert.Equal(t, task.ApprovalStatusRejected, got.ApprovalHistory[0].Outcome)
	assert.Equal(t, "alice", got.ApprovalHistory[0].DecidedBy)
	assert.Empty(t, got.RejectedBy)
}

func TestEngine_RejectKeepsShortReason(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	tk, _ := completedTask(t, env, "alice", "bob")
	_, err := env.ApprovalEngine.RequestApproval(ctx, tk.ID, "bob")
	require.NoError(t, err)

	got, err := env.ApprovalEngine.Reject(ctx, tk.ID, "alice", "typo")
	require.NoError(t, err)
	assert.Equal(t, "typo", got.RejectionReason)
}

func TestEngine_DelegatedApprovers(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	tk, _ := completedTask(t, env, "alice", "bob", testenv.Delegated())
	_, err := env.ApprovalEngine.RequestApproval(ctx, tk.ID, "bob")
	require.NoError(t, err)

	assert.NotNil(t, env.Latest(t, "sam", notification.TypeTaskApproval))
	assert.NotNil(t, env.Latest(t, "maria", notification.TypeTaskApproval))
	assert.Nil(t, env.Latest(t, "alice", notification.TypeTaskApproval))

	// The creator keeps approver standing even when delegating.
	_, err = env.ApprovalEngine.Approve(ctx, tk.ID, "alice")
	require.NoError(t, err)
}

func TestEngine_ConcurrentDecisions(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	tk, _ := completedTask(t, env, "alice", "bob", testenv.Delegated())
	_, err := env.ApprovalEngine.RequestApproval(ctx, tk.ID, "bob")
	require.NoError(t, err)

	var (
		approveErr, rejectErr error
		wg                    conc.WaitGroup
	)
	wg.Go(func() { _, approveErr = env.ApprovalEngine.Approve(ctx, tk.ID, "sam") })
	wg.Go(func() { _, rejectErr = env.ApprovalEngine.Reject(ctx, tk.ID, "maria", "numbers do not add up") })
	wg.Wait()

	errs := []error{approveErr, rejectErr}
	require.Equal(t, 1, countNil(errs), errors.Join(errs...))
	for _, err := range errs {
		if err != nil {
			assert.True(t, task.IsAlreadyHandled(err), err)
		}
	}

	got := env.Task(t, tk.ID)
	if approveErr == nil {
		assert.Equal(t, task.ApprovalStatusApproved, got.ApprovalStatus)
	} else {
		assert.Equal(t, task.ApprovalStatusRejected, got.ApprovalStatus)
	}
}

func countNil(errs []error) int {
	n := 0
	for _, err := range errs {
		if err == nil {
			n++
		}
	}
	return n
}
