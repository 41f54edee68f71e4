package assignment_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/internal/testenv"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/storage"
)

func forEachStore(t *testing.T, fn func(t *testing.T, env *testenv.Env)) {
	t.Run("yaml", func(t *testing.T) { fn(t, testenv.New(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, testenv.New(t, testenv.WithSQLite())) })
}

func TestEngine_AcceptStartsWork(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk, a := env.Assign(t, "alice", "bob")
		assert.Equal(t, assignment.StatusPending, a.Status)

		assigned := env.Latest(t, "bob", notification.TypeTaskAssigned)
		require.NotNil(t, assigned)
		assert.Equal(t, a.ID, assigned.Metadata[notification.MetaAssignmentID])
		assert.Equal(t, tk.ID, assigned.RelatedID)

		_, err := env.AssignmentEngine.Accept(ctx, a.ID, "carol")
		assert.Equal(t, task.KindNotAuthorized, task.KindOf(err))

		res, err := env.AssignmentEngine.Accept(ctx, a.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, assignment.StatusAccepted, res.Assignment.Status)
		assert.Equal(t, task.WorkStatusInProgress, res.Task.WorkStatus)
		assert.Equal(t, task.WorkStatusInProgress, env.Task(t, tk.ID).WorkStatus)

		updated := env.Latest(t, "alice", notification.TypeTaskUpdated)
		require.NotNil(t, updated)
		assert.Equal(t, string(assignment.StatusAccepted), updated.Metadata[notification.MetaStatus])

		_, err = env.AssignmentEngine.Accept(ctx, a.ID, "bob")
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))
	})
}

func TestEngine_RejectReasonBoundary(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		_, a := env.Assign(t, "alice", "bob")

		tests := []struct {
			name   string
			reason string
		}{
			{name: "19 characters", reason: strings.Repeat("x", 19)},
			{name: "19 characters padded", reason: "  " + strings.Repeat("x", 19) + "\n"},
			{name: "empty", reason: ""},
		}
		for _, tt := range tests {
			_, err := env.AssignmentEngine.Reject(ctx, a.ID, "bob", tt.reason)
			assert.Equal(t, task.KindValidation, task.KindOf(err), tt.name)
		}
		assert.Equal(t, assignment.StatusPending, env.Assignment(t, a.ID).Status)

		res, err := env.AssignmentEngine.Reject(ctx, a.ID, "bob", strings.Repeat("x", 20))
		require.NoError(t, err)
		assert.Equal(t, assignment.StatusRejected, res.Assignment.Status)
	})
}

func TestEngine_RejectThenApproveRejection(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk, a := env.Assign(t, "alice", "dave")

		reason := "Eksik bilgi var, tamamlanamadı"
		res, err := env.AssignmentEngine.Reject(ctx, a.ID, "dave", reason)
		require.NoError(t, err)
		assert.Equal(t, assignment.StatusRejected, res.Assignment.Status)
		assert.Equal(t, reason, res.Assignment.RejectionReason)

		review := env.Latest(t, "alice", notification.TypeTaskRejection)
		require.NotNil(t, review)
		assert.Equal(t, a.ID, review.Metadata[notification.MetaAssignmentID])
		assert.Equal(t, string(assignment.StatusRejectionPendingApproval), review.Metadata[notification.MetaStatus])
		assert.Equal(t, reason, review.Metadata[notification.MetaReason])

		_, err = env.AssignmentEngine.ApproveRejection(ctx, a.ID, "carol")
		assert.Equal(t, task.KindNotAuthorized, task.KindOf(err))

		res, err = env.AssignmentEngine.ApproveRejection(ctx, a.ID, "alice")
		require.NoError(t, err)
		assert.True(t, res.Task.IsPooled)
		assert.Empty(t, res.Task.PoolClaims)
		assert.False(t, res.Assignment.IsActive())
		assert.Equal(t, "alice", res.Assignment.ClosedBy)

		active, err := assignment.FindActive(ctx, env.Assignments, tk.ID)
		require.NoError(t, err)
		assert.Nil(t, active)
		assert.True(t, env.Task(t, tk.ID).IsPooled)

		_, err = env.AssignmentEngine.ApproveRejection(ctx, a.ID, "alice")
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))
		_, err = env.AssignmentEngine.RejectRejection(ctx, a.ID, "alice", strings.Repeat("y", 25))
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))
	})
}

func TestEngine_RejectThenRejectRejection(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk, a := env.Assign(t, "alice", "bob")
		_, err := env.AssignmentEngine.Reject(ctx, a.ID, "bob", "I am on leave for the next two weeks")
		require.NoError(t, err)

		_, err = env.AssignmentEngine.RejectRejection(ctx, a.ID, "alice", "too short")
		assert.Equal(t, task.KindValidation, task.KindOf(err))

		bounce := "Nobody else knows the stock system"
		res, err := env.AssignmentEngine.RejectRejection(ctx, a.ID, "alice", bounce)
		require.NoError(t, err)
		assert.Equal(t, assignment.StatusAccepted, res.Assignment.Status)
		assert.Equal(t, "bob", res.Assignment.AssignedTo)
		assert.Equal(t, bounce, res.Assignment.BounceReason)
		assert.Equal(t, task.WorkStatusInProgress, res.Task.WorkStatus)
		assert.False(t, env.Task(t, tk.ID).IsPooled)

		n := env.Latest(t, "bob", notification.TypeTaskRejectionReject)
		require.NotNil(t, n)
		assert.Equal(t, bounce, n.Metadata[notification.MetaReason])
	})
}

func TestEngine_RejectionReviewers(t *testing.T) {
	t.Run("delegated to the worker's manager", func(t *testing.T) {
		env := testenv.New(t)
		_, a := env.Assign(t, "alice", "bob", testenv.Delegated())
		_, err := env.AssignmentEngine.Reject(context.Background(), a.ID, "bob", "The forklift licence has expired")
		require.NoError(t, err)

		assert.NotNil(t, env.Latest(t, "maria", notification.TypeTaskRejection))
		assert.Nil(t, env.Latest(t, "alice", notification.TypeTaskRejection))
	})

	t.Run("creator rejecting their own assignment", func(t *testing.T) {
		env := testenv.New(t)
		ctx := context.Background()
		_, a := env.Assign(t, "alice", "alice")
		_, err := env.AssignmentEngine.Reject(ctx, a.ID, "alice", "Handing this over to someone in sales")
		require.NoError(t, err)
		assert.NotNil(t, env.Latest(t, "sam", notification.TypeTaskRejection))

		_, err = env.AssignmentEngine.ApproveRejection(ctx, a.ID, "alice")
		assert.Equal(t, task.KindNotAuthorized, task.KindOf(err))

		_, err = env.AssignmentEngine.ApproveRejection(ctx, a.ID, "sam")
		require.NoError(t, err)
	})

	t.Run("no manager falls back to the admins", func(t *testing.T) {
		env := testenv.New(t)
		ctx := context.Background()
		_, a := env.Assign(t, "eve", "eve")
		_, err := env.AssignmentEngine.Reject(ctx, a.ID, "eve", "Wrong task, I meant to create a draft")
		require.NoError(t, err)
		assert.NotNil(t, env.Latest(t, "root", notification.TypeTaskRejection))
		assert.Nil(t, env.Latest(t, "eve", notification.TypeTaskRejection))

		res, err := env.AssignmentEngine.ApproveRejection(ctx, a.ID, "root")
		require.NoError(t, err)
		assert.NotNil(t, res.Assignment.ClosedAt)
	})
}

func TestEngine_Complete(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk, a := env.Assign(t, "alice", "bob")

		_, err := env.AssignmentEngine.Complete(ctx, a.ID, "bob")
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))

		_, err = env.AssignmentEngine.Accept(ctx, a.ID, "bob")
		require.NoError(t, err)
		res, err := env.AssignmentEngine.Complete(ctx, a.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, assignment.StatusCompleted, res.Assignment.Status)
		assert.NotNil(t, res.Assignment.CompletedAt)
		assert.Equal(t, task.WorkStatusCompleted, env.Task(t, tk.ID).WorkStatus)

		_, err = env.AssignmentEngine.Assign(ctx, tk.ID, "carol", "alice")
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))
	})
}

func TestEngine_Assign(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk := env.CreateTask(t, "alice")

		_, err := env.AssignmentEngine.Assign(ctx, tk.ID, "bob", "eve")
		assert.Equal(t, task.KindNotAuthorized, task.KindOf(err))

		_, err = env.AssignmentEngine.Assign(ctx, tk.ID, "bob", "root")
		require.NoError(t, err)

		_, err = env.AssignmentEngine.Assign(ctx, tk.ID, "carol", "alice")
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))
	})
}

func TestEngine_AssignPooledTaskSupersedesClaims(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk := env.CreateTask(t, "alice", testenv.Pooled())
		for _, user := range []string{"bob", "carol"} {
			_, err := env.PoolEngine.RequestClaim(ctx, tk.ID, user)
			require.NoError(t, err)
		}

		res, err := env.AssignmentEngine.Assign(ctx, tk.ID, "carol", "alice")
		require.NoError(t, err)
		assert.False(t, res.Task.IsPooled)
		assert.Empty(t, res.Task.PoolClaims)

		assert.NotNil(t, env.Latest(t, "bob", notification.TypeTaskClaimSuperseded))
		assert.Nil(t, env.Latest(t, "carol", notification.TypeTaskClaimSuperseded))
		assert.NotNil(t, env.Latest(t, "carol", notification.TypeTaskAssigned))
	})
}

func TestEngine_ConcurrentAccept(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		_, a := env.Assign(t, "alice", "bob")

		errs := make([]error, 8)
		var wg conc.WaitGroup
		for i := range errs {
			wg.Go(func() {
				_, errs[i] = env.AssignmentEngine.Accept(ctx, a.ID, "bob")
			})
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, task.IsAlreadyHandled(err), err)
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, int64(2), env.Assignment(t, a.ID).Version)
	})
}

func storeDown() error {
	return cerr.NewError(cerr.Unavailable, "store is down", storage.ErrUnavailable)
}

type brokenAssignments struct {
	assignment.Repository
}

func (r *brokenAssignments) Create(context.Context, *assignment.Assignment) error {
	return storeDown()
}

// brokenTasks fails task writes once broken is set.
type brokenTasks struct {
	task.Repository
	broken atomic.Bool
}

func (r *brokenTasks) Update(ctx context.Context, t *task.Task, expectedVersion int64) error {
	if r.broken.Load() {
		return storeDown()
	}
	return r.Repository.Update(ctx, t, expectedVersion)
}

func TestEngine_AssignFailureKeepsPool(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk := env.CreateTask(t, "alice", testenv.Pooled())
		_, err := env.PoolEngine.RequestClaim(ctx, tk.ID, "bob")
		require.NoError(t, err)

		engine := assignment.NewEngine(env.Tasks, &brokenAssignments{Repository: env.Assignments}, env.Gate, env.Notifier, env.Bus)
		_, err = engine.Assign(ctx, tk.ID, "carol", "alice")
		assert.Equal(t, task.KindStoreUnavailable, task.KindOf(err))

		got := env.Task(t, tk.ID)
		assert.True(t, got.IsPooled)
		assert.Equal(t, []string{"bob"}, got.PoolClaims)
		assert.Nil(t, env.Latest(t, "bob", notification.TypeTaskClaimSuperseded))

		_, err = env.AssignmentEngine.Assign(ctx, tk.ID, "carol", "alice")
		require.NoError(t, err)
	})
}

func TestEngine_ApproveRejectionFailureReopens(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk, a := env.Assign(t, "alice", "bob")
		_, err := env.AssignmentEngine.Reject(ctx, a.ID, "bob", "The forklift licence has expired")
		require.NoError(t, err)

		tasks := &brokenTasks{Repository: env.Tasks}
		tasks.broken.Store(true)
		engine := assignment.NewEngine(tasks, env.Assignments, env.Gate, env.Notifier, env.Bus)
		_, err = engine.ApproveRejection(ctx, a.ID, "alice")
		assert.Equal(t, task.KindStoreUnavailable, task.KindOf(err))

		got := env.Assignment(t, a.ID)
		assert.Nil(t, got.ClosedAt)
		assert.Empty(t, got.ClosedBy)
		assert.True(t, got.AwaitsRejectionReview())
		assert.False(t, env.Task(t, tk.ID).IsPooled)

		res, err := env.AssignmentEngine.ApproveRejection(ctx, a.ID, "alice")
		require.NoError(t, err)
		assert.NotNil(t, res.Assignment.ClosedAt)
		assert.True(t, env.Task(t, tk.ID).IsPooled)
	})
}

func TestEngine_AcceptFailureStaysPending(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk, a := env.Assign(t, "alice", "bob")

		tasks := &brokenTasks{Repository: env.Tasks}
		tasks.broken.Store(true)
		engine := assignment.NewEngine(tasks, env.Assignments, env.Gate, env.Notifier, env.Bus)
		_, err := engine.Accept(ctx, a.ID, "bob")
		assert.Equal(t, task.KindStoreUnavailable, task.KindOf(err))
		assert.Equal(t, assignment.StatusPending, env.Assignment(t, a.ID).Status)
		assert.Equal(t, task.WorkStatusPending, env.Task(t, tk.ID).WorkStatus)

		tasks.broken.Store(false)
		res, err := engine.Accept(ctx, a.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, task.WorkStatusInProgress, res.Task.WorkStatus)
	})
}
