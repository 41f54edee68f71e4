package pool_test

import (
	"context"
	"sync"
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/pool"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/internal/testenv"
)

func forEachStore(t *testing.T, fn func(t *testing.T, env *testenv.Env)) {
	t.Run("yaml", func(t *testing.T) { fn(t, testenv.New(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, testenv.New(t, testenv.WithSQLite())) })
}

func TestEngine_ApproveClaimSupersedesOthers(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk := env.CreateTask(t, "alice", testenv.Pooled())

		_, err := env.PoolEngine.RequestClaim(ctx, tk.ID, "bob")
		require.NoError(t, err)
		res, err := env.PoolEngine.RequestClaim(ctx, tk.ID, "carol")
		require.NoError(t, err)
		assert.Equal(t, []string{"bob", "carol"}, res.Task.PoolClaims)

		request := env.Latest(t, "alice", notification.TypeTaskPoolRequest)
		require.NotNil(t, request)
		assert.Equal(t, "carol", request.Metadata[notification.MetaClaimantID])
		assert.Equal(t, "bob,carol", request.Metadata[notification.MetaPoolClaims])

		res, err = env.PoolEngine.ApproveClaim(ctx, tk.ID, "bob", "alice")
		require.NoError(t, err)
		assert.False(t, res.Task.IsPooled)
		assert.Empty(t, res.Task.PoolClaims)
		assert.Equal(t, task.WorkStatusInProgress, res.Task.WorkStatus)
		require.NotNil(t, res.Assignment)
		assert.Equal(t, "bob", res.Assignment.AssignedTo)
		assert.Equal(t, assignment.StatusAccepted, res.Assignment.Status)

		approved := env.Latest(t, "bob", notification.TypeTaskClaimApproved)
		require.NotNil(t, approved)
		assert.Equal(t, res.Assignment.ID, approved.Metadata[notification.MetaAssignmentID])
		assert.NotNil(t, env.Latest(t, "carol", notification.TypeTaskClaimSuperseded))
		assert.Nil(t, env.Latest(t, "bob", notification.TypeTaskClaimSuperseded))

		_, err = env.PoolEngine.ApproveClaim(ctx, tk.ID, "carol", "alice")
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))

		list, err := env.Assignments.ListByTask(ctx, tk.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestEngine_RequestClaim(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		open := env.CreateTask(t, "alice", testenv.Pooled("bob"))

		_, err := env.PoolEngine.RequestClaim(ctx, open.ID, "carol")
		assert.Equal(t, task.KindNotAuthorized, task.KindOf(err))

		first, err := env.PoolEngine.RequestClaim(ctx, open.ID, "bob")
		require.NoError(t, err)
		again, err := env.PoolEngine.RequestClaim(ctx, open.ID, "bob")
		require.NoError(t, err)
		assert.Equal(t, first.Task.Version, again.Task.Version)
		assert.Len(t, env.Inbox(t, "alice"), 1)

		closed := env.CreateTask(t, "alice")
		_, err = env.PoolEngine.RequestClaim(ctx, closed.ID, "bob")
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))
	})
}

func TestEngine_RejectClaim(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk := env.CreateTask(t, "alice", testenv.Pooled())
		for _, user := range []string{"bob", "carol"} {
			_, err := env.PoolEngine.RequestClaim(ctx, tk.ID, user)
			require.NoError(t, err)
		}

		_, err := env.PoolEngine.RejectClaim(ctx, tk.ID, "bob", "carol")
		assert.Equal(t, task.KindNotAuthorized, task.KindOf(err))

		res, err := env.PoolEngine.RejectClaim(ctx, tk.ID, "bob", "alice")
		require.NoError(t, err)
		assert.True(t, res.Task.IsPooled)
		assert.Equal(t, []string{"carol"}, res.Task.PoolClaims)
		assert.NotNil(t, env.Latest(t, "bob", notification.TypeTaskClaimRejected))

		_, err = env.PoolEngine.RejectClaim(ctx, tk.ID, "bob", "alice")
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))

		res, err = env.PoolEngine.RejectClaim(ctx, tk.ID, "carol", "alice")
		require.NoError(t, err)
		assert.True(t, res.Task.IsPooled)
		assert.Empty(t, res.Task.PoolClaims)
	})
}

func TestEngine_ReturnToPool(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		assigned, _ := env.Assign(t, "alice", "bob")
		_, err := env.PoolEngine.ReturnToPool(ctx, assigned.ID, "alice", nil)
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))

		tk := env.CreateTask(t, "alice")
		_, err = env.PoolEngine.ReturnToPool(ctx, tk.ID, "bob", nil)
		assert.Equal(t, task.KindNotAuthorized, task.KindOf(err))

		res, err := env.PoolEngine.ReturnToPool(ctx, tk.ID, "alice", []string{"dave", "carol", "dave"})
		require.NoError(t, err)
		assert.True(t, res.Task.IsPooled)
		assert.Equal(t, []string{"carol", "dave"}, res.Task.Candidates)
		assert.NotNil(t, env.Latest(t, "carol", notification.TypeTaskPoolOpen))
		assert.NotNil(t, env.Latest(t, "dave", notification.TypeTaskPoolOpen))

		_, err = env.PoolEngine.ReturnToPool(ctx, tk.ID, "alice", nil)
		assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))
	})
}

func TestEngine_ConcurrentApproveClaimHasOneWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		for range 10 {
			tk := env.CreateTask(t, "alice", testenv.Pooled())
			for _, user := range []string{"bob", "carol"} {
				_, err := env.PoolEngine.RequestClaim(ctx, tk.ID, user)
				require.NoError(t, err)
			}

			var (
				bobErr, carolErr error
				wg               conc.WaitGroup
			)
			wg.Go(func() { _, bobErr = env.PoolEngine.ApproveClaim(ctx, tk.ID, "bob", "alice") })
			wg.Go(func() { _, carolErr = env.PoolEngine.ApproveClaim(ctx, tk.ID, "carol", "root") })
			wg.Wait()

			require.True(t, (bobErr == nil) != (carolErr == nil), "bob: %v, carol: %v", bobErr, carolErr)
			for _, err := range []error{bobErr, carolErr} {
				if err != nil {
					kind := task.KindOf(err)
					assert.Contains(t, []task.Kind{task.KindAlreadyClaimed, task.KindInvalidTransition}, kind)
				}
			}

			got := env.Task(t, tk.ID)
			assert.False(t, got.IsPooled)
			assert.Empty(t, got.PoolClaims)
			list, err := env.Assignments.ListByTask(ctx, tk.ID)
			require.NoError(t, err)
			require.Len(t, list, 1)
			if bobErr == nil {
				assert.Equal(t, "bob", list[0].AssignedTo)
			} else {
				assert.Equal(t, "carol", list[0].AssignedTo)
			}
		}
	})
}

// interleavedTasks runs hook once right before the first task write.
type interleavedTasks struct {
	task.Repository
	once sync.Once
	hook func()
}

func (r *interleavedTasks) Update(ctx context.Context, t *task.Task, expectedVersion int64) error {
	r.once.Do(r.hook)
	return r.Repository.Update(ctx, t, expectedVersion)
}

func TestEngine_ApproveClaimSurvivesLateClaim(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk := env.CreateTask(t, "alice", testenv.Pooled())
		_, err := env.PoolEngine.RequestClaim(ctx, tk.ID, "bob")
		require.NoError(t, err)

		tasks := &interleavedTasks{Repository: env.Tasks, hook: func() {
			_, err := env.PoolEngine.RequestClaim(ctx, tk.ID, "dave")
			require.NoError(t, err)
		}}
		engine := pool.NewEngine(tasks, env.Assignments, env.Gate, env.Notifier, env.Bus)

		res, err := engine.ApproveClaim(ctx, tk.ID, "bob", "alice")
		require.NoError(t, err)
		assert.Equal(t, "bob", res.Assignment.AssignedTo)

		got := env.Task(t, tk.ID)
		assert.False(t, got.IsPooled)
		assert.Empty(t, got.PoolClaims)
		assert.Equal(t, task.WorkStatusInProgress, got.WorkStatus)
		assert.NotNil(t, env.Latest(t, "dave", notification.TypeTaskClaimSuperseded))
	})
}

func TestEngine_ApproveClaimLosesToEarlierApproval(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testenv.Env) {
		ctx := context.Background()
		tk := env.CreateTask(t, "alice", testenv.Pooled())
		for _, user := range []string{"bob", "carol"} {
			_, err := env.PoolEngine.RequestClaim(ctx, tk.ID, user)
			require.NoError(t, err)
		}

		tasks := &interleavedTasks{Repository: env.Tasks, hook: func() {
			_, err := env.PoolEngine.ApproveClaim(ctx, tk.ID, "carol", "root")
			require.NoError(t, err)
		}}
		engine := pool.NewEngine(tasks, env.Assignments, env.Gate, env.Notifier, env.Bus)

		_, err := engine.ApproveClaim(ctx, tk.ID, "bob", "alice")
		assert.Equal(t, task.KindAlreadyClaimed, task.KindOf(err))

		list, err := env.Assignments.ListByTask(ctx, tk.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "carol", list[0].AssignedTo)
	})
}
