package permission_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskdesk/internal/permission"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/internal/testenv"
)

func TestGate_RejectionReviewers(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		task   *task.Task
		worker string
		want   []string
	}{
		{name: "creator reviews", task: &task.Task{ID: "t1", CreatedBy: "alice"}, worker: "bob", want: []string{"alice"}},
		{name: "delegated goes to the worker's manager", task: &task.Task{ID: "t2", CreatedBy: "alice", DelegateApproval: true}, worker: "bob", want: []string{"maria"}},
		{name: "own task goes to the manager", task: &task.Task{ID: "t3", CreatedBy: "bob"}, worker: "bob", want: []string{"maria"}},
		{name: "no manager goes to the admins", task: &task.Task{ID: "t4", CreatedBy: "eve"}, worker: "eve", want: []string{"root"}},
		{name: "delegated without manager goes to the admins", task: &task.Task{ID: "t5", CreatedBy: "alice", DelegateApproval: true}, worker: "eve", want: []string{"root"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.Gate.RejectionReviewers(ctx, tt.task, tt.worker)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, tt.worker)
		})
	}
}

func TestGate_RejectionReviewersNeverTheWorker(t *testing.T) {
	ctx := context.Background()
	directory, err := permission.NewMemoryDirectory(&permission.Snapshot{
		Users: []permission.User{
			{ID: "root", Admin: true},
			{ID: "solo"},
		},
	})
	require.NoError(t, err)
	gate := permission.NewGate(directory, nil, nil)

	got, err := gate.RejectionReviewers(ctx, &task.Task{ID: "t1", CreatedBy: "root"}, "root")
	assert.Empty(t, got)
	assert.Equal(t, task.KindInvalidTransition, task.KindOf(err))

	got, err = gate.RejectionReviewers(ctx, &task.Task{ID: "t2", CreatedBy: "solo"}, "solo")
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, got)
}

func TestMemoryDirectory_Admins(t *testing.T) {
	directory, err := permission.NewMemoryDirectory(&permission.Snapshot{
		Users: []permission.User{
			{ID: "zed", Admin: true},
			{ID: "amy", Admin: true},
			{ID: "bo"},
		},
	})
	require.NoError(t, err)
	admins, err := directory.Admins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "zed"}, admins)

	require.NoError(t, directory.Replace(&permission.Snapshot{Users: []permission.User{{ID: "bo"}}}))
	admins, err = directory.Admins(context.Background())
	require.NoError(t, err)
	assert.Empty(t, admins)
}
