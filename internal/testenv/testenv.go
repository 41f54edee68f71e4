// Package testenv wires the engines over real repositories for tests.
package testenv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskdesk/internal/approval"
	"github.com/kazz187/taskdesk/internal/assignment"
	assignmentrepo "github.com/kazz187/taskdesk/internal/assignment/repositoryimpl"
	"github.com/kazz187/taskdesk/internal/dispatch"
	"github.com/kazz187/taskdesk/internal/eventbus"
	"github.com/kazz187/taskdesk/internal/notification"
	notificationrepo "github.com/kazz187/taskdesk/internal/notification/repositoryimpl"
	"github.com/kazz187/taskdesk/internal/permission"
	"github.com/kazz187/taskdesk/internal/pool"
	"github.com/kazz187/taskdesk/internal/task"
	taskrepo "github.com/kazz187/taskdesk/internal/task/repositoryimpl"
	"github.com/kazz187/taskdesk/pkg/sqlitedb"
	"github.com/kazz187/taskdesk/pkg/storage"
)

// Directory used by every Env:
//
//	sales:     alice, sam (manager)
//	warehouse: bob, carol, dave, maria (manager)
//	root is an admin; eve belongs to no department.
var Directory = &permission.Snapshot{
	Departments: []permission.Department{
		{ID: "sales", Name: "Sales", Managers: []string{"sam"}},
		{ID: "warehouse", Name: "Warehouse", Managers: []string{"maria"}},
	},
	Users: []permission.User{
		{ID: "alice", Name: "Alice", Departments: []string{"sales"}},
		{ID: "sam", Name: "Sam", Departments: []string{"sales"}},
		{ID: "bob", Name: "Bob", Departments: []string{"warehouse"}},
		{ID: "carol", Name: "Carol", Departments: []string{"warehouse"}},
		{ID: "dave", Name: "Dave", Departments: []string{"warehouse"}},
		{ID: "maria", Name: "Maria", Departments: []string{"warehouse"}},
		{ID: "root", Name: "Root", Admin: true},
		{ID: "eve", Name: "Eve"},
	},
}

type Env struct {
	Tasks         task.Repository
	Assignments   assignment.Repository
	Notifications notification.Repository

	Bus      *eventbus.Bus
	Gate     *permission.Gate
	Notifier *notification.Notifier

	AssignmentEngine *assignment.Engine
	ApprovalEngine   *approval.Engine
	PoolEngine       *pool.Engine
	Router           *dispatch.Router
}

type options struct {
	sqlite bool
}

type Option func(*options)

// WithSQLite backs the repositories with a SQLite file instead of YAML on
// local storage.
func WithSQLite() Option {
	return func(o *options) { o.sqlite = true }
}

func New(t testing.TB, opts ...Option) *Env {
	t.Helper()
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	env := &Env{Bus: eventbus.New()}
	if o.sqlite {
		ctx := context.Background()
		db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "taskdesk.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		tasks, err := taskrepo.NewSQLiteRepository(ctx, db)
		require.NoError(t, err)
		assignments, err := assignmentrepo.NewSQLiteRepository(ctx, db)
		require.NoError(t, err)
		notifications, err := notificationrepo.NewSQLiteRepository(ctx, db)
		require.NoError(t, err)
		env.Tasks, env.Assignments, env.Notifications = tasks, assignments, notifications
	} else {
		store, err := storage.NewLocalStorage(t.TempDir())
		require.NoError(t, err)
		env.Tasks = taskrepo.NewYAMLRepository(store)
		env.Assignments = assignmentrepo.NewYAMLRepository(store)
		env.Notifications = notificationrepo.NewYAMLRepository(store)
	}

	directory, err := permission.NewMemoryDirectory(Directory)
	require.NoError(t, err)
	env.Gate = permission.NewGate(directory, env.Tasks, assignment.NewAssigneeFinder(env.Assignments))
	env.Notifier = notification.NewNotifier(env.Notifications, env.Bus)

	env.AssignmentEngine = assignment.NewEngine(env.Tasks, env.Assignments, env.Gate, env.Notifier, env.Bus)
	env.ApprovalEngine = approval.NewEngine(env.Tasks, env.Assignments, env.Gate, env.Notifier, env.Bus)
	env.PoolEngine = pool.NewEngine(env.Tasks, env.Assignments, env.Gate, env.Notifier, env.Bus)
	env.Router = dispatch.NewRouter(env.Notifications, env.Notifier, env.Gate,
		env.AssignmentEngine, env.ApprovalEngine, env.PoolEngine)
	return env
}

type TaskOption func(*task.Task)

func Delegated() TaskOption {
	return func(t *task.Task) { t.DelegateApproval = true }
}

func Pooled(candidates ...string) TaskOption {
	return func(t *task.Task) {
		t.IsPooled = true
		t.Candidates = candidates
	}
}

// CreateTask stores a pending task created by creator.
func (e *Env) CreateTask(t testing.TB, creator string, opts ...TaskOption) *task.Task {
	t.Helper()
	now := time.Now()
	tk := &task.Task{
		ID:             ulid.Make().String(),
		Title:          "Count pallets in aisle 7",
		CreatedBy:      creator,
		Priority:       2,
		WorkStatus:     task.WorkStatusPending,
		ApprovalStatus: task.ApprovalStatusNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, opt := range opts {
		opt(tk)
	}
	require.NoError(t, e.Tasks.Create(context.Background(), tk))
	return tk
}

// Assign creates a task assigned to worker and returns the pending
// assignment.
func (e *Env) Assign(t testing.TB, creator, worker string, opts ...TaskOption) (*task.Task, *assignment.Assignment) {
	t.Helper()
	tk := e.CreateTask(t, creator, opts...)
	res, err := e.AssignmentEngine.Assign(context.Background(), tk.ID, worker, creator)
	require.NoError(t, err)
	return res.Task, res.Assignment
}

// Inbox returns user's notifications newest first.
func (e *Env) Inbox(t testing.TB, user string) []*notification.Notification {
	t.Helper()
	list, _, err := e.Notifications.List(context.Background(), user, false, 0, 0)
	require.NoError(t, err)
	return list
}

// Latest returns user's newest notification of typ, or nil.
func (e *Env) Latest(t testing.TB, user string, typ notification.Type) *notification.Notification {
	t.Helper()
	for _, n := range e.Inbox(t, user) {
		if n.Type == typ {
			return n
		}
	}
	return nil
}

func (e *Env) Task(t testing.TB, id string) *task.Task {
	t.Helper()
	tk, err := e.Tasks.Get(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func (e *Env) Assignment(t testing.TB, id string) *assignment.Assignment {
	t.Helper()
	a, err := e.Assignments.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}
