package repositoryimpl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/sqlitedb"
)

// SQLiteRepository keeps the task document as JSON next to the columns used
// for filtering and for the version check.
type SQLiteRepository struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL DEFAULT '',
	created_by      TEXT NOT NULL,
	work_status     TEXT NOT NULL,
	approval_status TEXT NOT NULL,
	is_pooled       INTEGER NOT NULL DEFAULT 0,
	version         INTEGER NOT NULL,
	data            TEXT NOT NULL
)`

func NewSQLiteRepository(ctx context.Context, db *sqlx.DB) (*SQLiteRepository, error) {
	if err := sqlitedb.Migrate(ctx, db, schema); err != nil {
		return nil, fmt.Errorf("migrating tasks: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func columns(t *task.Task) (map[string]any, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	return map[string]any{
		"id":              t.ID,
		"project_id":      t.ProjectID,
		"created_by":      t.CreatedBy,
		"work_status":     string(t.WorkStatus),
		"approval_status": string(t.ApprovalStatus),
		"is_pooled":       t.IsPooled,
		"version":         t.Version,
		"data":            string(data),
	}, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, t *task.Task) error {
	stored := t.Clone()
	stored.Version = 1
	args, err := columns(stored)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO tasks (id, project_id, created_by, work_status, approval_status, is_pooled, version, data)
		VALUES (:id, :project_id, :created_by, :work_status, :approval_status, :is_pooled, :version, :data)`, args)
	if err != nil {
		if sqlitedb.IsConstraintViolation(err) {
			return cerr.NewError(cerr.AlreadyExists, "task already exists", nil)
		}
		return cerr.WrapStorageWriteError("task", sqlitedb.Unavailable(err))
	}
	t.Version = 1
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	var data string
	err := r.db.GetContext(ctx, &data, "SELECT data FROM tasks WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", sqlitedb.Unavailable(err))
	}
	return decodeJSON(data)
}

func decodeJSON(data string) (*task.Task, error) {
	var t task.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f task.Filter) ([]*task.Task, int, error) {
	var (
		conditions []string
		args       []any
	)
	if f.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.CreatedBy != "" {
		conditions = append(conditions, "created_by = ?")
		args = append(args, f.CreatedBy)
	}
	if f.WorkStatus != "" {
		conditions = append(conditions, "work_status = ?")
		args = append(args, string(f.WorkStatus))
	}
	if f.ApprovalStatus != "" {
		conditions = append(conditions, "approval_status = ?")
		args = append(args, string(f.ApprovalStatus))
	}
	if f.PooledOnly {
		conditions = append(conditions, "is_pooled = 1")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM tasks"+where, args...); err != nil {
		return nil, 0, cerr.WrapStorageReadError("tasks", sqlitedb.Unavailable(err))
	}

	query := "SELECT data FROM tasks" + where + " ORDER BY id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	} else if f.Offset > 0 {
		query += " LIMIT -1"
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}
	var rows []string
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, cerr.WrapStorageReadError("tasks", sqlitedb.Unavailable(err))
	}
	tasks := make([]*task.Task, 0, len(rows))
	for _, data := range rows {
		t, err := decodeJSON(data)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, t *task.Task, expectedVersion int64) error {
	stored := t.Clone()
	stored.Version = expectedVersion + 1
	args, err := columns(stored)
	if err != nil {
		return err
	}
	args["expected_version"] = expectedVersion
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE tasks SET
			project_id = :project_id, work_status = :work_status, approval_status = :approval_status,
			is_pooled = :is_pooled, version = :version, data = :data
		WHERE id = :id AND version = :expected_version`, args)
	if err != nil {
		return cerr.WrapStorageWriteError("task", sqlitedb.Unavailable(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cerr.WrapStorageWriteError("task", sqlitedb.Unavailable(err))
	}
	if n == 0 {
		var exists int
		if err := r.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM tasks WHERE id = ?", t.ID); err != nil {
			return cerr.WrapStorageReadError("task", sqlitedb.Unavailable(err))
		}
		if exists == 0 {
			return cerr.NewError(cerr.NotFound, "task not found", nil)
		}
		return task.StaleError("task", t.ID)
	}
	t.Version = stored.Version
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return cerr.WrapStorageDeleteError("task", sqlitedb.Unavailable(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return nil
}
