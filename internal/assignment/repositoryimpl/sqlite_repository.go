package repositoryimpl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/sqlitedb"
)

// SQLiteRepository enforces the single active assignment per task with a
// partial unique index, which also holds across processes sharing the file.
type SQLiteRepository struct {
	db *sqlx.DB
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS assignments (
	id          TEXT PRIMARY KEY,
	task_id     TEXT NOT NULL,
	assigned_to TEXT NOT NULL,
	status      TEXT NOT NULL,
	active      INTEGER NOT NULL,
	version     INTEGER NOT NULL,
	data        TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS assignments_task_id ON assignments (task_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS assignments_one_active ON assignments (task_id) WHERE active = 1`,
}

func NewSQLiteRepository(ctx context.Context, db *sqlx.DB) (*SQLiteRepository, error) {
	if err := sqlitedb.Migrate(ctx, db, schema...); err != nil {
		return nil, fmt.Errorf("migrating assignments: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func columns(a *assignment.Assignment) (map[string]any, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal assignment: %w", err))
	}
	return map[string]any{
		"id":          a.ID,
		"task_id":     a.TaskID,
		"assigned_to": a.AssignedTo,
		"status":      string(a.Status),
		"active":      a.IsActive(),
		"version":     a.Version,
		"data":        string(data),
	}, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, a *assignment.Assignment) error {
	stored := a.Clone()
	stored.Version = 1
	args, err := columns(stored)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO assignments (id, task_id, assigned_to, status, active, version, data)
		VALUES (:id, :task_id, :assigned_to, :status, :active, :version, :data)`, args)
	if err != nil {
		if sqlitedb.IsConstraintViolation(err) {
			return cerr.NewError(cerr.AlreadyExists, fmt.Sprintf("task %s already has an active assignment", a.TaskID), nil)
		}
		return cerr.WrapStorageWriteError("assignment", sqlitedb.Unavailable(err))
	}
	a.Version = 1
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*assignment.Assignment, error) {
	var data string
	err := r.db.GetContext(ctx, &data, "SELECT data FROM assignments WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerr.NewError(cerr.NotFound, "assignment not found", nil)
	}
	if err != nil {
		return nil, cerr.WrapStorageReadError("assignment", sqlitedb.Unavailable(err))
	}
	return decodeJSON(data)
}

func decodeJSON(data string) (*assignment.Assignment, error) {
	var a assignment.Assignment
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal assignment: %w", err))
	}
	return &a, nil
}

func (r *SQLiteRepository) ListByTask(ctx context.Context, taskID string) ([]*assignment.Assignment, error) {
	var rows []string
	if err := r.db.SelectContext(ctx, &rows, "SELECT data FROM assignments WHERE task_id = ? ORDER BY id", taskID); err != nil {
		return nil, cerr.WrapStorageReadError("assignments", sqlitedb.Unavailable(err))
	}
	list := make([]*assignment.Assignment, 0, len(rows))
	for _, data := range rows {
		a, err := decodeJSON(data)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, a *assignment.Assignment, expectedVersion int64) error {
	stored := a.Clone()
	stored.Version = expectedVersion + 1
	args, err := columns(stored)
	if err != nil {
		return err
	}
	args["expected_version"] = expectedVersion
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE assignments SET
			assigned_to = :assigned_to, status = :status, active = :active, version = :version, data = :data
		WHERE id = :id AND version = :expected_version`, args)
	if err != nil {
		if sqlitedb.IsConstraintViolation(err) {
			return cerr.NewError(cerr.AlreadyExists, fmt.Sprintf("task %s already has an active assignment", a.TaskID), nil)
		}
		return cerr.WrapStorageWriteError("assignment", sqlitedb.Unavailable(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cerr.WrapStorageWriteError("assignment", sqlitedb.Unavailable(err))
	}
	if n == 0 {
		var exists int
		if err := r.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM assignments WHERE id = ?", a.ID); err != nil {
			return cerr.WrapStorageReadError("assignment", sqlitedb.Unavailable(err))
		}
		if exists == 0 {
			return cerr.NewError(cerr.NotFound, "assignment not found", nil)
		}
		return task.StaleError("assignment", a.ID)
	}
	a.Version = stored.Version
	return nil
}
