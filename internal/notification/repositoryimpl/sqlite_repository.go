package repositoryimpl

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/sqlitedb"
)

type SQLiteRepository struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	read         INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	data         TEXT NOT NULL
)`

// Fixed width keeps created_at sortable as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const recipientIndex = `CREATE INDEX IF NOT EXISTS notifications_recipient ON notifications (recipient_id, created_at)`

func NewSQLiteRepository(ctx context.Context, db *sqlx.DB) (*SQLiteRepository, error) {
	if err := sqlitedb.Migrate(ctx, db, schema, recipientIndex); err != nil {
		return nil, fmt.Errorf("migrating notifications: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func encodeJSON(n *notification.Notification) (string, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return "", cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal notification: %w", err))
	}
	return string(data), nil
}

func decodeJSON(data string) (*notification.Notification, error) {
	var n notification.Notification
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal notification: %w", err))
	}
	return &n, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, n *notification.Notification) error {
	data, err := encodeJSON(n)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		"INSERT INTO notifications (id, recipient_id, read, created_at, data) VALUES (?, ?, ?, ?, ?)",
		n.ID, n.RecipientID, n.Read, n.CreatedAt.UTC().Format(timeLayout), data,
	)
	if err != nil {
		if sqlitedb.IsConstraintViolation(err) {
			return cerr.NewError(cerr.AlreadyExists, "notification already exists", nil)
		}
		return cerr.WrapStorageWriteError("notification", sqlitedb.Unavailable(err))
	}
	return nil
}

func (r *SQLiteRepository) get(ctx context.Context, id string) (*notification.Notification, string, error) {
	var data string
	err := r.db.GetContext(ctx, &data, "SELECT data FROM notifications WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", cerr.NewError(cerr.NotFound, "notification not found", nil)
	}
	if err != nil {
		return nil, "", cerr.WrapStorageReadError("notification", sqlitedb.Unavailable(err))
	}
	n, err := decodeJSON(data)
	return n, data, err
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*notification.Notification, error) {
	n, _, err := r.get(ctx, id)
	return n, err
}

func (r *SQLiteRepository) List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*notification.Notification, int, error) {
	where := " WHERE (? = '' OR recipient_id = ?)"
	args := []any{recipientID, recipientID}
	if unreadOnly {
		where += " AND read = 0"
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications"+where, args...); err != nil {
		return nil, 0, cerr.WrapStorageReadError("notifications", sqlitedb.Unavailable(err))
	}
	if limit <= 0 {
		limit = -1
	}
	var rows []string
	query := "SELECT data FROM notifications" + where + " ORDER BY id DESC LIMIT ? OFFSET ?"
	if err := r.db.SelectContext(ctx, &rows, query, append(args, limit, offset)...); err != nil {
		return nil, 0, cerr.WrapStorageReadError("notifications", sqlitedb.Unavailable(err))
	}
	out := make([]*notification.Notification, 0, len(rows))
	for _, data := range rows {
		n, err := decodeJSON(data)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, nil
}

// Update compares the whole stored document so a concurrent patch forces a
// re-read instead of being overwritten.
func (r *SQLiteRepository) Update(ctx context.Context, id string, patch notification.PatchFunc) (*notification.Notification, error) {
	for range maxSwapAttempts {
		n, before, err := r.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := patch(n); err != nil {
			return nil, err
		}
		after, err := encodeJSON(n)
		if err != nil {
			return nil, err
		}
		res, err := r.db.ExecContext(ctx,
			"UPDATE notifications SET read = ?, data = ? WHERE id = ? AND data = ?",
			n.Read, after, id, before,
		)
		if err != nil {
			return nil, cerr.WrapStorageWriteError("notification", sqlitedb.Unavailable(err))
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			return n, nil
		}
	}
	return nil, cerr.NewError(cerr.Aborted, "notification is being modified concurrently", nil)
}
