package repositoryimpl

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kazz187/taskdesk/internal/pushsubscription"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/sqlitedb"
)

type SQLiteRepository struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS push_subscriptions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	endpoint   TEXT NOT NULL UNIQUE,
	p256dh_key TEXT NOT NULL,
	auth_key   TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

func NewSQLiteRepository(ctx context.Context, db *sqlx.DB) (*SQLiteRepository, error) {
	if err := sqlitedb.Migrate(ctx, db, schema); err != nil {
		return nil, fmt.Errorf("migrating push_subscriptions: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

type row struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Endpoint  string `db:"endpoint"`
	P256dhKey string `db:"p256dh_key"`
	AuthKey   string `db:"auth_key"`
	CreatedAt int64  `db:"created_at"`
}

func (r *SQLiteRepository) Save(ctx context.Context, s *pushsubscription.Subscription) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh_key, auth_key, created_at)
		VALUES (:id, :user_id, :endpoint, :p256dh_key, :auth_key, :created_at)
		ON CONFLICT (endpoint) DO UPDATE SET
			id = excluded.id, user_id = excluded.user_id, p256dh_key = excluded.p256dh_key,
			auth_key = excluded.auth_key, created_at = excluded.created_at`, row{
		ID:        s.ID,
		UserID:    s.UserID,
		Endpoint:  s.Endpoint,
		P256dhKey: s.P256dhKey,
		AuthKey:   s.AuthKey,
		CreatedAt: s.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return cerr.WrapStorageWriteError("push_subscription", sqlitedb.Unavailable(err))
	}
	return nil
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]*pushsubscription.Subscription, error) {
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, "SELECT * FROM push_subscriptions WHERE user_id = ? ORDER BY id", userID); err != nil {
		return nil, cerr.WrapStorageReadError("push_subscriptions", sqlitedb.Unavailable(err))
	}
	subs := make([]*pushsubscription.Subscription, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, &pushsubscription.Subscription{
			ID:        r.ID,
			UserID:    r.UserID,
			Endpoint:  r.Endpoint,
			P256dhKey: r.P256dhKey,
			AuthKey:   r.AuthKey,
			CreatedAt: time.UnixMilli(r.CreatedAt),
		})
	}
	return subs, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return r.delete(ctx, "DELETE FROM push_subscriptions WHERE id = ?", id)
}

func (r *SQLiteRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	return r.delete(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint)
}

func (r *SQLiteRepository) delete(ctx context.Context, query, arg string) error {
	res, err := r.db.ExecContext(ctx, query, arg)
	if err != nil {
		return cerr.WrapStorageDeleteError("push_subscription", sqlitedb.Unavailable(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerr.NewError(cerr.NotFound, "push subscription not found", nil)
	}
	return nil
}
