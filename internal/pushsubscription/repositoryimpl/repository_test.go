package repositoryimpl

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskdesk/internal/pushsubscription"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/sqlitedb"
	"github.com/kazz187/taskdesk/pkg/storage"
)

func repositories(t *testing.T) map[string]pushsubscription.Repository {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "taskdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqliteRepo, err := NewSQLiteRepository(context.Background(), db)
	require.NoError(t, err)

	return map[string]pushsubscription.Repository{
		"yaml":   NewYAMLRepository(local),
		"sqlite": sqliteRepo,
	}
}

func TestRepository_SaveReplacesEndpoint(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sub := func(id, user, endpoint string) *pushsubscription.Subscription {
				return &pushsubscription.Subscription{
					ID: id, UserID: user, Endpoint: endpoint,
					P256dhKey: "key", AuthKey: "auth", CreatedAt: time.Now(),
				}
			}
			require.NoError(t, repo.Save(ctx, sub("a", "bob", "https://push.example.com/1")))
			require.NoError(t, repo.Save(ctx, sub("b", "bob", "https://push.example.com/2")))
			require.NoError(t, repo.Save(ctx, sub("c", "carol", "https://push.example.com/1")))

			bobs, err := repo.ListByUser(ctx, "bob")
			require.NoError(t, err)
			require.Len(t, bobs, 1)
			assert.Equal(t, "b", bobs[0].ID)

			carols, err := repo.ListByUser(ctx, "carol")
			require.NoError(t, err)
			require.Len(t, carols, 1)

			require.NoError(t, repo.Delete(ctx, "b"))
			require.NoError(t, repo.DeleteByEndpoint(ctx, "https://push.example.com/1"))
			err = repo.DeleteByEndpoint(ctx, "https://push.example.com/1")
			assert.True(t, cerr.IsCode(err, cerr.NotFound))

			bobs, err = repo.ListByUser(ctx, "bob")
			require.NoError(t, err)
			assert.Empty(t, bobs)
		})
	}
}
