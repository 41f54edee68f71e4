package pushnotification

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskdesk/internal/config"
	"github.com/kazz187/taskdesk/internal/pushsubscription"
	"github.com/kazz187/taskdesk/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/taskdesk/pkg/storage"
)

func newSubscription(t *testing.T, id, userID, endpoint string) *pushsubscription.Subscription {
	t.Helper()
	_, clientKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return &pushsubscription.Subscription{
		ID:        id,
		UserID:    userID,
		Endpoint:  endpoint,
		P256dhKey: clientKey,
		AuthKey:   base64.RawURLEncoding.EncodeToString(auth),
		CreatedAt: time.Now(),
	}
}

func TestSender_SendToUser(t *testing.T) {
	var received atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repositoryimpl.NewYAMLRepository(local)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, newSubscription(t, "s1", "bob", srv.URL+"/ok")))
	require.NoError(t, repo.Save(ctx, newSubscription(t, "s2", "bob", srv.URL+"/gone")))
	require.NoError(t, repo.Save(ctx, newSubscription(t, "s3", "carol", srv.URL+"/ok")))

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	sender := NewSender(&config.VAPIDEnv{
		VAPIDPublicKey:  publicKey,
		VAPIDPrivateKey: privateKey,
		VAPIDContact:    "mailto:ops@example.com",
	}, repo)

	delivered := sender.SendToUser(ctx, "bob", &NotificationPayload{Title: "New assignment", Body: "Count pallets"})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, int32(1), received.Load())

	subs, err := repo.ListByUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "s1", subs[0].ID)
}

func TestSender_NotConfigured(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repositoryimpl.NewYAMLRepository(local)
	require.NoError(t, repo.Save(context.Background(), newSubscription(t, "s1", "bob", "http://127.0.0.1:1/unreachable")))

	sender := NewSender(&config.VAPIDEnv{}, repo)
	assert.Equal(t, 0, sender.SendToUser(context.Background(), "bob", &NotificationPayload{Title: "x"}))
}
