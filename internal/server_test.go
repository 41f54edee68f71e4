package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskdesk/internal/approval"
	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/config"
	"github.com/kazz187/taskdesk/internal/dispatch"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/permission"
	"github.com/kazz187/taskdesk/internal/pool"
	"github.com/kazz187/taskdesk/internal/pushnotification"
	pushsubrepo "github.com/kazz187/taskdesk/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/internal/testenv"
	"github.com/kazz187/taskdesk/pkg/connectjson"
	"github.com/kazz187/taskdesk/pkg/storage"
)

const apiKey = "test-key"

func newTestServer(t *testing.T) (*httptest.Server, *testenv.Env) {
	t.Helper()
	e := testenv.New(t)

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)
	vapidEnv := &config.VAPIDEnv{}

	srv := NewServer(
		&config.Env{BaseEnv: config.BaseEnv{APIKey: apiKey}},
		task.NewServer(e.Tasks, e.Bus),
		assignment.NewServer(e.AssignmentEngine, e.Assignments),
		approval.NewServer(e.ApprovalEngine),
		pool.NewServer(e.PoolEngine),
		notification.NewServer(e.Notifications, e.Notifier, e.Bus),
		dispatch.NewServer(e.Router, e.Notifications),
		permission.NewServer(e.Gate),
		pushnotification.NewServer(vapidEnv, pushSubRepo, pushnotification.NewSender(vapidEnv, pushSubRepo)),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, e
}

func withKey[T any](msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("X-API-Key", apiKey)
	return req
}

func TestServer_HealthIsOpen(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RequiresAPIKey(t *testing.T) {
	ts, _ := newTestServer(t)
	client := connectjson.NewClient[task.CreateTaskRequest, task.TaskResponse](ts.Client(), ts.URL, task.ServiceName, "CreateTask")

	_, err := client.CallUnary(context.Background(), connect.NewRequest(&task.CreateTaskRequest{Actor: "sam", Title: "Restock shelf", Priority: 1}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	res, err := client.CallUnary(context.Background(), withKey(&task.CreateTaskRequest{Actor: "sam", Title: "Restock shelf", Priority: 1}))
	require.NoError(t, err)
	assert.Equal(t, "sam", res.Msg.Task.CreatedBy)
	assert.Equal(t, task.WorkStatusPending, res.Msg.Task.WorkStatus)
}

func TestServer_DispatchOverHTTP(t *testing.T) {
	ts, e := newTestServer(t)
	_, _ = e.Assign(t, "maria", "bob")
	n := e.Latest(t, "bob", notification.TypeTaskAssigned)
	require.NotNil(t, n)

	client := connectjson.NewClient[dispatch.Request, dispatch.Result](ts.Client(), ts.URL, dispatch.ServiceName, "Dispatch")
	req := dispatch.Request{NotificationID: n.ID, Actor: "bob", Verb: dispatch.VerbAccept}

	res, err := client.CallUnary(context.Background(), withKey(&req))
	require.NoError(t, err)
	assert.Equal(t, assignment.StatusAccepted, res.Msg.Assignment.Status)

	_, err = client.CallUnary(context.Background(), withKey(&req))
	require.Error(t, err)
	assert.Equal(t, task.KindAlreadyProcessed, task.KindOf(err))
	assert.True(t, task.IsAlreadyHandled(err))
}

func TestServer_ValidationErrorCrossesWire(t *testing.T) {
	ts, e := newTestServer(t)
	_, a := e.Assign(t, "maria", "bob")

	client := connectjson.NewClient[assignment.ActRequest, assignment.Result](ts.Client(), ts.URL, assignment.ServiceName, "Reject")
	_, err := client.CallUnary(context.Background(), withKey(&assignment.ActRequest{AssignmentID: a.ID, Actor: "bob", Reason: "too short"}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	assert.Equal(t, task.KindValidation, task.KindOf(err))
}

func TestServer_VapidKeyRoute(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/push/vapid-public-key", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "failed_precondition", body.Code)
}
