package internal

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kazz187/taskdesk/internal/approval"
	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/config"
	"github.com/kazz187/taskdesk/internal/dispatch"
	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/internal/permission"
	"github.com/kazz187/taskdesk/internal/pool"
	"github.com/kazz187/taskdesk/internal/pushnotification"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/clog"
)

type Server struct {
	server                 *http.Server
	env                    *config.Env
	taskServer             *task.Server
	assignmentServer       *assignment.Server
	approvalServer         *approval.Server
	poolServer             *pool.Server
	notificationServer     *notification.Server
	dispatchServer         *dispatch.Server
	directoryServer        *permission.Server
	pushNotificationServer *pushnotification.Server
}

func NewServer(
	env *config.Env,
	taskServer *task.Server,
	assignmentServer *assignment.Server,
	approvalServer *approval.Server,
	poolServer *pool.Server,
	notificationServer *notification.Server,
	dispatchServer *dispatch.Server,
	directoryServer *permission.Server,
	pushNotificationServer *pushnotification.Server,
) *Server {
	return &Server{
		env:                    env,
		taskServer:             taskServer,
		assignmentServer:       assignmentServer,
		approvalServer:         approvalServer,
		poolServer:             poolServer,
		notificationServer:     notificationServer,
		dispatchServer:         dispatchServer,
		directoryServer:        directoryServer,
		pushNotificationServer: pushNotificationServer,
	}
}

// Handler builds the full HTTP handler: REST routes under /api, health
// checks and every Connect service, behind CORS and the API key check.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONChiMiddleware(),
		)
		r.Get("/push/vapid-public-key", s.pushNotificationServer.HandleVapidPublicKey)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetJSONError(r.Context(), cerr.NewError(cerr.NotFound, "not found", nil))
		})
	})

	mux := http.NewServeMux()

	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)
	mux.Handle(grpchealth.NewHandler(grpchealth.NewStaticChecker(
		task.ServiceName,
		assignment.ServiceName,
		approval.ServiceName,
		pool.ServiceName,
		notification.ServiceName,
		dispatch.ServiceName,
	)))

	handlerOpts := connect.WithInterceptors(s.interceptors()...)

	mux.Handle(task.NewTaskServiceHandler(s.taskServer, handlerOpts))
	mux.Handle(assignment.NewAssignmentServiceHandler(s.assignmentServer, handlerOpts))
	mux.Handle(approval.NewApprovalServiceHandler(s.approvalServer, handlerOpts))
	mux.Handle(pool.NewPoolServiceHandler(s.poolServer, handlerOpts))
	mux.Handle(notification.NewNotificationServiceHandler(s.notificationServer, handlerOpts))
	mux.Handle(dispatch.NewDispatchServiceHandler(s.dispatchServer, handlerOpts))
	mux.Handle(permission.NewDirectoryServiceHandler(s.directoryServer, handlerOpts))
	mux.Handle(pushnotification.NewPushNotificationServiceHandler(s.pushNotificationServer, handlerOpts))

	return h2c.NewHandler(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(mux)), &http2.Server{})
}

// ListenAndServe starts the HTTP server. ctx becomes the base context of every
// request, so cancelling it also ends open subscription streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) interceptors() []connect.Interceptor {
	return []connect.Interceptor{
		clog.NewSlogConnectInterceptor(),
		cerr.NewConvertConnectErrorInterceptor(cerr.WithClassifier(func(err error) string {
			return string(task.KindOf(err))
		})),
	}
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints stay open for probes.
		if r.URL.Path == "/health" || r.URL.Path == "/"+grpchealth.HealthV1ServiceName+"/Check" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.env.APIKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
