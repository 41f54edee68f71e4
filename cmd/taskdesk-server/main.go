package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kazz187/taskdesk/internal/approval"
	"github.com/kazz187/taskdesk/internal/assignment"
	assignmentrepo "github.com/kazz187/taskdesk/internal/assignment/repositoryimpl"
	"github.com/kazz187/taskdesk/internal/config"
	"github.com/kazz187/taskdesk/internal/dispatch"
	"github.com/kazz187/taskdesk/internal/eventbus"
	"github.com/kazz187/taskdesk/internal/notification"
	notificationrepo "github.com/kazz187/taskdesk/internal/notification/repositoryimpl"
	"github.com/kazz187/taskdesk/internal/permission"
	directoryrepo "github.com/kazz187/taskdesk/internal/permission/repositoryimpl"
	"github.com/kazz187/taskdesk/internal/pool"
	"github.com/kazz187/taskdesk/internal/pushnotification"
	"github.com/kazz187/taskdesk/internal/pushsubscription"
	pushsubrepo "github.com/kazz187/taskdesk/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/taskdesk/internal/task"
	taskrepo "github.com/kazz187/taskdesk/internal/task/repositoryimpl"
	"github.com/kazz187/taskdesk/pkg/clog"
	"github.com/kazz187/taskdesk/pkg/panicerr"
	"github.com/kazz187/taskdesk/pkg/sqlitedb"
	"github.com/kazz187/taskdesk/pkg/storage"

	server "github.com/kazz187/taskdesk/internal"
)

type repositories struct {
	tasks         task.Repository
	assignments   assignment.Repository
	notifications notification.Repository
	pushSubs      pushsubscription.Repository
	close         func() error
}

func fatal(msg string, err error) {
	slog.Error(msg, clog.ErrorAttributeKey, err)
	os.Exit(1)
}

func main() {
	env, err := config.LoadEnv(".env")
	if err != nil {
		fatal("failed to load env", err)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	repos, err := setupRepositories(ctx, &env.StorageEnv)
	if err != nil {
		fatal("failed to setup storage", err)
	}
	defer repos.close()

	// Setup event bus
	bus := eventbus.New()
	if env.RedisURL != "" {
		relay, err := eventbus.NewRedisRelay(bus, env.RedisURL, env.RedisChannel)
		if err != nil {
			fatal("failed to setup redis relay", err)
		}
		panicerr.Go(ctx, "redis-relay", relay.Start)
	}

	// Setup directory
	directory, err := directoryrepo.NewFileDirectory(env.DirectoryEnv.File)
	if err != nil {
		fatal("failed to load directory", err)
	}
	panicerr.Go(ctx, "directory-watch", directory.Watch)

	// Setup engines
	gate := permission.NewGate(directory, repos.tasks, assignment.NewAssigneeFinder(repos.assignments))
	notifier := notification.NewNotifier(repos.notifications, bus)
	assignmentEngine := assignment.NewEngine(repos.tasks, repos.assignments, gate, notifier, bus)
	approvalEngine := approval.NewEngine(repos.tasks, repos.assignments, gate, notifier, bus)
	poolEngine := pool.NewEngine(repos.tasks, repos.assignments, gate, notifier, bus)
	router := dispatch.NewRouter(repos.notifications, notifier, gate, assignmentEngine, approvalEngine, poolEngine)

	// Setup push notification
	vapidEnv := &env.VAPIDEnv
	pushSender := pushnotification.NewSender(vapidEnv, repos.pushSubs)
	pushDispatcher := pushnotification.NewDispatcher(bus, repos.notifications, repos.tasks, pushSender)
	panicerr.Go(ctx, "push-dispatcher", pushDispatcher.Start)

	srv := server.NewServer(
		env,
		task.NewServer(repos.tasks, bus),
		assignment.NewServer(assignmentEngine, repos.assignments),
		approval.NewServer(approvalEngine),
		pool.NewServer(poolEngine),
		notification.NewServer(repos.notifications, notifier, bus),
		dispatch.NewServer(router, repos.notifications),
		permission.NewServer(gate),
		pushnotification.NewServer(vapidEnv, repos.pushSubs, pushSender),
	)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", clog.ErrorAttributeKey, err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", clog.ErrorAttributeKey, err)
	}
}

func setupRepositories(ctx context.Context, env *config.StorageEnv) (*repositories, error) {
	switch env.Type {
	case config.StorageTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(env.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		db, err := sqlitedb.Open(env.SQLitePath)
		if err != nil {
			return nil, err
		}
		repos := &repositories{close: db.Close}
		if repos.tasks, err = taskrepo.NewSQLiteRepository(ctx, db); err != nil {
			return nil, errors.Join(err, db.Close())
		}
		if repos.assignments, err = assignmentrepo.NewSQLiteRepository(ctx, db); err != nil {
			return nil, errors.Join(err, db.Close())
		}
		if repos.notifications, err = notificationrepo.NewSQLiteRepository(ctx, db); err != nil {
			return nil, errors.Join(err, db.Close())
		}
		if repos.pushSubs, err = pushsubrepo.NewSQLiteRepository(ctx, db); err != nil {
			return nil, errors.Join(err, db.Close())
		}
		slog.Info("using sqlite storage", "path", env.SQLitePath)
		return repos, nil
	}

	var (
		store storage.Storage
		err   error
	)
	switch env.Type {
	case config.StorageTypeS3:
		store, err = storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
	default:
		store, err = storage.NewLocalStorage(env.BaseDir)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("using object storage", "type", env.Type)
	return &repositories{
		tasks:         taskrepo.NewYAMLRepository(store),
		assignments:   assignmentrepo.NewYAMLRepository(store),
		notifications: notificationrepo.NewYAMLRepository(store),
		pushSubs:      pushsubrepo.NewYAMLRepository(store),
		close:         func() error { return nil },
	}, nil
}
