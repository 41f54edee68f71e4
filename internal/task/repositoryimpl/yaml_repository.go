package repositoryimpl

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/storage"
)

const tasksPrefix = "tasks"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", tasksPrefix, id)
}

var errExists = errors.New("exists")

func (r *YAMLRepository) Create(ctx context.Context, t *task.Task) error {
	stored := t.Clone()
	stored.Version = 1
	data, err := yaml.Marshal(stored)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	err = r.storage.Swap(ctx, path(t.ID), func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, errExists
		}
		return data, nil
	})
	switch {
	case errors.Is(err, errExists), errors.Is(err, storage.ErrConflict):
		return cerr.NewError(cerr.AlreadyExists, "task already exists", nil)
	case err != nil:
		return cerr.WrapStorageWriteError("task", err)
	}
	t.Version = 1
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	return decode(data)
}

func decode(data []byte) (*task.Task, error) {
	var t task.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, nil
}

func (r *YAMLRepository) List(ctx context.Context, f task.Filter) ([]*task.Task, int, error) {
	paths, err := r.storage.List(ctx, tasksPrefix)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("tasks", err)
	}

	sort.Strings(paths)

	var all []*task.Task
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, 0, cerr.WrapStorageReadError("tasks", err)
		}
		t, err := decode(data)
		if err != nil {
			continue
		}
		if f.Match(t) {
			all = append(all, t)
		}
	}

	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, t *task.Task, expectedVersion int64) error {
	stored := t.Clone()
	stored.Version = expectedVersion + 1
	data, err := yaml.Marshal(stored)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	err = r.storage.Swap(ctx, path(t.ID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, storage.ErrNotFound
		}
		cur, err := decode(current)
		if err != nil {
			return nil, err
		}
		if cur.Version != expectedVersion {
			return nil, task.ErrStale
		}
		return data, nil
	})
	switch {
	case errors.Is(err, task.ErrStale), errors.Is(err, storage.ErrConflict):
		return task.StaleError("task", t.ID)
	case errors.Is(err, storage.ErrNotFound):
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	case err != nil:
		var ce *cerr.Error
		if errors.As(err, &ce) {
			return err
		}
		return cerr.WrapStorageWriteError("task", err)
	}
	t.Version = stored.Version
	return nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("task", err)
	}
	return nil
}
