package repositoryimpl

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskdesk/internal/assignment"
	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/keylock"
	"github.com/kazz187/taskdesk/pkg/storage"
)

const assignmentsPrefix = "assignments"

// YAMLRepository stores one file per assignment. The single active assignment
// check runs under a per-task lock, so it holds within one process only.
type YAMLRepository struct {
	storage  storage.Storage
	taskLock *keylock.KeyLock
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s, taskLock: keylock.New()}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", assignmentsPrefix, id)
}

var errExists = errors.New("exists")

func (r *YAMLRepository) Create(ctx context.Context, a *assignment.Assignment) error {
	unlock := r.taskLock.Lock(a.TaskID)
	defer unlock()

	if a.IsActive() {
		active, err := assignment.FindActive(ctx, r, a.TaskID)
		if err != nil {
			return err
		}
		if active != nil {
			return cerr.NewError(cerr.AlreadyExists, fmt.Sprintf("task %s already has active assignment %s", a.TaskID, active.ID), nil)
		}
	}

	stored := a.Clone()
	stored.Version = 1
	data, err := yaml.Marshal(stored)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal assignment: %w", err))
	}
	err = r.storage.Swap(ctx, path(a.ID), func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, errExists
		}
		return data, nil
	})
	switch {
	case errors.Is(err, errExists), errors.Is(err, storage.ErrConflict):
		return cerr.NewError(cerr.AlreadyExists, "assignment already exists", nil)
	case err != nil:
		return cerr.WrapStorageWriteError("assignment", err)
	}
	a.Version = 1
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*assignment.Assignment, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("assignment", err)
	}
	return decode(data)
}

func decode(data []byte) (*assignment.Assignment, error) {
	var a assignment.Assignment
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal assignment: %w", err))
	}
	return &a, nil
}

func (r *YAMLRepository) ListByTask(ctx context.Context, taskID string) ([]*assignment.Assignment, error) {
	paths, err := r.storage.List(ctx, assignmentsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("assignments", err)
	}
	// ids are ULIDs, so path order is creation order.
	sort.Strings(paths)

	var list []*assignment.Assignment
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, cerr.WrapStorageReadError("assignments", err)
		}
		a, err := decode(data)
		if err != nil {
			continue
		}
		if a.TaskID == taskID {
			list = append(list, a)
		}
	}
	return list, nil
}

func (r *YAMLRepository) Update(ctx context.Context, a *assignment.Assignment, expectedVersion int64) error {
	stored := a.Clone()
	stored.Version = expectedVersion + 1
	data, err := yaml.Marshal(stored)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal assignment: %w", err))
	}
	err = r.storage.Swap(ctx, path(a.ID), func(current []byte) ([]byte, error) {
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
		return task.StaleError("assignment", a.ID)
	case errors.Is(err, storage.ErrNotFound):
		return cerr.NewError(cerr.NotFound, "assignment not found", nil)
	case err != nil:
		var ce *cerr.Error
		if errors.As(err, &ce) {
			return err
		}
		return cerr.WrapStorageWriteError("assignment", err)
	}
	a.Version = stored.Version
	return nil
}
