package repositoryimpl

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskdesk/internal/notification"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/storage"
)

const (
	notificationsPrefix = "notifications"
	// Conditional writes lost to another replica are retried this many times
	// before the patch is re-evaluated by the caller.
	maxSwapAttempts = 3
)

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", notificationsPrefix, id)
}

var errExists = errors.New("exists")

func (r *YAMLRepository) Create(ctx context.Context, n *notification.Notification) error {
	data, err := yaml.Marshal(n)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal notification: %w", err))
	}
	err = r.storage.Swap(ctx, path(n.ID), func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, errExists
		}
		return data, nil
	})
	switch {
	case errors.Is(err, errExists), errors.Is(err, storage.ErrConflict):
		return cerr.NewError(cerr.AlreadyExists, "notification already exists", nil)
	case err != nil:
		return cerr.WrapStorageWriteError("notification", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*notification.Notification, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("notification", err)
	}
	return decode(data)
}

func decode(data []byte) (*notification.Notification, error) {
	var n notification.Notification
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal notification: %w", err))
	}
	return &n, nil
}

// List returns the recipient's notifications newest first.
func (r *YAMLRepository) List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*notification.Notification, int, error) {
	paths, err := r.storage.List(ctx, notificationsPrefix)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("notifications", err)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	var all []*notification.Notification
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, 0, cerr.WrapStorageReadError("notifications", err)
		}
		n, err := decode(data)
		if err != nil {
			continue
		}
		if recipientID != "" && n.RecipientID != recipientID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		all = append(all, n)
	}

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, id string, patch notification.PatchFunc) (*notification.Notification, error) {
	var (
		updated *notification.Notification
		err     error
	)
	for range maxSwapAttempts {
		err = r.storage.Swap(ctx, path(id), func(current []byte) ([]byte, error) {
			if current == nil {
				return nil, storage.ErrNotFound
			}
			n, err := decode(current)
			if err != nil {
				return nil, err
			}
			if err := patch(n); err != nil {
				return nil, err
			}
			data, err := yaml.Marshal(n)
			if err != nil {
				return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal notification: %w", err))
			}
			updated = n
			return data, nil
		})
		if !errors.Is(err, storage.ErrConflict) {
			break
		}
	}
	var ce *cerr.Error
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, cerr.NewError(cerr.NotFound, "notification not found", nil)
	case errors.As(err, &ce):
		return nil, err
	default:
		return nil, cerr.WrapStorageWriteError("notification", err)
	}
}
