package repositoryimpl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskdesk/internal/pushsubscription"
	"github.com/kazz187/taskdesk/pkg/cerr"
	"github.com/kazz187/taskdesk/pkg/storage"
)

const pushSubscriptionsPrefix = "push_subscriptions"

// YAMLRepository keys subscriptions by a hash of their endpoint, so saving an
// endpoint again overwrites the earlier registration.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return fmt.Sprintf("%s/%s.yaml", pushSubscriptionsPrefix, hex.EncodeToString(sum[:16]))
}

func (r *YAMLRepository) Save(ctx context.Context, s *pushsubscription.Subscription) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal push subscription: %w", err))
	}
	if err := r.storage.Write(ctx, path(s.Endpoint), data); err != nil {
		return cerr.WrapStorageWriteError("push_subscription", err)
	}
	return nil
}

func (r *YAMLRepository) list(ctx context.Context) (map[string]*pushsubscription.Subscription, []string, error) {
	paths, err := r.storage.List(ctx, pushSubscriptionsPrefix)
	if err != nil {
		return nil, nil, cerr.WrapStorageReadError("push_subscriptions", err)
	}
	sort.Strings(paths)

	byPath := make(map[string]*pushsubscription.Subscription, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, nil, cerr.WrapStorageReadError("push_subscriptions", err)
		}
		var s pushsubscription.Subscription
		if err := yaml.Unmarshal(data, &s); err != nil {
			continue
		}
		byPath[p] = &s
	}
	return byPath, paths, nil
}

func (r *YAMLRepository) ListByUser(ctx context.Context, userID string) ([]*pushsubscription.Subscription, error) {
	byPath, paths, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	var subs []*pushsubscription.Subscription
	for _, p := range paths {
		if s, ok := byPath[p]; ok && s.UserID == userID {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	byPath, _, err := r.list(ctx)
	if err != nil {
		return err
	}
	for p, s := range byPath {
		if s.ID == id {
			if err := r.storage.Delete(ctx, p); err != nil {
				return cerr.WrapStorageDeleteError("push_subscription", err)
			}
			return nil
		}
	}
	return cerr.NewError(cerr.NotFound, "push subscription not found", nil)
}

func (r *YAMLRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	if err := r.storage.Delete(ctx, path(endpoint)); err != nil {
		return cerr.WrapStorageDeleteError("push_subscription", err)
	}
	return nil
}
