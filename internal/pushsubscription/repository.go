package pushsubscription

import "context"

type Repository interface {
	// Save stores s, replacing any subscription with the same endpoint.
	Save(ctx context.Context, s *Subscription) error
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	Delete(ctx context.Context, id string) error
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}
