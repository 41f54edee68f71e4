package task

import (
	"context"
	"errors"
	"time"
)

type Filter struct {
	ProjectID      string
	CreatedBy      string
	WorkStatus     WorkStatus
	ApprovalStatus ApprovalStatus
	PooledOnly     bool
	Limit          int
	Offset         int
}

func (f Filter) Match(t *Task) bool {
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.CreatedBy != "" && t.CreatedBy != f.CreatedBy {
		return false
	}
	if f.WorkStatus != "" && t.WorkStatus != f.WorkStatus {
		return false
	}
	if f.ApprovalStatus != "" && t.ApprovalStatus != f.ApprovalStatus {
		return false
	}
	if f.PooledOnly && !t.IsPooled {
		return false
	}
	return true
}

type Repository interface {
	// Create stores t with Version 1.
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, f Filter) ([]*Task, int, error)
	// Update replaces the stored task only if its version still equals
	// expectedVersion, failing with ErrStale otherwise. On success t.Version
	// is advanced.
	Update(ctx context.Context, t *Task, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
}

const maxMutateAttempts = 3

// Mutate re-reads the task and applies fn until the conditional write
// succeeds. fn must re-check its preconditions on every call; a racing actor
// is refused by those checks, not by the version.
func Mutate(ctx context.Context, repo Repository, id string, fn func(t *Task) error) (*Task, error) {
	var lastErr error
	for range maxMutateAttempts {
		t, err := repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(t); err != nil {
			return nil, err
		}
		t.UpdatedAt = time.Now()
		err = repo.Update(ctx, t, t.Version)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrStale) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
