package assignment

import "context"

type Repository interface {
	// Create stores a with Version 1. It fails with cerr.AlreadyExists when
	// a is active and the task already has an active assignment.
	Create(ctx context.Context, a *Assignment) error
	Get(ctx context.Context, id string) (*Assignment, error)
	// ListByTask returns the task's assignments oldest first.
	ListByTask(ctx context.Context, taskID string) ([]*Assignment, error)
	// Update replaces the stored assignment only if its version still equals
	// expectedVersion, failing with task.ErrStale otherwise.
	Update(ctx context.Context, a *Assignment, expectedVersion int64) error
}

// FindActive returns the task's active assignment or nil.
func FindActive(ctx context.Context, repo Repository, taskID string) (*Assignment, error) {
	list, err := repo.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if a.IsActive() {
			return a, nil
		}
	}
	return nil, nil
}

// AssigneeFinder resolves the task's current worker for permission checks.
type AssigneeFinder struct {
	repo Repository
}

func NewAssigneeFinder(repo Repository) *AssigneeFinder {
	return &AssigneeFinder{repo: repo}
}

func (f *AssigneeFinder) CurrentAssignee(ctx context.Context, taskID string) (string, error) {
	list, err := f.repo.ListByTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].IsOpen() {
			return list[i].AssignedTo, nil
		}
	}
	return "", nil
}
