package permission

import (
	"context"
	"slices"

	"github.com/kazz187/taskdesk/internal/task"
	"github.com/kazz187/taskdesk/pkg/cerr"
)

// AssigneeFinder returns the worker currently bound to a task, or "" when the
// task has no open assignment.
type AssigneeFinder interface {
	CurrentAssignee(ctx context.Context, taskID string) (string, error)
}

type Gate struct {
	directory Directory
	taskRepo  task.Repository
	assignees AssigneeFinder
}

func NewGate(directory Directory, taskRepo task.Repository, assignees AssigneeFinder) *Gate {
	return &Gate{
		directory: directory,
		taskRepo:  taskRepo,
		assignees: assignees,
	}
}

func (g *Gate) ResolveApproverStanding(ctx context.Context, taskID, userID string) (Standing, error) {
	t, err := g.taskRepo.Get(ctx, taskID)
	if err != nil {
		return Standing{}, err
	}
	return g.StandingOn(ctx, t, userID)
}

// StandingOn resolves userID's standing on an already loaded task. Team lead
// standing comes from managing a department of the creator or of the current
// assignee.
func (g *Gate) StandingOn(ctx context.Context, t *task.Task, userID string) (Standing, error) {
	var s Standing
	if userID == "" {
		return s, nil
	}
	s.IsCreator = t.CreatedBy == userID

	u, err := g.user(ctx, userID)
	if err != nil {
		return Standing{}, err
	}
	s.IsAdmin = u.Admin

	assignee, err := g.assignees.CurrentAssignee(ctx, t.ID)
	if err != nil {
		return Standing{}, err
	}
	for _, member := range []string{t.CreatedBy, assignee} {
		if member == "" || member == userID {
			continue
		}
		managers, err := g.Managers(ctx, member)
		if err != nil {
			return Standing{}, err
		}
		if slices.Contains(managers, userID) {
			s.IsTeamLead = true
			break
		}
	}
	return s, nil
}

// RequireApprover fails with NotAuthorized unless userID holds approver
// standing on t.
func (g *Gate) RequireApprover(ctx context.Context, t *task.Task, userID, action string) (Standing, error) {
	s, err := g.StandingOn(ctx, t, userID)
	if err != nil {
		return Standing{}, err
	}
	if !s.IsApprover() {
		return Standing{}, task.NotAuthorized("%s requires approver standing on task %s", action, t.ID)
	}
	return s, nil
}

// Managers returns the managers of every department userID belongs to,
// sorted and without userID itself.
func (g *Gate) Managers(ctx context.Context, userID string) ([]string, error) {
	u, err := g.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	var managers []string
	for _, depID := range u.Departments {
		dep, err := g.directory.Department(ctx, depID)
		if err != nil {
			if cerr.IsCode(err, cerr.NotFound) {
				continue
			}
			return nil, err
		}
		for _, m := range dep.Managers {
			if m != userID && !slices.Contains(managers, m) {
				managers = append(managers, m)
			}
		}
	}
	slices.Sort(managers)
	return managers, nil
}

// Approvers lists who is asked to sign off completed work: the creator, or
// when the creator delegated, the managing team leads of the creator and the
// worker. Falls back to the creator when no team lead exists.
func (g *Gate) Approvers(ctx context.Context, t *task.Task, workerID string) ([]string, error) {
	if !t.DelegateApproval {
		return []string{t.CreatedBy}, nil
	}
	var leads []string
	for _, member := range []string{t.CreatedBy, workerID} {
		if member == "" {
			continue
		}
		managers, err := g.Managers(ctx, member)
		if err != nil {
			return nil, err
		}
		leads = append(leads, managers...)
	}
	slices.Sort(leads)
	leads = slices.Compact(leads)
	if len(leads) == 0 {
		return []string{t.CreatedBy}, nil
	}
	return leads, nil
}

// RejectionReviewers lists who decides on a worker's refusal of an
// assignment. The creator decides unless the creator is the worker or
// delegated approval, in which case the worker's managers decide, then the
// admins. The worker is never among the reviewers.
func (g *Gate) RejectionReviewers(ctx context.Context, t *task.Task, workerID string) ([]string, error) {
	if t.CreatedBy != workerID && !t.DelegateApproval {
		return []string{t.CreatedBy}, nil
	}
	managers, err := g.Managers(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if len(managers) > 0 {
		return managers, nil
	}
	admins, err := g.directory.Admins(ctx)
	if err != nil {
		return nil, err
	}
	admins = slices.DeleteFunc(admins, func(id string) bool { return id == workerID })
	if len(admins) > 0 {
		return admins, nil
	}
	if t.CreatedBy != workerID {
		return []string{t.CreatedBy}, nil
	}
	return nil, task.InvalidTransition("nobody besides %s can review a rejection of task %s", workerID, t.ID)
}

// user treats ids missing from the directory as plain users without
// departments.
func (g *Gate) user(ctx context.Context, id string) (*User, error) {
	u, err := g.directory.User(ctx, id)
	if err != nil {
		if cerr.IsCode(err, cerr.NotFound) {
			return &User{ID: id}, nil
		}
		return nil, err
	}
	return u, nil
}
