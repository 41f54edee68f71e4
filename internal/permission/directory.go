package permission

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/kazz187/taskdesk/pkg/cerr"
)

// Directory resolves users and departments. Unknown ids fail with
// cerr.NotFound.
type Directory interface {
	User(ctx context.Context, id string) (*User, error)
	Department(ctx context.Context, id string) (*Department, error)
	// Admins lists the ids of admin users, sorted.
	Admins(ctx context.Context) ([]string, error)
}

type index struct {
	users       map[string]*User
	departments map[string]*Department
	admins      []string
}

// MemoryDirectory serves an immutable snapshot that can be swapped atomically.
type MemoryDirectory struct {
	current atomic.Pointer[index]
}

func NewMemoryDirectory(s *Snapshot) (*MemoryDirectory, error) {
	d := &MemoryDirectory{}
	if err := d.Replace(s); err != nil {
		return nil, err
	}
	return d, nil
}

// Replace validates s and makes it visible to subsequent lookups.
func (d *MemoryDirectory) Replace(s *Snapshot) error {
	idx := &index{
		users:       make(map[string]*User, len(s.Users)),
		departments: make(map[string]*Department, len(s.Departments)),
	}
	for i := range s.Departments {
		dep := s.Departments[i]
		if dep.ID == "" {
			return fmt.Errorf("department #%d has no id", i)
		}
		if _, dup := idx.departments[dep.ID]; dup {
			return fmt.Errorf("duplicate department %q", dep.ID)
		}
		idx.departments[dep.ID] = &dep
	}
	for i := range s.Users {
		u := s.Users[i]
		if u.ID == "" {
			return fmt.Errorf("user #%d has no id", i)
		}
		if _, dup := idx.users[u.ID]; dup {
			return fmt.Errorf("duplicate user %q", u.ID)
		}
		for _, depID := range u.Departments {
			if _, ok := idx.departments[depID]; !ok {
				return fmt.Errorf("user %q references unknown department %q", u.ID, depID)
			}
		}
		idx.users[u.ID] = &u
		if u.Admin {
			idx.admins = append(idx.admins, u.ID)
		}
	}
	slices.Sort(idx.admins)
	d.current.Store(idx)
	return nil
}

func (d *MemoryDirectory) User(_ context.Context, id string) (*User, error) {
	u, ok := d.current.Load().users[id]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("user %s not found", id), nil)
	}
	return u, nil
}

func (d *MemoryDirectory) Department(_ context.Context, id string) (*Department, error) {
	dep, ok := d.current.Load().departments[id]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("department %s not found", id), nil)
	}
	return dep, nil
}

func (d *MemoryDirectory) Admins(_ context.Context) ([]string, error) {
	return slices.Clone(d.current.Load().admins), nil
}
