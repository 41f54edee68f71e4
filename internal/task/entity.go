package task

import (
	"fmt"
	"slices"
	"time"
)

type WorkStatus string

const (
	WorkStatusPending    WorkStatus = "pending"
	WorkStatusInProgress WorkStatus = "in_progress"
	WorkStatusCompleted  WorkStatus = "completed"
)

type ApprovalStatus string

const (
	ApprovalStatusNone     ApprovalStatus = "none"
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

const (
	MinPriority = 0
	MaxPriority = 5
)

// ApprovalCycle is a closed approval round kept for audit once a new request
// starts.
type ApprovalCycle struct {
	RequestedBy string         `yaml:"requested_by" json:"requested_by"`
	RequestedAt *time.Time     `yaml:"requested_at,omitempty" json:"requested_at,omitempty"`
	Outcome     ApprovalStatus `yaml:"outcome" json:"outcome"`
	DecidedBy   string         `yaml:"decided_by,omitempty" json:"decided_by,omitempty"`
	DecidedAt   *time.Time     `yaml:"decided_at,omitempty" json:"decided_at,omitempty"`
	Reason      string         `yaml:"reason,omitempty" json:"reason,omitempty"`
}

type Task struct {
	ID          string     `yaml:"id" json:"id"`
	Title       string     `yaml:"title" json:"title"`
	Description string     `yaml:"description" json:"description"`
	ProjectID   string     `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	CreatedBy   string     `yaml:"created_by" json:"created_by"`
	DueDate     *time.Time `yaml:"due_date,omitempty" json:"due_date,omitempty"`
	Priority    int        `yaml:"priority" json:"priority"`

	WorkStatus     WorkStatus     `yaml:"work_status" json:"work_status"`
	ApprovalStatus ApprovalStatus `yaml:"approval_status" json:"approval_status"`

	IsPooled   bool     `yaml:"is_pooled" json:"is_pooled"`
	PoolClaims []string `yaml:"pool_claims,omitempty" json:"pool_claims,omitempty"`
	// Candidates limits who may claim while pooled. Empty means anyone.
	Candidates []string `yaml:"candidates,omitempty" json:"candidates,omitempty"`
	// DelegateApproval routes approval requests to the managing team leads
	// instead of the creator.
	DelegateApproval bool `yaml:"delegate_approval" json:"delegate_approval"`

	ApprovalRequestedBy string          `yaml:"approval_requested_by,omitempty" json:"approval_requested_by,omitempty"`
	ApprovalRequestedAt *time.Time      `yaml:"approval_requested_at,omitempty" json:"approval_requested_at,omitempty"`
	ApprovedBy          string          `yaml:"approved_by,omitempty" json:"approved_by,omitempty"`
	ApprovedAt          *time.Time      `yaml:"approved_at,omitempty" json:"approved_at,omitempty"`
	RejectedBy          string          `yaml:"rejected_by,omitempty" json:"rejected_by,omitempty"`
	RejectedAt          *time.Time      `yaml:"rejected_at,omitempty" json:"rejected_at,omitempty"`
	RejectionReason     string          `yaml:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
	ApprovalHistory     []ApprovalCycle `yaml:"approval_history,omitempty" json:"approval_history,omitempty"`

	Version   int64     `yaml:"version" json:"version"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// Validate checks the record-level invariants. Invariants spanning
// assignments are enforced by the engines.
func (t *Task) Validate() error {
	if t.Title == "" {
		return ValidationError("title", "title.required", "title is required")
	}
	if t.CreatedBy == "" {
		return ValidationError("created_by", "created_by.required", "created_by is required")
	}
	if t.Priority < MinPriority || t.Priority > MaxPriority {
		return ValidationError("priority", "priority.range",
			fmt.Sprintf("priority must be between %d and %d", MinPriority, MaxPriority))
	}
	switch t.WorkStatus {
	case WorkStatusPending, WorkStatusInProgress, WorkStatusCompleted:
	default:
		return ValidationError("work_status", "work_status.enum", fmt.Sprintf("unknown work status %q", t.WorkStatus))
	}
	switch t.ApprovalStatus {
	case ApprovalStatusNone, ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
	default:
		return ValidationError("approval_status", "approval_status.enum", fmt.Sprintf("unknown approval status %q", t.ApprovalStatus))
	}
	if t.ApprovalStatus == ApprovalStatusPending && t.WorkStatus != WorkStatusCompleted {
		return ValidationError("approval_status", "approval_status.requires_completed", "approval can only be pending on completed work")
	}
	if !t.IsPooled && len(t.PoolClaims) > 0 {
		return ValidationError("pool_claims", "pool_claims.requires_pooled", "claims are only kept while the task is pooled")
	}
	return nil
}

func (t *Task) HasClaim(userID string) bool {
	_, found := slices.BinarySearch(t.PoolClaims, userID)
	return found
}

// AddClaim inserts userID into the sorted claim set and reports whether it
// was added.
func (t *Task) AddClaim(userID string) bool {
	i, found := slices.BinarySearch(t.PoolClaims, userID)
	if found {
		return false
	}
	t.PoolClaims = slices.Insert(t.PoolClaims, i, userID)
	return true
}

func (t *Task) RemoveClaim(userID string) bool {
	i, found := slices.BinarySearch(t.PoolClaims, userID)
	if !found {
		return false
	}
	t.PoolClaims = slices.Delete(t.PoolClaims, i, i+1)
	if len(t.PoolClaims) == 0 {
		t.PoolClaims = nil
	}
	return true
}

func (t *Task) IsCandidate(userID string) bool {
	return len(t.Candidates) == 0 || slices.Contains(t.Candidates, userID)
}

// ReturnToPool opens the task for claims again.
func (t *Task) ReturnToPool() {
	t.IsPooled = true
	t.PoolClaims = nil
}

// LeavePool closes the task for claims; any outstanding claims become moot.
func (t *Task) LeavePool() {
	t.IsPooled = false
	t.PoolClaims = nil
}

// ArchiveApprovalCycle moves the latest decided cycle into ApprovalHistory
// and clears the current cycle fields.
func (t *Task) ArchiveApprovalCycle() {
	if t.ApprovalStatus == ApprovalStatusNone || t.ApprovalStatus == ApprovalStatusPending {
		return
	}
	c := ApprovalCycle{
		RequestedBy: t.ApprovalRequestedBy,
		RequestedAt: t.ApprovalRequestedAt,
		Outcome:     t.ApprovalStatus,
	}
	switch t.ApprovalStatus {
	case ApprovalStatusApproved:
		c.DecidedBy, c.DecidedAt = t.ApprovedBy, t.ApprovedAt
	case ApprovalStatusRejected:
		c.DecidedBy, c.DecidedAt, c.Reason = t.RejectedBy, t.RejectedAt, t.RejectionReason
	}
	t.ApprovalHistory = append(t.ApprovalHistory, c)
	t.ApprovalRequestedBy, t.ApprovalRequestedAt = "", nil
	t.ApprovedBy, t.ApprovedAt = "", nil
	t.RejectedBy, t.RejectedAt, t.RejectionReason = "", nil, ""
}

func (t *Task) Clone() *Task {
	c := *t
	c.PoolClaims = slices.Clone(t.PoolClaims)
	c.Candidates = slices.Clone(t.Candidates)
	c.ApprovalHistory = slices.Clone(t.ApprovalHistory)
	return &c
}
