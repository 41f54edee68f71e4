package assignment

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	// StatusRejectionPendingApproval is written by older clients; it is
	// handled exactly like StatusRejected.
	StatusRejectionPendingApproval Status = "rejection_pending_approval"
	StatusCompleted                Status = "completed"
)

type Assignment struct {
	ID              string `yaml:"id" json:"id"`
	TaskID          string `yaml:"task_id" json:"task_id"`
	AssignedTo      string `yaml:"assigned_to" json:"assigned_to"`
	Status          Status `yaml:"status" json:"status"`
	RejectionReason string `yaml:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
	// BounceReason is the reviewer's reason for refusing a rejection.
	BounceReason string     `yaml:"bounce_reason,omitempty" json:"bounce_reason,omitempty"`
	AssignedAt   time.Time  `yaml:"assigned_at" json:"assigned_at"`
	CompletedAt  *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	// ClosedAt is set when an approved rejection ends the assignment.
	ClosedAt  *time.Time `yaml:"closed_at,omitempty" json:"closed_at,omitempty"`
	ClosedBy  string     `yaml:"closed_by,omitempty" json:"closed_by,omitempty"`
	Version   int64      `yaml:"version" json:"version"`
	UpdatedAt time.Time  `yaml:"updated_at" json:"updated_at"`
}

// IsActive reports whether the assignment still binds its task. At most one
// assignment per task is active.
func (a *Assignment) IsActive() bool {
	return a.Status != StatusCompleted && a.ClosedAt == nil
}

// IsOpen reports whether the assignment still names the task's worker;
// completed assignments stay open until the task is reassigned.
func (a *Assignment) IsOpen() bool {
	return a.ClosedAt == nil
}

func (a *Assignment) AwaitsRejectionReview() bool {
	return a.ClosedAt == nil && (a.Status == StatusRejected || a.Status == StatusRejectionPendingApproval)
}

func (a *Assignment) Clone() *Assignment {
	c := *a
	return &c
}
