package notification

import (
	"maps"
	"time"
)

type Type string

const (
	TypeTaskAssigned        Type = "task_assigned"
	TypeTaskUpdated         Type = "task_updated"
	TypeTaskRejection       Type = "task_rejection"
	TypeTaskApproval        Type = "task_approval"
	TypeTaskPoolRequest     Type = "task_pool_request"
	TypeTaskPoolOpen        Type = "task_pool_open"
	TypeTaskClaimApproved   Type = "task_claim_approved"
	TypeTaskClaimRejected   Type = "task_claim_rejected"
	TypeTaskClaimSuperseded Type = "task_claim_superseded"
	TypeTaskApproved        Type = "task_approved"
	TypeTaskApprovalReject  Type = "task_approval_rejected"
	TypeTaskRejectionReject Type = "task_rejection_rejected"
)

// Action is the consumed-action marker. The zero value means the
// notification has not driven a transition yet.
type Action string

const (
	ActionNone              Action = ""
	ActionAccepted          Action = "accepted"
	ActionRejected          Action = "rejected"
	ActionApproved          Action = "approved"
	ActionRejectionApproved Action = "rejection_approved"
	ActionRejectionRejected Action = "rejection_rejected"
	ActionClaimApproved     Action = "claim_approved"
	ActionClaimRejected     Action = "claim_rejected"
	ActionApprovalRejected  Action = "approval_rejected"
	ActionClaimRequested    Action = "claim_requested"
)

// Metadata keys.
const (
	MetaAssignmentID = "assignment_id"
	MetaClaimantID   = "claimant_id"
	MetaPoolClaims   = "pool_claims"
	MetaStatus       = "status"
	MetaReason       = "reason"
	MetaActor        = "actor"
)

type Notification struct {
	ID          string            `yaml:"id" json:"id"`
	RecipientID string            `yaml:"recipient_id" json:"recipient_id"`
	Type        Type              `yaml:"type" json:"type"`
	RelatedID   string            `yaml:"related_id" json:"related_id"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Action      Action            `yaml:"action,omitempty" json:"action,omitempty"`
	ActedBy     string            `yaml:"acted_by,omitempty" json:"acted_by,omitempty"`
	ActedAt     *time.Time        `yaml:"acted_at,omitempty" json:"acted_at,omitempty"`
	Read        bool              `yaml:"read" json:"read"`
	CreatedAt   time.Time         `yaml:"created_at" json:"created_at"`
}

func (n *Notification) IsConsumed() bool {
	return n.Action != ActionNone
}

func (n *Notification) Clone() *Notification {
	c := *n
	c.Metadata = maps.Clone(n.Metadata)
	return &c
}
