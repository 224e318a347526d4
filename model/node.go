package model

import "time"

// Kind identifies the behaviour of a workflow node. The set is closed: the
// engine dispatches on it exhaustively and refuses definitions that carry
// anything else.
type Kind string

const (
	KindStart        Kind = "start"
	KindEnd          Kind = "end"
	KindApproval     Kind = "approval"
	KindAssignment   Kind = "assignment"
	KindNotification Kind = "notification"
	KindCondition    Kind = "condition"
)

// Known reports whether k is one of the supported node kinds.
func (k Kind) Known() bool {
	switch k {
	case KindStart, KindEnd, KindApproval, KindAssignment, KindNotification, KindCondition:
		return true
	}
	return false
}

// Outcome is the terminal result an End node assigns to an instance.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Node is a single step in a workflow definition. Exactly one of the
// kind-specific configuration fields is set, matching Kind.
type Node struct {
	ID   string `json:"id" yaml:"id"`
	Kind Kind   `json:"kind" yaml:"kind"`

	Approval     *ApprovalConfig     `json:"approval,omitempty" yaml:"approval,omitempty"`
	Assignment   *AssignmentConfig   `json:"assignment,omitempty" yaml:"assignment,omitempty"`
	Notification *NotificationConfig `json:"notification,omitempty" yaml:"notification,omitempty"`
	End          *EndConfig          `json:"end,omitempty" yaml:"end,omitempty"`
}

// ApprovalConfig configures an Approval node. Either Approver or Role must
// resolve to an actor at runtime; an instance reaching a node where neither
// does is parked with ErrUnassignedApprover.
type ApprovalConfig struct {
	// Approver is the id of the single designated approver.
	Approver string `json:"approver,omitempty" yaml:"approver,omitempty"`

	// Role names an approver role; any actor holding the role may decide.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`

	// Timeout is how long the node may wait for a decision before the
	// escalation scheduler forces a transition. Zero disables escalation.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// EscalateTo is the node id the instance transitions to on timeout.
	// When empty the instance stays at the node and is marked Escalated.
	EscalateTo string `json:"escalateTo,omitempty" yaml:"escalateTo,omitempty"`

	// MarkEscalated forces the instance status to Escalated after a timeout
	// transition even when EscalateTo is set.
	MarkEscalated bool `json:"markEscalated,omitempty" yaml:"markEscalated,omitempty"`

	// ResubmitTo, when set, is followed on rejection instead of routing to
	// the rejected terminal. The edge it implies is treated as a retry loop.
	ResubmitTo string `json:"resubmitTo,omitempty" yaml:"resubmitTo,omitempty"`
}

// AssignmentConfig configures an Assignment node.
type AssignmentConfig struct {
	Assignee string `json:"assignee" yaml:"assignee"`
}

// NotificationConfig configures a Notification node.
type NotificationConfig struct {
	Channel   string `json:"channel,omitempty" yaml:"channel,omitempty"`
	Recipient string `json:"recipient" yaml:"recipient"`
	Template  string `json:"template" yaml:"template"`
}

// EndConfig configures an End node.
type EndConfig struct {
	Outcome Outcome `json:"outcome" yaml:"outcome"`
}
