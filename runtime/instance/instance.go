// Package instance holds the runtime state of a single workflow execution:
// the instance itself, its approval records and the transition events that
// form its audit trail.
package instance

import (
	"time"

	"github.com/docflow/flow/internal/clock"
)

// Status of a workflow instance. Approved and Rejected are terminal; no
// transition ever leaves them.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusEscalated  Status = "escalated"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision recorded against an Approval node.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Instance is one running execution of a definition bound to a document.
// It is mutated only through engine-mediated transitions and becomes
// immutable once its status is terminal. Version supports optimistic
// concurrency: every successful save increments it.
type Instance struct {
	ID           string                 `json:"id"`
	DefinitionID string                 `json:"definitionId"`
	Context      map[string]interface{} `json:"context,omitempty"`
	CurrentNode  string                 `json:"currentNode"`
	Status       Status                 `json:"status"`
	InitiatedBy  string                 `json:"initiatedBy"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`

	// EnteredCurrentAt is when the instance arrived at CurrentNode; the
	// escalation scheduler measures approval timeouts from it.
	EnteredCurrentAt time.Time `json:"enteredCurrentAt"`

	Version   int               `json:"version"`
	Approvals []*ApprovalRecord `json:"approvals,omitempty"`

	// Assignments accumulates assignee ids recorded by Assignment nodes.
	Assignments []string `json:"assignments,omitempty"`
}

// New creates an instance parked at the given start node in Pending status.
func New(id, definitionID, startNode, initiatedBy string, documentContext map[string]interface{}) *Instance {
	now := clock.Now()
	snapshot := make(map[string]interface{}, len(documentContext))
	for k, v := range documentContext {
		snapshot[k] = v
	}
	return &Instance{
		ID:               id,
		DefinitionID:     definitionID,
		Context:          snapshot,
		CurrentNode:      startNode,
		Status:           StatusPending,
		InitiatedBy:      initiatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
		EnteredCurrentAt: now,
	}
}

// MoveTo advances the instance to the given node.
func (i *Instance) MoveTo(nodeID string) {
	now := clock.Now()
	i.CurrentNode = nodeID
	i.EnteredCurrentAt = now
	i.UpdatedAt = now
}

// SetStatus updates the instance status.
func (i *Instance) SetStatus(status Status) {
	i.Status = status
	i.UpdatedAt = clock.Now()
}

// DecisionFor returns the latest approval record for the given node, or nil
// when no decision has been taken there.
func (i *Instance) DecisionFor(nodeID string) *ApprovalRecord {
	for idx := len(i.Approvals) - 1; idx >= 0; idx-- {
		if i.Approvals[idx].NodeID == nodeID {
			return i.Approvals[idx]
		}
	}
	return nil
}

// CurrentDecision returns the decision taken at nodeID since the instance
// last arrived there. A decision recorded on an earlier visit (resubmission
// loop) does not count against the current one.
func (i *Instance) CurrentDecision(nodeID string) *ApprovalRecord {
	record := i.DecisionFor(nodeID)
	if record == nil || record.DecidedAt.Before(i.EnteredCurrentAt) {
		return nil
	}
	return record
}

// Clone creates a deep copy safe for mutation outside the store.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	if i.Context != nil {
		out.Context = make(map[string]interface{}, len(i.Context))
		for k, v := range i.Context {
			out.Context[k] = v
		}
	}
	if len(i.Approvals) > 0 {
		out.Approvals = make([]*ApprovalRecord, len(i.Approvals))
		for idx, record := range i.Approvals {
			cp := *record
			out.Approvals[idx] = &cp
		}
	}
	if len(i.Assignments) > 0 {
		out.Assignments = append([]string(nil), i.Assignments...)
	}
	return &out
}

// CopyFrom updates mutable fields from src. The context snapshot and
// identity fields are immutable after creation and are left untouched.
func (i *Instance) CopyFrom(src *Instance) {
	if src == nil || i == src {
		return
	}
	i.CurrentNode = src.CurrentNode
	i.Status = src.Status
	i.UpdatedAt = src.UpdatedAt
	i.EnteredCurrentAt = src.EnteredCurrentAt
	i.Version = src.Version
	i.Approvals = src.Approvals
	i.Assignments = src.Assignments
}
