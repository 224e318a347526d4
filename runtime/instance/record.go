package instance

import "time"

// Trigger identifies what caused a transition.
type Trigger string

const (
	TriggerAuto              Trigger = "auto"
	TriggerManualApprove     Trigger = "manual-approve"
	TriggerManualReject      Trigger = "manual-reject"
	TriggerCondition         Trigger = "condition"
	TriggerTimeoutEscalation Trigger = "timeout-escalation"
)

// ApprovalRecord is the single decision taken at an Approval node.
type ApprovalRecord struct {
	InstanceID string    `json:"instanceId"`
	NodeID     string    `json:"nodeId"`
	ApproverID string    `json:"approverId"`
	Decision   Decision  `json:"decision"`
	Comments   string    `json:"comments,omitempty"`
	DecidedAt  time.Time `json:"decidedAt"`
}

// TransitionEvent is the immutable record of exactly one state transition.
type TransitionEvent struct {
	InstanceID string                 `json:"instanceId"`
	FromNode   string                 `json:"fromNode"`
	ToNode     string                 `json:"toNode"`
	Trigger    Trigger                `json:"trigger"`
	Actor      string                 `json:"actor,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// StatusDetail is the Details key under which each transition records the
// instance status it produced; Replay relies on it.
const StatusDetail = "status"

// Replay folds an ordered list of transition events into the node and
// status they deterministically produce. It is the reconstruction
// counterpart of the engine's one-event-per-transition guarantee.
func Replay(events []*TransitionEvent) (currentNode string, status Status) {
	status = StatusPending
	for _, event := range events {
		currentNode = event.ToNode
		if event.Details == nil {
			continue
		}
		if recorded, ok := event.Details[StatusDetail].(string); ok {
			status = Status(recorded)
		}
	}
	return currentNode, status
}
