package instance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/flow/internal/clock"
)

func TestNew(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return frozen }
	defer func() { clock.NowFunc = time.Now }()

	source := map[string]interface{}{"amount": 1200.0}
	inst := New("i-1", "expense", "start", "alice", source)

	assert.Equal(t, StatusPending, inst.Status)
	assert.Equal(t, "start", inst.CurrentNode)
	assert.Equal(t, frozen, inst.EnteredCurrentAt)
	assert.Zero(t, inst.Version)

	// The context is a snapshot; later caller mutation must not leak in.
	source["amount"] = 99.0
	assert.Equal(t, 1200.0, inst.Context["amount"])
}

func TestClone(t *testing.T) {
	inst := New("i-1", "expense", "start", "alice", map[string]interface{}{"amount": 10.0})
	inst.Approvals = append(inst.Approvals, &ApprovalRecord{InstanceID: "i-1", NodeID: "a", ApproverID: "bob", Decision: DecisionApprove})
	inst.Assignments = append(inst.Assignments, "clerk-1")

	clone := inst.Clone()
	clone.Context["amount"] = 20.0
	clone.Approvals[0].ApproverID = "eve"
	clone.Assignments[0] = "clerk-2"
	clone.MoveTo("next")

	assert.Equal(t, 10.0, inst.Context["amount"])
	assert.Equal(t, "bob", inst.Approvals[0].ApproverID)
	assert.Equal(t, "clerk-1", inst.Assignments[0])
	assert.Equal(t, "start", inst.CurrentNode)
}

func TestCopyFrom(t *testing.T) {
	inst := New("i-1", "expense", "start", "alice", map[string]interface{}{"amount": 10.0})
	updated := inst.Clone()
	updated.MoveTo("manager_approval")
	updated.SetStatus(StatusInProgress)
	updated.Version = 3

	inst.CopyFrom(updated)
	assert.Equal(t, "manager_approval", inst.CurrentNode)
	assert.Equal(t, StatusInProgress, inst.Status)
	assert.Equal(t, 3, inst.Version)
	assert.Equal(t, "i-1", inst.ID)
	assert.Equal(t, "alice", inst.InitiatedBy)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, StatusEscalated.Terminal())
}

func TestReplay(t *testing.T) {
	events := []*TransitionEvent{
		{InstanceID: "i-1", FromNode: "start", ToNode: "assign", Trigger: TriggerAuto, Details: map[string]interface{}{StatusDetail: "pending"}},
		{InstanceID: "i-1", FromNode: "assign", ToNode: "route", Trigger: TriggerAuto, Details: map[string]interface{}{StatusDetail: "pending"}},
		{InstanceID: "i-1", FromNode: "route", ToNode: "manager_approval", Trigger: TriggerCondition, Details: map[string]interface{}{StatusDetail: "in_progress"}},
		{InstanceID: "i-1", FromNode: "manager_approval", ToNode: "approved", Trigger: TriggerManualApprove, Actor: "bob", Details: map[string]interface{}{StatusDetail: "approved"}},
	}

	node, status := Replay(events)
	assert.Equal(t, "approved", node)
	assert.Equal(t, StatusApproved, status)

	node, status = Replay(events[:3])
	assert.Equal(t, "manager_approval", node)
	assert.Equal(t, StatusInProgress, status)

	node, status = Replay(nil)
	require.Empty(t, node)
	assert.Equal(t, StatusPending, status)
}
