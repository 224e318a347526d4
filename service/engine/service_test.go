package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/flow/internal/clock"
	"github.com/docflow/flow/model"
	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/audit"
	imemory "github.com/docflow/flow/service/dao/instance/memory"
	"github.com/docflow/flow/service/dao/definition"
	"github.com/docflow/flow/service/notify"
)

// expenseDefinition routes low amounts to a manager and anything above
// 50000 to a senior approver, exercising every node kind on the way.
func expenseDefinition(customise ...func(*model.Definition)) *model.Definition {
	def := &model.Definition{
		ID: "expense",
		Nodes: []*model.Node{
			{ID: "start", Kind: model.KindStart},
			{ID: "assign", Kind: model.KindAssignment, Assignment: &model.AssignmentConfig{Assignee: "clerk-1"}},
			{ID: "route", Kind: model.KindCondition},
			{ID: "manager_approval", Kind: model.KindApproval, Approval: &model.ApprovalConfig{Approver: "manager-1", Timeout: 24 * time.Hour, EscalateTo: "senior_approval"}},
			{ID: "senior_approval", Kind: model.KindApproval, Approval: &model.ApprovalConfig{Role: "senior-manager"}},
			{ID: "notify", Kind: model.KindNotification, Notification: &model.NotificationConfig{Channel: "email", Recipient: "initiator", Template: "outcome"}},
			{ID: "approved", Kind: model.KindEnd, End: &model.EndConfig{Outcome: model.OutcomeApproved}},
			{ID: "rejected", Kind: model.KindEnd, End: &model.EndConfig{Outcome: model.OutcomeRejected}},
		},
		Edges: []*model.Edge{
			{From: "start", To: "assign"},
			{From: "assign", To: "route"},
			{From: "route", To: "senior_approval", Guard: "amount > 50000", Priority: 1},
			{From: "route", To: "manager_approval", Default: true, Priority: 2},
			{From: "manager_approval", To: "notify"},
			{From: "senior_approval", To: "notify"},
			{From: "notify", To: "approved"},
		},
	}
	for _, custom := range customise {
		custom(def)
	}
	return def
}

type testHarness struct {
	engine    *Service
	recorder  *audit.MemoryRecorder
	notifier  *notify.MemoryNotifier
	instances *imemory.Service
}

func newTestHarness(t *testing.T, defs ...*model.Definition) *testHarness {
	t.Helper()
	registry := definition.New()
	if len(defs) == 0 {
		defs = []*model.Definition{expenseDefinition()}
	}
	for _, def := range defs {
		require.NoError(t, registry.Register(def))
	}
	h := &testHarness{
		recorder:  audit.NewMemoryRecorder(),
		notifier:  notify.NewMemoryNotifier(),
		instances: imemory.New(),
	}
	eng, err := New(
		WithDefinitions(registry),
		WithInstances(h.instances),
		WithRecorder(h.recorder),
		WithNotifier(h.notifier),
		WithRoleResolver(func(role, actorID string) bool {
			return role == "senior-manager" && actorID == "sylvia"
		}),
	)
	require.NoError(t, err)
	h.engine = eng
	return h
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(WithInstances(imemory.New()), WithRecorder(audit.NewMemoryRecorder()))
	assert.Error(t, err)
	_, err = New(WithDefinitions(definition.New()), WithRecorder(audit.NewMemoryRecorder()))
	assert.Error(t, err)
}

func TestStartWorkflow(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 1200.0}, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	inst, err := h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "manager_approval", inst.CurrentNode)
	assert.Equal(t, instance.StatusInProgress, inst.Status)
	assert.Equal(t, "alice", inst.InitiatedBy)
	assert.Equal(t, []string{"clerk-1"}, inst.Assignments)
	assert.Greater(t, inst.Version, 0)

	trail := h.recorder.Events(id)
	require.Len(t, trail, 3)
	assert.Equal(t, "start", trail[0].FromNode)
	assert.Equal(t, "assign", trail[0].ToNode)
	assert.Equal(t, instance.TriggerAuto, trail[0].Trigger)
	assert.Equal(t, "route", trail[1].ToNode)
	assert.Equal(t, "manager_approval", trail[2].ToNode)
	assert.Equal(t, instance.TriggerCondition, trail[2].Trigger)
}

func TestStartWorkflowUnknownDefinition(t *testing.T) {
	h := newTestHarness(t)
	_, err := h.engine.StartWorkflow(context.Background(), "missing", nil, "alice")
	assert.ErrorIs(t, err, ErrDefinitionInvalid)
}

func TestConditionRouting(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 60000.0}, "alice")
	require.NoError(t, err)

	inst, err := h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "senior_approval", inst.CurrentNode)
}

func TestConditionMissingFieldFailsClosed(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	// No amount in context: the guarded edge fails closed, the default wins.
	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"department": "finance"}, "alice")
	require.NoError(t, err)

	inst, err := h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "manager_approval", inst.CurrentNode)
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 1200.0}, "alice")
	require.NoError(t, err)
	require.NoError(t, h.engine.Approve(ctx, id, "manager-1", "looks fine"))

	inst, err := h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "approved", inst.CurrentNode)
	assert.Equal(t, instance.StatusApproved, inst.Status)
	require.Len(t, inst.Approvals, 1)
	assert.Equal(t, instance.DecisionApprove, inst.Approvals[0].Decision)
	assert.Equal(t, "looks fine", inst.Approvals[0].Comments)

	trail := h.recorder.Events(id)
	require.Len(t, trail, 5)
	assert.Equal(t, instance.TriggerManualApprove, trail[3].Trigger)
	assert.Equal(t, "manager-1", trail[3].Actor)

	// The audit trail alone reconstructs the final state.
	var events []*instance.TransitionEvent
	for _, event := range trail {
		transition := event.TransitionEvent
		events = append(events, &transition)
	}
	node, status := instance.Replay(events)
	assert.Equal(t, inst.CurrentNode, node)
	assert.Equal(t, inst.Status, status)

	assert.Eventually(t, func() bool {
		return len(h.notifier.Messages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "initiator", h.notifier.Messages()[0].Recipient)
}

func TestApproveByRole(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 60000.0}, "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, h.engine.Approve(ctx, id, "manager-1", ""), ErrInvalidTransition)
	require.NoError(t, h.engine.Approve(ctx, id, "sylvia", "within budget"))

	inst, err := h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusApproved, inst.Status)
}

func TestApproveInvalid(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 1200.0}, "alice")
	require.NoError(t, err)

	// Wrong actor.
	assert.ErrorIs(t, h.engine.Approve(ctx, id, "mallory", ""), ErrInvalidTransition)

	require.NoError(t, h.engine.Approve(ctx, id, "manager-1", ""))

	// A terminal instance admits no further decisions.
	assert.ErrorIs(t, h.engine.Approve(ctx, id, "manager-1", ""), ErrInvalidTransition)
	assert.ErrorIs(t, h.engine.Reject(ctx, id, "manager-1", ""), ErrInvalidTransition)

	// Unknown instance.
	assert.ErrorIs(t, h.engine.Approve(ctx, "missing", "manager-1", ""), ErrUnknownInstance)
	_, err = h.engine.InstanceState(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 1200.0}, "alice")
	require.NoError(t, err)
	require.NoError(t, h.engine.Reject(ctx, id, "manager-1", "missing receipts"))

	inst, err := h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "rejected", inst.CurrentNode)
	assert.Equal(t, instance.StatusRejected, inst.Status)
	require.Len(t, inst.Approvals, 1)
	assert.Equal(t, instance.DecisionReject, inst.Approvals[0].Decision)

	trail := h.recorder.Events(id)
	last := trail[len(trail)-1]
	assert.Equal(t, instance.TriggerManualReject, last.Trigger)
	assert.Equal(t, "rejected", last.ToNode)
}

func TestRejectResubmits(t *testing.T) {
	ctx := context.Background()
	def := expenseDefinition(func(d *model.Definition) {
		approvalConfig(d, "manager_approval").ResubmitTo = "assign"
	})
	h := newTestHarness(t, def)

	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 1200.0}, "alice")
	require.NoError(t, err)
	require.NoError(t, h.engine.Reject(ctx, id, "manager-1", "resubmit with receipts"))

	// The instance loops back through assignment and routing to the same
	// approval node, ready for a fresh decision.
	inst, err := h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "manager_approval", inst.CurrentNode)
	assert.Equal(t, instance.StatusInProgress, inst.Status)
	assert.Equal(t, []string{"clerk-1", "clerk-1"}, inst.Assignments)

	require.NoError(t, h.engine.Approve(ctx, id, "manager-1", "receipts attached"))
	inst, err = h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusApproved, inst.Status)
	assert.Len(t, inst.Approvals, 2)
}

func TestNoMatchingRouteParks(t *testing.T) {
	ctx := context.Background()
	def := expenseDefinition(func(d *model.Definition) {
		// Drop the default edge so nothing matches for small amounts.
		d.Edges[3].Default = false
		d.Edges[3].Guard = "amount < 0"
	})
	h := newTestHarness(t, def)

	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 1200.0}, "alice")
	assert.ErrorIs(t, err, ErrNoMatchingRoute)
	require.NotEmpty(t, id)

	inst, stateErr := h.engine.InstanceState(ctx, id)
	require.NoError(t, stateErr)
	assert.Equal(t, "route", inst.CurrentNode)
	assert.Equal(t, instance.StatusPending, inst.Status)

	// Advancing without a context change parks again.
	assert.ErrorIs(t, h.engine.Advance(ctx, id), ErrNoMatchingRoute)
}

func TestEscalate(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return started }
	defer func() { clock.NowFunc = time.Now }()

	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 1200.0}, "alice")
	require.NoError(t, err)

	// Not yet expired.
	assert.ErrorIs(t, h.engine.Escalate(ctx, id), ErrInvalidTransition)

	clock.NowFunc = func() time.Time { return started.Add(25 * time.Hour) }
	require.NoError(t, h.engine.Escalate(ctx, id))

	inst, err := h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "senior_approval", inst.CurrentNode)
	assert.Equal(t, instance.StatusInProgress, inst.Status)

	trail := h.recorder.Events(id)
	last := trail[len(trail)-1]
	assert.Equal(t, instance.TriggerTimeoutEscalation, last.Trigger)
	assert.Equal(t, ActorSystem, last.Actor)

	// The escalation target carries no timeout; a second escalation is
	// invalid.
	assert.ErrorIs(t, h.engine.Escalate(ctx, id), ErrInvalidTransition)

	require.NoError(t, h.engine.Approve(ctx, id, "sylvia", "taking over"))
	inst, err = h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusApproved, inst.Status)
}

func TestEscalateInPlace(t *testing.T) {
	ctx := context.Background()
	def := expenseDefinition(func(d *model.Definition) {
		approvalConfig(d, "manager_approval").EscalateTo = ""
	})
	h := newTestHarness(t, def)

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return started }
	defer func() { clock.NowFunc = time.Now }()

	id, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 1200.0}, "alice")
	require.NoError(t, err)

	clock.NowFunc = func() time.Time { return started.Add(25 * time.Hour) }
	require.NoError(t, h.engine.Escalate(ctx, id))

	inst, err := h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "manager_approval", inst.CurrentNode)
	assert.Equal(t, instance.StatusEscalated, inst.Status)

	// Already escalated; a repeat attempt is rejected.
	assert.ErrorIs(t, h.engine.Escalate(ctx, id), ErrInvalidTransition)

	// The designated approver can still decide.
	require.NoError(t, h.engine.Approve(ctx, id, "manager-1", "late but fine"))
	inst, err = h.engine.InstanceState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, instance.StatusApproved, inst.Status)
}

func TestPendingApprovals(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(t)

	low, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 1200.0}, "alice")
	require.NoError(t, err)
	high, err := h.engine.StartWorkflow(ctx, "expense", map[string]interface{}{"amount": 90000.0}, "bob")
	require.NoError(t, err)

	managerQueue, err := h.engine.PendingApprovals(ctx, "manager-1")
	require.NoError(t, err)
	require.Len(t, managerQueue, 1)
	assert.Equal(t, low, managerQueue[0].ID)

	seniorQueue, err := h.engine.PendingApprovals(ctx, "sylvia")
	require.NoError(t, err)
	require.Len(t, seniorQueue, 1)
	assert.Equal(t, high, seniorQueue[0].ID)

	none, err := h.engine.PendingApprovals(ctx, "mallory")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func approvalConfig(d *model.Definition, id string) *model.ApprovalConfig {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n.Approval
		}
	}
	return nil
}
