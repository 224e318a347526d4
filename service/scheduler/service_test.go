package scheduler

import (
	"context"
	"sync"
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
	"github.com/docflow/flow/service/engine"
)

func reviewDefinition() *model.Definition {
	return &model.Definition{
		ID: "review",
		Nodes: []*model.Node{
			{ID: "start", Kind: model.KindStart},
			{ID: "review", Kind: model.KindApproval, Approval: &model.ApprovalConfig{Approver: "reviewer-1", Timeout: 24 * time.Hour, EscalateTo: "backup"}},
			{ID: "backup", Kind: model.KindApproval, Approval: &model.ApprovalConfig{Approver: "reviewer-2"}},
			{ID: "approved", Kind: model.KindEnd, End: &model.EndConfig{Outcome: model.OutcomeApproved}},
			{ID: "rejected", Kind: model.KindEnd, End: &model.EndConfig{Outcome: model.OutcomeRejected}},
		},
		Edges: []*model.Edge{
			{From: "start", To: "review"},
			{From: "review", To: "approved"},
			{From: "backup", To: "approved"},
		},
	}
}

type fixture struct {
	scheduler *Service
	engine    *engine.Service
	recorder  *audit.MemoryRecorder
	instances *imemory.Service
	registry  *definition.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := definition.New()
	require.NoError(t, registry.Register(reviewDefinition()))

	recorder := audit.NewMemoryRecorder()
	instances := imemory.New()
	eng, err := engine.New(
		engine.WithDefinitions(registry),
		engine.WithInstances(instances),
		engine.WithRecorder(recorder),
	)
	require.NoError(t, err)

	return &fixture{
		scheduler: New(Config{PollingInterval: 10 * time.Millisecond}, eng, registry, instances),
		engine:    eng,
		recorder:  recorder,
		instances: instances,
		registry:  registry,
	}
}

func TestSweepEscalatesExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return started }
	defer func() { clock.NowFunc = time.Now }()

	expired, err := f.engine.StartWorkflow(ctx, "review", nil, "alice")
	require.NoError(t, err)

	clock.NowFunc = func() time.Time { return started.Add(23 * time.Hour) }
	fresh, err := f.engine.StartWorkflow(ctx, "review", nil, "bob")
	require.NoError(t, err)

	clock.NowFunc = func() time.Time { return started.Add(25 * time.Hour) }
	f.scheduler.Sweep(ctx)

	inst, err := f.engine.InstanceState(ctx, expired)
	require.NoError(t, err)
	assert.Equal(t, "backup", inst.CurrentNode)

	inst, err = f.engine.InstanceState(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, "review", inst.CurrentNode)

	// The sweep is idempotent: the backup node has no timeout, a second
	// pass leaves everything untouched.
	f.scheduler.Sweep(ctx)
	trail := f.recorder.Events(expired)
	escalations := 0
	for _, event := range trail {
		if event.Trigger == instance.TriggerTimeoutEscalation {
			escalations++
		}
	}
	assert.Equal(t, 1, escalations)
}

func TestConcurrentSweeps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return started }
	defer func() { clock.NowFunc = time.Now }()

	id, err := f.engine.StartWorkflow(ctx, "review", nil, "alice")
	require.NoError(t, err)

	clock.NowFunc = func() time.Time { return started.Add(25 * time.Hour) }

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.scheduler.Sweep(ctx)
		}()
	}
	wg.Wait()

	// Exactly one escalation event regardless of how many sweeps raced.
	escalations := 0
	for _, event := range f.recorder.Events(id) {
		if event.Trigger == instance.TriggerTimeoutEscalation {
			escalations++
		}
	}
	assert.Equal(t, 1, escalations)
}

func TestStartAndShutdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return started }
	defer func() { clock.NowFunc = time.Now }()

	id, err := f.engine.StartWorkflow(ctx, "review", nil, "alice")
	require.NoError(t, err)

	clock.NowFunc = func() time.Time { return started.Add(25 * time.Hour) }
	f.scheduler.Start(ctx)
	defer f.scheduler.Shutdown()

	assert.Eventually(t, func() bool {
		inst, err := f.engine.InstanceState(ctx, id)
		return err == nil && inst.CurrentNode == "backup"
	}, time.Second, 10*time.Millisecond)

	f.scheduler.Shutdown()
	// Shutdown is idempotent.
	f.scheduler.Shutdown()
}
