package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/flow/runtime/instance"
	"github.com/docflow/flow/service/dao"
)

func TestSaveVersioning(t *testing.T) {
	ctx := context.Background()
	store := New()

	inst := instance.New("i-1", "expense", "start", "alice", nil)
	require.NoError(t, store.Save(ctx, inst, 0))
	assert.Equal(t, 1, inst.Version)

	// Creating again with a stale expectation fails.
	dup := instance.New("i-1", "expense", "start", "alice", nil)
	assert.ErrorIs(t, store.Save(ctx, dup, 0), dao.ErrVersionConflict)

	loaded, err := store.Load(ctx, "i-1")
	require.NoError(t, err)
	loaded.MoveTo("assign")
	require.NoError(t, store.Save(ctx, loaded, 1))
	assert.Equal(t, 2, loaded.Version)

	// A writer holding the old version loses.
	stale := inst.Clone()
	stale.MoveTo("route")
	assert.ErrorIs(t, store.Save(ctx, stale, 1), dao.ErrVersionConflict)

	current, err := store.Load(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, "assign", current.CurrentNode)
	assert.Equal(t, 2, current.Version)
}

func TestSaveValidation(t *testing.T) {
	ctx := context.Background()
	store := New()
	assert.ErrorIs(t, store.Save(ctx, nil, 0), dao.ErrNilEntity)
	assert.ErrorIs(t, store.Save(ctx, &instance.Instance{}, 0), dao.ErrInvalidID)
}

func TestLoadIsolation(t *testing.T) {
	ctx := context.Background()
	store := New()
	inst := instance.New("i-1", "expense", "start", "alice", map[string]interface{}{"amount": 10.0})
	require.NoError(t, store.Save(ctx, inst, 0))

	loaded, err := store.Load(ctx, "i-1")
	require.NoError(t, err)
	loaded.Context["amount"] = 99.0
	loaded.CurrentNode = "elsewhere"

	again, err := store.Load(ctx, "i-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.Context["amount"])
	assert.Equal(t, "start", again.CurrentNode)
}

func TestListByStatus(t *testing.T) {
	ctx := context.Background()
	store := New()

	first := instance.New("i-1", "expense", "approval", "alice", nil)
	first.SetStatus(instance.StatusInProgress)
	require.NoError(t, store.Save(ctx, first, 0))

	second := instance.New("i-2", "expense", "approved", "bob", nil)
	second.SetStatus(instance.StatusApproved)
	require.NoError(t, store.Save(ctx, second, 0))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	inFlight, err := store.List(ctx, dao.NewParameter("Status", string(instance.StatusInProgress)))
	require.NoError(t, err)
	require.Len(t, inFlight, 1)
	assert.Equal(t, "i-1", inFlight[0].ID)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := New()
	assert.ErrorIs(t, store.Delete(ctx, "missing"), dao.ErrNotFound)

	inst := instance.New("i-1", "expense", "start", "alice", nil)
	require.NoError(t, store.Save(ctx, inst, 0))
	require.NoError(t, store.Delete(ctx, "i-1"))
	_, err := store.Load(ctx, "i-1")
	assert.ErrorIs(t, err, dao.ErrNotFound)
}
