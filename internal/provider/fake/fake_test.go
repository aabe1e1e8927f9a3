package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samueljseay/hal9999/internal/provider"
)

func TestCreateListDestroy(t *testing.T) {
	p := New()
	ctx := context.Background()

	inst, err := p.CreateInstance(ctx, "nyc1", "small", "snap-1", "label", nil)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusActive, inst.Status)
	assert.Equal(t, 1, p.InstanceCount())

	list, err := p.ListInstances(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, p.DestroyInstance(ctx, inst.ID))
	assert.Equal(t, 0, p.InstanceCount())

	_, err = p.GetInstance(ctx, inst.ID)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestFailNextCreateClearsAfterOneUse(t *testing.T) {
	p := New()
	ctx := context.Background()
	boom := errors.New("boom")
	p.FailNextCreate = boom

	_, err := p.CreateInstance(ctx, "", "", "", "", nil)
	assert.ErrorIs(t, err, boom)

	inst, err := p.CreateInstance(ctx, "", "", "", "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, inst.ID)
}

func TestStartStopInstance(t *testing.T) {
	p := New()
	ctx := context.Background()
	inst, err := p.CreateInstance(ctx, "", "", "", "", nil)
	require.NoError(t, err)

	require.NoError(t, p.StopInstance(ctx, inst.ID))
	got, err := p.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusPending, got.Status)

	require.NoError(t, p.StartInstance(ctx, inst.ID))
	got, err = p.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, provider.StatusActive, got.Status)
}

func TestDestroyUnknownInstanceReturnsNotFound(t *testing.T) {
	p := New()
	err := p.DestroyInstance(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}
