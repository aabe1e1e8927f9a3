package taskmgr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samueljseay/hal9999/internal/dbstore"
	"github.com/samueljseay/hal9999/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := dbstore.Open(filepath.Join(t.TempDir(), "hal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, zerolog.Nop())
}

func TestCreateAssignsSlugAndPendingStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.Create(ctx, "https://github.com/example/repo", "do the thing", domain.TaskOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.NotEmpty(t, task.Slug)
	assert.NotEmpty(t, task.ID)
}

func TestLifecycleTransitions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.Create(ctx, "https://github.com/example/repo", "ctx", domain.TaskOptions{})
	require.NoError(t, err)

	task, err = m.MarkAssigned(ctx, task.ID, "vm-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskAssigned, task.Status)
	assert.Equal(t, "vm-1", task.VMID)

	task, err = m.MarkRunning(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRunning, task.Status)
	require.NotNil(t, task.StartedAt)

	task, err = m.Complete(ctx, task.ID, 0, "all good", "https://github.com/example/repo/pull/1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, task.Status)
	require.NotNil(t, task.ExitCode)
	assert.Equal(t, 0, *task.ExitCode)
	assert.Equal(t, "https://github.com/example/repo/pull/1", task.PRURL)
	require.NotNil(t, task.CompletedAt)
}

func TestTerminalTaskRefusesFurtherTransitions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.Create(ctx, "https://github.com/example/repo", "ctx", domain.TaskOptions{})
	require.NoError(t, err)

	_, err = m.Fail(ctx, task.ID, 1, "boom")
	require.NoError(t, err)

	_, err = m.Complete(ctx, task.ID, 0, "late success", "")
	assert.Error(t, err)

	_, err = m.Fail(ctx, task.ID, 1, "again")
	assert.Error(t, err)
}

func TestTouchUpdatesTimestampWithoutChangingStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.Create(ctx, "https://github.com/example/repo", "ctx", domain.TaskOptions{})
	require.NoError(t, err)
	before := task.UpdatedAt

	require.NoError(t, m.Touch(ctx, task.ID))

	after, err := m.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, after.Status)
	assert.True(t, !after.UpdatedAt.Before(before))
}

func TestGetBySlug(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.Create(ctx, "https://github.com/example/repo", "ctx", domain.TaskOptions{})
	require.NoError(t, err)

	bySlug, err := m.GetBySlug(ctx, task.Slug)
	require.NoError(t, err)
	assert.Equal(t, task.ID, bySlug.ID)
}
