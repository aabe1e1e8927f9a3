package dbstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samueljseay/hal9999/internal/domain"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "hal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetTask(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	task := &domain.Task{
		ID:        "task-1",
		Slug:      "brisk-otter",
		RepoURL:   "https://github.com/example/repo",
		Context:   "fix the thing",
		Status:    domain.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateTask(ctx, task))

	got, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "brisk-otter", got.Slug)
	assert.Equal(t, domain.TaskPending, got.Status)
	assert.Nil(t, got.ExitCode)

	bySlug, err := store.GetTaskBySlug(ctx, "brisk-otter")
	require.NoError(t, err)
	assert.Equal(t, got.ID, bySlug.ID)

	_, err = store.GetTask(ctx, "does-not-exist")
	assert.Error(t, err)
}

func TestSlugExists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	exists, err := store.SlugExists(ctx, "brisk-otter")
	require.NoError(t, err)
	assert.False(t, exists)

	now := time.Now().UTC()
	require.NoError(t, store.CreateTask(ctx, &domain.Task{ID: "t1", Slug: "brisk-otter", Status: domain.TaskPending, CreatedAt: now, UpdatedAt: now}))

	exists, err = store.SlugExists(ctx, "brisk-otter")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListTasksByStatusAndStaleTasks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	fresh := time.Now().UTC()

	require.NoError(t, store.CreateTask(ctx, &domain.Task{ID: "stale-1", Slug: "a", Status: domain.TaskRunning, CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, store.CreateTask(ctx, &domain.Task{ID: "fresh-1", Slug: "b", Status: domain.TaskRunning, CreatedAt: fresh, UpdatedAt: fresh}))
	require.NoError(t, store.CreateTask(ctx, &domain.Task{ID: "done-1", Slug: "c", Status: domain.TaskCompleted, CreatedAt: old, UpdatedAt: old}))

	running, err := store.ListTasksByStatus(ctx, domain.TaskRunning)
	require.NoError(t, err)
	assert.Len(t, running, 2)

	cutoff := time.Now().UTC().Add(-30 * time.Minute)
	stale, err := store.StaleTasks(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stale-1", stale[0].ID)
}

func TestCreateAndUpdateVM(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	vm := &domain.VM{
		ID:        "vm-1",
		Provider:  "localvm",
		Status:    domain.VMProvisioning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateVM(ctx, vm))

	vm.Status = domain.VMReady
	vm.Address = "10.0.0.5"
	vm.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpdateVM(ctx, vm))

	got, err := store.GetVM(ctx, "vm-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VMReady, got.Status)
	assert.Equal(t, "10.0.0.5", got.Address)
}

func TestListVMsByProviderStatusAndCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateVM(ctx, &domain.VM{ID: "v1", Provider: "localvm", Status: domain.VMReady, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, store.CreateVM(ctx, &domain.VM{ID: "v2", Provider: "localvm", Status: domain.VMProvisioning, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, store.CreateVM(ctx, &domain.VM{ID: "v3", Provider: "other", Status: domain.VMReady, CreatedAt: now, UpdatedAt: now}))

	rows, err := store.ListVMsByProviderStatus(ctx, "localvm", domain.VMReady, domain.VMProvisioning)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	n, err := store.CountVMsByProviderStatus(ctx, "localvm", domain.VMReady, domain.VMProvisioning)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBindTask(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateVM(ctx, &domain.VM{ID: "vm-1", Provider: "localvm", Status: domain.VMReady, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, store.CreateTask(ctx, &domain.Task{ID: "task-1", Slug: "brisk-otter", Status: domain.TaskPending, CreatedAt: now, UpdatedAt: now}))

	require.NoError(t, store.BindTask(ctx, "vm-1", "task-1"))

	vm, err := store.GetVM(ctx, "vm-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VMAssigned, vm.Status)
	assert.Equal(t, "task-1", vm.TaskID)
	assert.Nil(t, vm.IdleSince)

	task, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "vm-1", task.VMID)
}

func TestBindTaskMissingRowFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	err := store.BindTask(ctx, "no-such-vm", "no-such-task")
	assert.Error(t, err)
}
