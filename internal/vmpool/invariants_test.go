package vmpool

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samueljseay/hal9999/internal/config"
	"github.com/samueljseay/hal9999/internal/dbstore"
	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/provider"
	"github.com/samueljseay/hal9999/internal/provider/fake"
)

func newTestPool(t *testing.T, slots *config.SlotList, providers map[string]provider.Provider) (*Pool, *dbstore.SQLStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "hal.db")
	store, err := dbstore.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p := New(Config{
		Store:     store,
		Slots:     slots,
		Providers: providers,
		Logger:    zerolog.Nop(),
	})
	return p, store
}

func oneSlot(name string, maxPoolSize int) *config.SlotList {
	list := config.NewSlotList()
	list.Add(&config.Slot{
		Name:        name,
		Provider:    name,
		MaxPoolSize: maxPoolSize,
		Priority:    0,
	})
	return list
}

// P1: pickSlot never returns a slot whose active count already equals
// maxPoolSize.
func TestPickSlotRespectsCapacity(t *testing.T) {
	slots := oneSlot("do", 1)
	fp := fake.New()
	p, store := newTestPool(t, slots, map[string]provider.Provider{"do": fp})
	ctx := context.Background()

	slot, err := p.pickSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "do", slot.Name)

	now := time.Now().UTC()
	require.NoError(t, store.CreateVM(ctx, &domain.VM{
		ID: "v1", Provider: "do", Status: domain.VMReady, CreatedAt: now, UpdatedAt: now,
	}))

	_, err = p.pickSlot(ctx)
	assert.Error(t, err, "scenario 2: pool at capacity must surface capacityError")
	assert.Contains(t, err.Error(), "at capacity (total max: 1)")
}

// Tie-break: equal-priority slots preserve configured insertion order.
func TestPickSlotTieBreakPreservesOrder(t *testing.T) {
	slots := config.NewSlotList()
	slots.Add(&config.Slot{Name: "first", Provider: "first", MaxPoolSize: 1, Priority: 5})
	slots.Add(&config.Slot{Name: "second", Provider: "second", MaxPoolSize: 1, Priority: 5})

	p, _ := newTestPool(t, slots, map[string]provider.Provider{
		"first":  fake.New(),
		"second": fake.New(),
	})

	slot, err := p.pickSlot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", slot.Name, "equal priorities must preserve configured order")
}

// Provisioning and waiting for ready transitions a VM row through
// provisioning -> ready with a real (non-temporary) id.
func TestProvisionAndWaitForReady(t *testing.T) {
	slots := oneSlot("do", 3)
	fp := fake.New()
	p, store := newTestPool(t, slots, map[string]provider.Provider{"do": fp})
	ctx := context.Background()

	vm, err := p.provisionVm(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.VMProvisioning, vm.Status)
	assert.NotContains(t, vm.ID, "provisioning:")

	vm, err = p.waitForVm(ctx, vm, time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.VMReady, vm.Status)
	assert.NotEmpty(t, vm.Address)

	got, err := store.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VMReady, got.Status)
}

// AcquireVm reuses a warm, unbound VM instead of provisioning a new one.
func TestAcquireReusesWarmVM(t *testing.T) {
	slots := oneSlot("do", 3)
	fp := fake.New()
	p, store := newTestPool(t, slots, map[string]provider.Provider{"do": fp})
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.CreateVM(ctx, &domain.VM{
		ID: "warm-1", Provider: "do", Status: domain.VMReady, CreatedAt: now, UpdatedAt: now, IdleSince: &now,
	}))
	require.NoError(t, store.CreateTask(ctx, &domain.Task{
		ID: "task-1", Slug: "calm-heron", Status: domain.TaskPending, CreatedAt: now, UpdatedAt: now,
	}))

	vm, err := p.AcquireVm(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "warm-1", vm.ID)
	assert.Equal(t, 0, fp.InstanceCount(), "reuse path must not call CreateInstance")

	got, err := store.GetVM(ctx, "warm-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VMAssigned, got.Status)
	assert.Equal(t, "task-1", got.TaskID)

	task, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "warm-1", task.VMID)
}

// B2: a slot with idleTimeoutMs<=0 destroys a released VM inline instead
// of parking it in ready.
func TestReleaseVmNoWarmPoolDestroysInline(t *testing.T) {
	slots := config.NewSlotList()
	slots.Add(&config.Slot{Name: "do", Provider: "do", MaxPoolSize: 3, IdleTimeoutMs: 0})
	fp := fake.New()
	p, store := newTestPool(t, slots, map[string]provider.Provider{"do": fp})
	ctx := context.Background()

	vm, err := p.provisionVm(ctx)
	require.NoError(t, err)
	vm, err = p.waitForVm(ctx, vm, time.Second)
	require.NoError(t, err)

	require.NoError(t, p.ReleaseVm(ctx, vm.ID))

	got, err := store.GetVM(ctx, vm.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VMDestroyed, got.Status)
}

// reapIdleVms destroys a ready VM only once its idle duration exceeds the
// slot's idleTimeoutMs.
func TestReapIdleVms(t *testing.T) {
	slots := config.NewSlotList()
	slots.Add(&config.Slot{Name: "do", Provider: "do", MaxPoolSize: 3, IdleTimeoutMs: 50})
	fp := fake.New()
	p, store := newTestPool(t, slots, map[string]provider.Provider{"do": fp})
	ctx := context.Background()

	inst, err := fp.CreateInstance(ctx, "", "", "", "warm", nil)
	require.NoError(t, err)

	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateVM(ctx, &domain.VM{
		ID: inst.ID, Provider: "do", Status: domain.VMReady, CreatedAt: stale, UpdatedAt: stale, IdleSince: &stale,
	}))

	n, err := p.reapIdleVms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetVM(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VMDestroyed, got.Status)
}

// releaseOrphans frees a VM still marked assigned to a task that has
// already reached a terminal state.
func TestReleaseOrphansFreesVMBoundToTerminalTask(t *testing.T) {
	slots := oneSlot("do", 3)
	fp := fake.New()
	p, store := newTestPool(t, slots, map[string]provider.Provider{"do": fp})
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.CreateTask(ctx, &domain.Task{
		ID: "t1", Slug: "brave-otter", Status: domain.TaskCompleted, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.CreateVM(ctx, &domain.VM{
		ID: "v1", Provider: "do", Status: domain.VMAssigned, TaskID: "t1", CreatedAt: now, UpdatedAt: now,
	}))

	n, err := p.releaseOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetVM(ctx, "v1")
	require.NoError(t, err)
	assert.NotEqual(t, domain.VMAssigned, got.Status)
	assert.Empty(t, got.TaskID)
}

// releaseOrphans force-fails a task whose heartbeat has gone stale past
// staleTaskMax (T3).
func TestReleaseOrphansForceFailsStaleTask(t *testing.T) {
	slots := oneSlot("do", 3)
	fp := fake.New()
	p, store := newTestPool(t, slots, map[string]provider.Provider{"do": fp})
	p.staleTaskMax = time.Millisecond
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateTask(ctx, &domain.Task{
		ID: "t2", Slug: "quiet-fox", Status: domain.TaskRunning, CreatedAt: old, UpdatedAt: old,
	}))

	n, err := p.releaseOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := store.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, task.Status)
	assert.NotNil(t, task.ExitCode)
}

// releaseOrphans frees a VM whose task_id references a task row that no
// longer exists at all (spec.md §4.F.9's second orphan query — distinct
// from the first, which requires the referenced task to exist and be
// terminal).
func TestReleaseOrphansFreesVMWithDanglingTaskID(t *testing.T) {
	slots := oneSlot("do", 3)
	fp := fake.New()
	p, store := newTestPool(t, slots, map[string]provider.Provider{"do": fp})
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.CreateVM(ctx, &domain.VM{
		ID: "v2", Provider: "do", Status: domain.VMAssigned, TaskID: "missing-task", CreatedAt: now, UpdatedAt: now,
	}))

	n, err := p.releaseOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetVM(ctx, "v2")
	require.NoError(t, err)
	assert.NotEqual(t, domain.VMAssigned, got.Status)
	assert.Empty(t, got.TaskID)
}
