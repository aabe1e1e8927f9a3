package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samueljseay/hal9999/internal/artifacts"
	"github.com/samueljseay/hal9999/internal/config"
	"github.com/samueljseay/hal9999/internal/dbstore"
	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/provider"
	"github.com/samueljseay/hal9999/internal/provider/fake"
	"github.com/samueljseay/hal9999/internal/remoteshell"
	remoteshellfake "github.com/samueljseay/hal9999/internal/remoteshell/fake"
	"github.com/samueljseay/hal9999/internal/taskmgr"
	"github.com/samueljseay/hal9999/internal/vmpool"
)

// newTestOrchestrator wires a full Orchestrator against a throwaway sqlite
// file and artifact dir, with shell swapped for an in-memory double so
// executeTask never touches a real network — every VM dialed gets the same
// shell double, which is enough for the single-VM scenarios below.
func newTestOrchestrator(t *testing.T, slots *config.SlotList, providers map[string]provider.Provider, shell *remoteshellfake.Shell) (*Orchestrator, *dbstore.SQLStore, *vmpool.Pool) {
	t.Helper()
	dataDir := t.TempDir()

	store, err := dbstore.Open(filepath.Join(dataDir, "hal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pool := vmpool.New(vmpool.Config{
		Store:     store,
		Slots:     slots,
		Providers: providers,
		Logger:    zerolog.Nop(),
	})

	arts, err := artifacts.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = arts.Close() })

	creds, err := config.NewCredentials(dataDir)
	require.NoError(t, err)

	tasks := taskmgr.New(store, zerolog.Nop())

	orch := New(Config{
		Store:       store,
		Pool:        pool,
		Tasks:       tasks,
		Artifacts:   arts,
		Credentials: creds,
		DataDir:     dataDir,
		Agent:       AgentConfig{Command: "fake-agent run"},
		Logger:      zerolog.Nop(),
		ShellFactory: func(remoteshell.Target) remoteshell.Runner {
			return shell
		},
	})
	return orch, store, pool
}

// oneSlot configures a single slot with a real warm-pool idle timeout (B2:
// idleTimeoutMs<=0 means "no warm pool", which would make ReleaseVm destroy
// every VM these tests expect to come back as ready).
func oneSlot(name string, maxPoolSize int) *config.SlotList {
	list := config.NewSlotList()
	list.Add(&config.Slot{
		Name:          name,
		Provider:      name,
		MaxPoolSize:   maxPoolSize,
		IdleTimeoutMs: 60_000,
	})
	return list
}

// Scenario 1 (spec.md §8): a warm, unbound ready VM is reused rather than
// provisioned, and the task completes successfully against it.
func TestRunTaskReusesWarmVM(t *testing.T) {
	slots := oneSlot("do", 3)
	fp := fake.New()
	shell := remoteshellfake.New()
	orch, store, _ := newTestOrchestrator(t, slots, map[string]provider.Provider{"do": fp}, shell)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.CreateVM(ctx, &domain.VM{
		ID: "warm-1", Provider: "do", Status: domain.VMReady, CreatedAt: now, UpdatedAt: now, IdleSince: &now,
	}))

	task, err := orch.RunTask(ctx, "https://github.com/example/repo.git", "do the thing", domain.TaskOptions{NoPR: true})
	require.NoError(t, err)

	assert.Equal(t, domain.TaskCompleted, task.Status)
	assert.Equal(t, 0, fp.InstanceCount(), "reuse path must never call CreateInstance")
	assert.Equal(t, 1, shell.CallCount("git clone"), "executeTask must run setup against the reused vm")

	gotVM, err := store.GetVM(ctx, "warm-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VMReady, gotVM.Status, "vm must be released back to the warm pool after completion")
	assert.Empty(t, gotVM.TaskID)
}

// Scenario 2 (spec.md §8): a slot already at capacity surfaces a capacity
// error instead of hanging or provisioning over the limit, and the task is
// recorded as failed.
func TestRunTaskFailsOnCapacityExhaustion(t *testing.T) {
	slots := oneSlot("do", 1)
	fp := fake.New()
	shell := remoteshellfake.New()
	orch, store, _ := newTestOrchestrator(t, slots, map[string]provider.Provider{"do": fp}, shell)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.CreateTask(ctx, &domain.Task{
		ID: "other-task", Slug: "calm-heron", Status: domain.TaskRunning, VMID: "busy-1",
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.CreateVM(ctx, &domain.VM{
		ID: "busy-1", Provider: "do", Status: domain.VMAssigned, TaskID: "other-task", CreatedAt: now, UpdatedAt: now,
	}))

	task, err := orch.RunTask(ctx, "https://github.com/example/repo.git", "do the thing", domain.TaskOptions{})
	require.NoError(t, err, "RunTask itself only errors if task creation fails; execution failure lands on the task row")

	assert.Equal(t, domain.TaskFailed, task.Status)
	require.NotNil(t, task.ExitCode)
	assert.Equal(t, 1, *task.ExitCode)
	assert.Contains(t, task.Result, "capacity")
	assert.Empty(t, shell.Calls, "no vm was ever acquired, so no remote commands should have run")
}

// Scenario 4 (spec.md §8): after a simulated crash, Recover force-fails a
// "running" task whose heartbeat has gone stale (dead poller) and resumes
// one whose heartbeat is fresh and whose VM is still alive.
func TestRecoverForceFailsStaleRunningTask(t *testing.T) {
	slots := oneSlot("do", 3)
	fp := fake.New()
	shell := remoteshellfake.New()
	orch, store, _ := newTestOrchestrator(t, slots, map[string]provider.Provider{"do": fp}, shell)
	ctx := context.Background()

	inst, err := fp.CreateInstance(ctx, "", "", "", "stale-vm", nil)
	require.NoError(t, err, "register a live instance so the force-fail below is provably due to heartbeat staleness, not a missing instance")

	stale := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateVM(ctx, &domain.VM{
		ID: inst.ID, Provider: "do", Status: domain.VMAssigned, TaskID: "t-stale", CreatedAt: stale, UpdatedAt: stale,
	}))
	require.NoError(t, store.CreateTask(ctx, &domain.Task{
		ID: "t-stale", Slug: "brave-otter", Status: domain.TaskRunning, VMID: inst.ID,
		CreatedAt: stale, UpdatedAt: stale,
	}))

	require.NoError(t, orch.Recover(ctx))

	task, err := store.GetTask(ctx, "t-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, task.Status, "a running task with a dead (stale-heartbeat) poller must be force-failed on recovery, never resumed")
}

// Scenario 4's companion case: a "running" task with a fresh heartbeat and
// a live VM is resumed rather than force-failed.
func TestRecoverResumesFreshRunningTask(t *testing.T) {
	slots := oneSlot("do", 3)
	fp := fake.New()
	shell := remoteshellfake.New()
	shell.DoneAfterProbes = 0
	orch, store, _ := newTestOrchestrator(t, slots, map[string]provider.Provider{"do": fp}, shell)
	ctx := context.Background()

	inst, err := fp.CreateInstance(ctx, "", "", "", "fresh-vm", nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.CreateVM(ctx, &domain.VM{
		ID: inst.ID, Provider: "do", Status: domain.VMAssigned, TaskID: "t-fresh", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.CreateTask(ctx, &domain.Task{
		ID: "t-fresh", Slug: "quiet-fox", Status: domain.TaskRunning, VMID: inst.ID,
		CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, orch.Recover(ctx))

	task, err := store.GetTask(ctx, "t-fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRunning, task.Status, "recover must not touch a task it decided to resume")

	require.Eventually(t, func() bool {
		task, err := store.GetTask(ctx, "t-fresh")
		return err == nil && task.Status == domain.TaskCompleted
	}, 20*time.Second, 50*time.Millisecond, "resumed poller must eventually collect and complete the task")
}

// Scenario 5 (spec.md §8): the agent never writes the done sentinel before
// its configured wall-clock budget elapses, so the run is aborted and the
// task fails with a timeout reason rather than hanging forever.
func TestRunTaskFailsOnAgentTimeout(t *testing.T) {
	slots := oneSlot("do", 3)
	fp := fake.New()
	shell := remoteshellfake.New()
	shell.DoneAfterProbes = 1_000_000 // never reports done within the test

	orch, _, _ := newTestOrchestrator(t, slots, map[string]provider.Provider{"do": fp}, shell)
	ctx := context.Background()

	task, err := orch.RunTask(ctx, "https://github.com/example/repo.git", "do the thing", domain.TaskOptions{TimeoutMs: 1})
	require.NoError(t, err)

	assert.Equal(t, domain.TaskFailed, task.Status)
	require.NotNil(t, task.ExitCode)
	assert.Equal(t, 1, *task.ExitCode)
	assert.Equal(t, 1, shell.CallCount("pkill -f run.sh"), "an exceeded wall-clock budget must abort the remote run")
}
