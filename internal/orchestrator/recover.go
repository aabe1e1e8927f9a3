package orchestrator

import (
	"context"

	"github.com/samueljseay/hal9999/internal/domain"
)

// Recover rebuilds in-flight state after a process restart (spec.md
// §4.H): reconcile the pool against live provider state first, then
// triage every non-terminal task. A task stuck in "assigned" never made
// it through setup, so it is force-failed and its VM released. A
// "running" task with no live VM is also force-failed; one with a live
// VM resumes polling without repeating setup.
//
// Reconcile runs before the triage query deliberately: its housekeeping
// pass includes releaseOrphans, which force-fails any task whose
// heartbeat has gone stale past STALE_TASK_MAX (spec.md §8 scenario 4).
// A crash-recovered "running" task with a dead poller is caught there —
// it is already "failed" by the time ListTasksByStatus below runs, so it
// never reaches resumeOrFail and is never mistakenly resumed.
func (o *Orchestrator) Recover(ctx context.Context) error {
	if _, err := o.pool.Reconcile(ctx); err != nil {
		o.log.Error().Err(err).Msg("recover: pool reconcile failed")
	}

	tasks, err := o.store.ListTasksByStatus(ctx, domain.TaskAssigned, domain.TaskRunning)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		switch task.Status {
		case domain.TaskAssigned:
			o.forceFailAndRelease(ctx, task, "setup never finished before restart")
		case domain.TaskRunning:
			o.resumeOrFail(ctx, task)
		}
	}
	return nil
}

func (o *Orchestrator) forceFailAndRelease(ctx context.Context, task *domain.Task, reason string) {
	if _, err := o.tasks.Fail(ctx, task.ID, 1, reason); err != nil {
		o.log.Error().Err(err).Str("task_id", task.ID).Msg("recover: force-fail failed")
	}
	if task.VMID != "" {
		if err := o.pool.ReleaseVm(ctx, task.VMID); err != nil {
			o.log.Error().Err(err).Str("vm_id", task.VMID).Msg("recover: release failed")
		}
	}
}

func (o *Orchestrator) resumeOrFail(ctx context.Context, task *domain.Task) {
	if task.VMID == "" {
		o.forceFailAndRelease(ctx, task, "running task has no bound vm after restart")
		return
	}

	vm, err := o.store.GetVM(ctx, task.VMID)
	if err != nil || vm.Status.Terminal() {
		o.forceFailAndRelease(ctx, task, "running task's vm is missing or terminal after restart")
		return
	}

	o.resumePolling(task)
}

// resumePolling spawns a background poll+collect for a task whose agent
// is still running on a live VM, skipping the setup phase entirely.
func (o *Orchestrator) resumePolling(task *domain.Task) {
	go o.resumeExecuteTask(context.Background(), task)
}
