package orchestrator

import (
	"context"

	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/remoteshell"
	"github.com/samueljseay/hal9999/internal/tasklog"
	"github.com/samueljseay/hal9999/internal/telemetry"
	"github.com/samueljseay/hal9999/internal/wrapper"
)

// resumeExecuteTask continues a task recovered mid-run: no setup, just
// poll -> collect -> release, appending to the same per-task log/event
// files the original run started (spec.md §4.H Recover: "spawn
// background poll+collect, skipping the setup phase").
func (o *Orchestrator) resumeExecuteTask(ctx context.Context, task *domain.Task) {
	ctx, span := telemetry.StartTaskSpan(ctx, task.ID)
	defer span.End()

	timer := newTaskTimer()
	defer timer.record()

	log, err := tasklog.Open(o.dataDir, task.ID)
	if err != nil {
		o.log.Error().Err(err).Str("task_id", task.ID).Msg("resume: failed to reopen task log")
		return
	}
	defer log.Close()

	vm, err := o.store.GetVM(ctx, task.VMID)
	if err != nil {
		telemetry.Fail(span, err)
		o.finishFailed(ctx, task, log, err)
		return
	}

	sh := o.newShell(remoteshell.Target{Host: vm.Address, Port: sshPort(vm), User: sshUser(o.agent)})

	defer func() {
		if err := o.pool.ReleaseVm(context.Background(), vm.ID); err != nil {
			o.log.Error().Err(err).Str("vm_id", vm.ID).Msg("resume: release vm failed")
		}
	}()

	exitCode, err := o.pollUntilDone(ctx, task, sh, log, domain.TaskOptions{})
	if err != nil {
		telemetry.Fail(span, err)
		o.finishFailed(ctx, task, log, err)
		return
	}

	collected, err := wrapper.Collect(ctx, sh)
	if err != nil {
		telemetry.Fail(span, err)
		o.finishFailed(ctx, task, log, err)
		return
	}
	if diff, err := wrapper.FetchDiff(ctx, sh); err == nil && diff != "" {
		_ = o.artifacts.PutDiff(task.ID, []byte(diff))
	}
	if collected.Plan != "" {
		_ = o.artifacts.PutPlan(task.ID, []byte(collected.Plan))
	}

	telemetry.OK(span)
	o.finishCompleted(ctx, task, log, &runResult{
		vmID:       vm.ID,
		exitCode:   exitCode,
		resultText: collected.Result,
		prURL:      collected.PRURL,
	})
}
