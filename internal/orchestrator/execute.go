package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/herrors"
	"github.com/samueljseay/hal9999/internal/remoteshell"
	"github.com/samueljseay/hal9999/internal/tasklog"
	"github.com/samueljseay/hal9999/internal/telemetry"
	"github.com/samueljseay/hal9999/internal/wrapper"
)

const defaultAgentTimeoutMs = 600_000

// executeTask runs the full lifecycle for one task: acquire -> setup ->
// launch -> poll -> collect -> release, exactly spec.md §5's "within a
// single task" ordering. Every step logs phase/output events through a
// dedicated tasklog.Writer so observers can tail the run live.
func (o *Orchestrator) executeTask(ctx context.Context, taskID string, opts domain.TaskOptions) {
	ctx, span := telemetry.StartTaskSpan(ctx, taskID)
	defer span.End()

	timer := newTaskTimer()
	defer timer.record()

	log, err := tasklog.Open(o.dataDir, taskID)
	if err != nil {
		o.log.Error().Err(err).Str("task_id", taskID).Msg("failed to open task log")
		return
	}
	defer log.Close()

	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		o.log.Error().Err(err).Str("task_id", taskID).Msg("failed to load task")
		return
	}

	_ = log.Emit(tasklog.Event{Type: tasklog.EventTaskStart, RepoURL: task.RepoURL, Context: task.Context, Agent: o.agent.Command})

	result, failErr := o.runPhases(ctx, task, opts, log)

	if failErr != nil {
		telemetry.Fail(span, failErr)
		o.finishFailed(ctx, task, log, failErr)
		return
	}
	telemetry.OK(span)
	o.finishCompleted(ctx, task, log, result)
}

// runResult carries everything collect produced, for the final
// Complete/task_end bookkeeping.
type runResult struct {
	vmID       string
	exitCode   int
	resultText string
	prURL      string
	plan       string
}

func (o *Orchestrator) runPhases(ctx context.Context, task *domain.Task, opts domain.TaskOptions, log *tasklog.Writer) (*runResult, error) {
	phase := func(name string) {
		_ = log.Emit(tasklog.Event{Type: tasklog.EventPhase, Name: name})
	}

	phase(tasklog.PhaseVMAcquire)
	_, vmSpan := telemetry.StartPhaseSpan(ctx, tasklog.PhaseVMAcquire)
	vm, err := o.pool.AcquireVm(ctx, task.ID)
	if err != nil {
		telemetry.Fail(vmSpan, err)
		vmSpan.End()
		return nil, fmt.Errorf("acquire vm: %w", err)
	}
	telemetry.OK(vmSpan)
	vmSpan.End()
	_ = log.Emit(tasklog.Event{Type: tasklog.EventVMAcquired, VMID: vm.ID, Provider: vm.Provider, IP: vm.Address})

	defer func() {
		if err := o.pool.ReleaseVm(context.Background(), vm.ID); err != nil {
			o.log.Error().Err(err).Str("vm_id", vm.ID).Msg("release vm failed")
		}
	}()

	sh := o.newShell(remoteshell.Target{Host: vm.Address, Port: sshPort(vm), User: sshUser(o.agent)})

	phase(tasklog.PhaseSSHWait)
	if err := wrapper.WaitForSSH(ctx, sh); err != nil {
		return nil, err
	}

	if err := wrapper.CleanWorkspace(ctx, sh); err != nil {
		return nil, err
	}

	phase(tasklog.PhaseClone)
	githubToken, _ := o.credentialOrEmpty(opts.GithubToken, "GITHUB_TOKEN")
	workdirName, err := wrapper.Clone(ctx, sh, task.RepoURL, githubToken)
	if err != nil {
		return nil, err
	}
	workdir := "/workspace/" + workdirName

	phase(tasklog.PhaseAgentInstall)
	if err := wrapper.InstallAgent(ctx, sh, workdir, o.agent.InstallCmd); err != nil {
		return nil, err
	}

	phase(tasklog.PhaseBranchSetup)
	branch := opts.Branch
	if branch == "" {
		branch = "hal/" + task.ShortID()
	}
	if _, err := wrapper.BranchSetup(ctx, sh, workdir, branch); err != nil {
		return nil, err
	}

	script, err := wrapper.Render(wrapper.Spec{
		PathEnv:      "/usr/local/bin:/usr/bin:/bin",
		Workdir:      workdir,
		AgentCommand: o.agent.Command,
		Branch:       branch,
		NoPR:         opts.NoPR,
		PlanFirst:    opts.PlanFirst,
		PlanContext:  planContext(task.Context),
		ExecContext:  execContext(task.Context, opts.PlanFirst),
		Credentials:  o.credentials,
	})
	if err != nil {
		return nil, herrors.Wrap(herrors.ErrSetup, "render wrapper script: %v", err)
	}

	phase(tasklog.PhaseAgentLaunch)
	if err := wrapper.Upload(ctx, sh, script); err != nil {
		return nil, herrors.Wrap(herrors.ErrRemoteLaunch, "%v", err)
	}
	if err := wrapper.Launch(ctx, sh); err != nil {
		return nil, herrors.Wrap(herrors.ErrRemoteLaunch, "%v", err)
	}

	if err := o.tasks.MarkRunning(ctx, task.ID); err != nil {
		return nil, err
	}

	phase(tasklog.PhaseAgentRun)
	exitCode, err := o.pollUntilDone(ctx, task, sh, log, opts)
	if err != nil {
		return nil, err
	}

	collected, err := wrapper.Collect(ctx, sh)
	if err != nil {
		return nil, err
	}
	if diff, err := wrapper.FetchDiff(ctx, sh); err == nil && diff != "" {
		_ = o.artifacts.PutDiff(task.ID, []byte(diff))
	}
	if collected.Plan != "" {
		_ = o.artifacts.PutPlan(task.ID, []byte(collected.Plan))
	}

	return &runResult{
		vmID:       vm.ID,
		exitCode:   exitCode,
		resultText: collected.Result,
		prURL:      collected.PRURL,
		plan:       collected.Plan,
	}, nil
}

// pollUntilDone runs the 5s poll loop, streaming deltas to the task log
// and touching the heartbeat every round (spec.md §4.G poll phase). It
// aborts the run if the agent's configured wall-clock budget elapses.
func (o *Orchestrator) pollUntilDone(ctx context.Context, task *domain.Task, sh remoteshell.Runner, log *tasklog.Writer, opts domain.TaskOptions) (int, error) {
	budget := time.Duration(opts.TimeoutMs) * time.Millisecond
	if opts.TimeoutMs <= 0 {
		budget = defaultAgentTimeoutMs * time.Millisecond
	}
	deadline := time.Now().Add(budget)

	var offset int64
	ticker := time.NewTicker(wrapper.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			if err := o.tasks.Touch(ctx, task.ID); err != nil {
				o.log.Warn().Err(err).Str("task_id", task.ID).Msg("heartbeat touch failed")
			}

			result, err := wrapper.Probe(ctx, sh)
			if err != nil {
				o.log.Warn().Err(err).Str("task_id", task.ID).Msg("poll probe failed, retrying")
				continue
			}
			if result.Size > offset {
				delta, err := wrapper.FetchDelta(ctx, sh, offset, result.Size-offset)
				if err == nil && delta != "" {
					_ = log.AppendOutput(tasklog.StreamStdout, delta)
					offset = result.Size
				}
			}
			if result.Done {
				collected, err := wrapper.Collect(ctx, sh)
				if err != nil {
					return 0, err
				}
				return collected.ExitCode, nil
			}
			if time.Now().After(deadline) {
				_ = wrapper.Abort(ctx, sh)
				return 1, herrors.Wrap(herrors.ErrTimeout, "task %s exceeded agent wall-clock budget %s", task.ShortID(), budget)
			}
		}
	}
}

func (o *Orchestrator) finishCompleted(ctx context.Context, task *domain.Task, log *tasklog.Writer, r *runResult) {
	status := domain.TaskCompleted
	var finishErr error
	if r.exitCode == 0 {
		_, finishErr = o.tasks.Complete(ctx, task.ID, r.exitCode, r.resultText, r.prURL)
	} else {
		status = domain.TaskFailed
		_, finishErr = o.tasks.Fail(ctx, task.ID, r.exitCode, r.resultText)
	}
	if finishErr != nil {
		o.log.Error().Err(finishErr).Str("task_id", task.ID).Msg("failed to finalize task")
	}
	_ = log.Seal(r.exitCode)
	exitCode := r.exitCode
	_ = log.Emit(tasklog.Event{Type: tasklog.EventTaskEnd, Status: string(status), ExitCode: &exitCode, PRURL: r.prURL})
}

func (o *Orchestrator) finishFailed(ctx context.Context, task *domain.Task, log *tasklog.Writer, cause error) {
	if _, err := o.tasks.Fail(ctx, task.ID, 1, cause.Error()); err != nil {
		o.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to mark task failed")
	}
	_ = log.Seal(1)
	exitCode := 1
	_ = log.Emit(tasklog.Event{Type: tasklog.EventTaskEnd, Status: string(domain.TaskFailed), ExitCode: &exitCode, Error: cause.Error()})
}

func (o *Orchestrator) credentialOrEmpty(override, envKey string) (string, bool) {
	if override != "" {
		return override, true
	}
	if o.credentials == nil {
		return "", false
	}
	return o.credentials.Get(envKey)
}

func sshPort(vm *domain.VM) int {
	if vm.SSHPort == 0 {
		return 22
	}
	return vm.SSHPort
}

func sshUser(agent AgentConfig) string {
	return "hal"
}

func planContext(taskContext string) string {
	return "PLAN MODE: describe your intended changes in /workspace/.hal/plan.md without modifying the repository.\n\n" + taskContext
}

func execContext(taskContext string, planFirst bool) string {
	if planFirst {
		return "EXECUTE MODE: implement the plan recorded in /workspace/.hal/plan.md.\n\n" + taskContext
	}
	return taskContext
}
