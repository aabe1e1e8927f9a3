package vmpool

import (
	"context"
	"errors"
	"time"

	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/herrors"
	"github.com/samueljseay/hal9999/internal/metrics"
)

// runHousekeeping composes the four reap passes: releaseOrphans (so a
// just-finished task's VM is free before we decide anything else needs a
// new one), reapStaleProvisioning, then reapIdleVms — the order spec.md
// §4.F.4 requires — followed by reapErrorVms. Each sub-step logs and continues on error rather than
// aborting the whole cycle — mirrors cuemby-warren/pkg/reconciler.go's
// multi-step Reconcile.
func (p *Pool) runHousekeeping(ctx context.Context) (int, error) {
	total := 0

	n, err := p.releaseOrphans(ctx)
	total += n
	if err != nil {
		p.log.Error().Err(err).Msg("releaseOrphans failed")
	}

	n, err = p.reapStaleProvisioning(ctx)
	total += n
	if err != nil {
		p.log.Error().Err(err).Msg("reapStaleProvisioning failed")
	}

	n, err = p.reapIdleVms(ctx)
	total += n
	if err != nil {
		p.log.Error().Err(err).Msg("reapIdleVms failed")
	}

	n, err = p.reapErrorVms(ctx)
	total += n
	if err != nil {
		p.log.Error().Err(err).Msg("reapErrorVms failed")
	}

	return total, nil
}

// reapIdleVms destroys ready, unbound VMs whose idle_since exceeds the
// slot's idleTimeoutMs (spec.md §4.F.5). A slot with idleTimeoutMs<=0 never
// parks VMs in ready in the first place (releaseVm destroys them inline),
// so this only ever fires for slots with a positive timeout.
func (p *Pool) reapIdleVms(ctx context.Context) (int, error) {
	vms, err := p.store.ListVMsByStatus(ctx, domain.VMReady)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	reaped := 0
	for _, vm := range vms {
		if vm.IdleSince == nil {
			continue
		}
		slot := p.slotForProvider(vm.Provider)
		if slot == nil || slot.IdleTimeoutMs <= 0 {
			continue
		}
		if now.Sub(*vm.IdleSince) < time.Duration(slot.IdleTimeoutMs)*time.Millisecond {
			continue
		}
		if err := p.destroyVm(ctx, vm); err != nil {
			p.log.Error().Err(err).Str("vm_id", vm.ID).Msg("reapIdleVms: destroy failed")
			continue
		}
		metrics.ReapTotal.WithLabelValues("idle").Inc()
		reaped++
	}
	return reaped, nil
}

// reapStaleProvisioning force-errors VMs stuck in provisioning past
// staleProvisionMax (spec.md §4.F.6) — a provider that never answers
// WaitForReady, or a process crash mid-provision.
func (p *Pool) reapStaleProvisioning(ctx context.Context) (int, error) {
	vms, err := p.store.ListVMsByStatus(ctx, domain.VMProvisioning)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-p.staleProvisionMax)
	reaped := 0
	for _, vm := range vms {
		if vm.UpdatedAt.After(cutoff) {
			continue
		}
		p.markVMError(ctx, vm, errStaleProvisioning(vm))
		metrics.ReapTotal.WithLabelValues("stale_provisioning").Inc()
		reaped++
	}
	return reaped, nil
}

// reapErrorVms attempts to destroy (and thereby clear) VMs sitting in
// error, so a provider hiccup doesn't permanently occupy slot capacity
// (spec.md §4.F.7). destroyVm treats a provider ErrNotFound as the
// instance being already gone, so such rows reach destroyed; any other
// provider failure leaves the row in error for the next pass.
func (p *Pool) reapErrorVms(ctx context.Context) (int, error) {
	vms, err := p.store.ListVMsByStatus(ctx, domain.VMError)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, vm := range vms {
		if err := p.destroyVm(ctx, vm); err != nil {
			p.log.Warn().Err(err).Str("vm_id", vm.ID).Msg("reapErrorVms: destroy still failing")
			continue
		}
		metrics.ReapTotal.WithLabelValues("error").Inc()
		reaped++
	}
	return reaped, nil
}

// releaseOrphans covers three divergences between the VM and task tables
// that normal flow shouldn't produce but a crash mid-transaction can
// (spec.md §4.F.8): a VM still "assigned" to a task that's already
// terminal (release it), a VM whose task_id points at a task row that
// does not exist (release it), and a task still running/assigned whose
// heartbeat has gone stale past staleTaskMax (force-fail it and release
// its VM).
func (p *Pool) releaseOrphans(ctx context.Context) (int, error) {
	count := 0

	assigned, err := p.store.ListVMsByStatus(ctx, domain.VMAssigned)
	if err != nil {
		return count, err
	}
	for _, vm := range assigned {
		if vm.TaskID == "" {
			continue
		}
		task, err := p.store.GetTask(ctx, vm.TaskID)
		if err != nil {
			if errors.Is(err, herrors.ErrRowNotFound) {
				// vm.task_id points at a task row that no longer exists
				// (spec.md §4.F.9's second orphan query) — the VM is an
				// orphan regardless of what its bound task's status would
				// have been.
				if relErr := p.ReleaseVm(ctx, vm.ID); relErr != nil {
					p.log.Error().Err(relErr).Str("vm_id", vm.ID).Msg("releaseOrphans: release of dangling-task vm failed")
					continue
				}
				metrics.ReapTotal.WithLabelValues("orphan").Inc()
				count++
			}
			continue
		}
		if task.Status.Terminal() {
			if err := p.ReleaseVm(ctx, vm.ID); err != nil {
				p.log.Error().Err(err).Str("vm_id", vm.ID).Msg("releaseOrphans: release failed")
				continue
			}
			metrics.ReapTotal.WithLabelValues("orphan").Inc()
			count++
		}
	}

	stale, err := p.store.StaleTasks(ctx, time.Now().UTC().Add(-p.staleTaskMax))
	if err != nil {
		return count, err
	}
	for _, task := range stale {
		if err := p.forceFailTask(ctx, task); err != nil {
			p.log.Error().Err(err).Str("task_id", task.ID).Msg("releaseOrphans: force-fail failed")
			continue
		}
		if task.VMID != "" {
			if err := p.ReleaseVm(ctx, task.VMID); err != nil {
				p.log.Error().Err(err).Str("vm_id", task.VMID).Msg("releaseOrphans: release after force-fail failed")
			}
		}
		count++
	}

	return count, nil
}

// forceFailTask fails a task directly against the store (T3's "stale
// tasks are force-failed" path) without going through taskmgr.Manager,
// since the pool only holds a dbstore.Store reference.
func (p *Pool) forceFailTask(ctx context.Context, task *domain.Task) error {
	now := time.Now().UTC()
	exitCode := 1
	task.Status = domain.TaskFailed
	task.ExitCode = &exitCode
	task.Result = "task heartbeat exceeded STALE_TASK_MAX, force-failed by pool housekeeping"
	task.CompletedAt = &now
	task.UpdatedAt = now
	return p.store.UpdateTask(ctx, task)
}

func errStaleProvisioning(vm *domain.VM) error {
	return herrors.Wrap(herrors.ErrTimeout, "vm %s stuck in provisioning past staleProvisionMax", vm.ShortID())
}
