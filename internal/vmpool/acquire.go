package vmpool

import (
	"context"
	"errors"

	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/herrors"
	"github.com/samueljseay/hal9999/internal/metrics"
)

// maxAcquireAttempts bounds provision-with-retry (spec.md §4.F.4: "transient
// provider failures are common in local virtualization").
const maxAcquireAttempts = 2

// AcquireVm runs pre-acquire housekeeping, reuses a warm VM if one exists,
// otherwise provisions (with retry), binds the chosen VM to taskID in one
// atomic transaction, and fires ensureWarm in the background.
func (p *Pool) AcquireVm(ctx context.Context, taskID string) (*domain.VM, error) {
	if _, err := p.releaseOrphans(ctx); err != nil {
		p.log.Error().Err(err).Msg("releaseOrphans failed during acquire housekeeping")
	}
	if _, err := p.reapStaleProvisioning(ctx); err != nil {
		p.log.Error().Err(err).Msg("reapStaleProvisioning failed during acquire housekeeping")
	}
	if _, err := p.reapIdleVms(ctx); err != nil {
		p.log.Error().Err(err).Msg("reapIdleVms failed during acquire housekeeping")
	}

	vm, err := p.findWarmVM(ctx)
	outcome := "reuse"
	if err != nil {
		return nil, err
	}
	if vm == nil {
		vm, err = p.provisionWithRetry(ctx)
		outcome = "provisioned"
		if err != nil {
			metrics.AcquireTotal.WithLabelValues(outcomeLabel(err)).Inc()
			return nil, err
		}
		ready, err := p.waitForVm(ctx, vm, DefaultWaitForReadyBudget)
		if err != nil {
			_ = p.destroyVm(ctx, vm)
			metrics.AcquireTotal.WithLabelValues("timeout").Inc()
			return nil, err
		}
		vm = ready
	}
	metrics.AcquireTotal.WithLabelValues(outcome).Inc()

	if err := p.store.BindTask(ctx, vm.ID, taskID); err != nil {
		return nil, err
	}
	vm.Status = domain.VMAssigned
	vm.TaskID = taskID
	vm.IdleSince = nil

	go func() {
		bgCtx := context.Background()
		if err := p.ensureWarmAll(bgCtx); err != nil {
			p.log.Error().Err(err).Msg("ensureWarm after acquire failed")
		}
	}()

	return vm, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, herrors.ErrCapacity):
		return "capacity_error"
	case errors.Is(err, herrors.ErrProvider):
		return "provider_error"
	default:
		return "error"
	}
}

// findWarmVM scans for a single row with status=ready and task_id NULL, in
// any slot (spec.md §4.F.4: "the first ready row any store ordering yields
// is acceptable").
func (p *Pool) findWarmVM(ctx context.Context) (*domain.VM, error) {
	ready, err := p.store.ListVMsByStatus(ctx, domain.VMReady)
	if err != nil {
		return nil, err
	}
	for _, vm := range ready {
		if vm.TaskID == "" {
			return vm, nil
		}
	}
	return nil, nil
}

// provisionWithRetry attempts provisionVm up to maxAcquireAttempts times
// and returns the last error if every attempt fails. A failed attempt is
// not destroyed here: provisionVmForSlot leaves its row in error, and
// reapErrorVms clears it on a later housekeeping pass.
func (p *Pool) provisionWithRetry(ctx context.Context) (*domain.VM, error) {
	var lastErr error
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		vm, err := p.provisionVm(ctx)
		if err == nil {
			return vm, nil
		}
		lastErr = err
		p.log.Warn().Err(err).Int("attempt", attempt+1).Msg("provision attempt failed")
	}
	return nil, lastErr
}
