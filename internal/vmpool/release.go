package vmpool

import (
	"context"
	"time"

	"github.com/samueljseay/hal9999/internal/domain"
)

// ReleaseVm unbinds a VM from its task. Per spec.md B2, a slot configured
// with idleTimeoutMs<=0 means "no warm pool for this slot": the VM is
// destroyed immediately instead of being returned to ready. Otherwise the
// VM goes back to ready with idle_since stamped, and a background
// ensureWarm pass is kicked off in case this pushed the slot over its warm
// floor (it never will, but ensureWarm is cheap and idempotent).
func (p *Pool) ReleaseVm(ctx context.Context, vmID string) error {
	vm, err := p.store.GetVM(ctx, vmID)
	if err != nil {
		return err
	}

	slot := p.slotForProvider(vm.Provider)
	if slot != nil && slot.IdleTimeoutMs <= 0 {
		return p.destroyVm(ctx, vm)
	}

	now := time.Now().UTC()
	vm.Status = domain.VMReady
	vm.TaskID = ""
	vm.IdleSince = &now
	vm.UpdatedAt = now
	if err := p.store.UpdateVM(ctx, vm); err != nil {
		return err
	}

	go func() {
		if err := p.ensureWarmAll(context.Background()); err != nil {
			p.log.Error().Err(err).Msg("ensureWarm after release failed")
		}
	}()

	return nil
}
