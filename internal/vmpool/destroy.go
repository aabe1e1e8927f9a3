package vmpool

import (
	"context"
	"errors"
	"time"

	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/metrics"
	"github.com/samueljseay/hal9999/internal/provider"
)

// destroyVm transitions a VM through destroying -> destroyed, or destroying
// -> error if the provider call fails (spec.md §4.F.12). A DestroyInstance
// that reports provider.ErrNotFound counts as success: the instance is
// already gone. A destroyed row has task_id and idle_since cleared and is
// kept (not deleted) for audit; rows left in error are retried by
// reapErrorVms on every housekeeping pass.
func (p *Pool) destroyVm(ctx context.Context, vm *domain.VM) error {
	vm.Status = domain.VMDestroying
	vm.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateVM(ctx, vm); err != nil {
		return err
	}

	prov, err := p.providerFor(vm.Provider)
	if err != nil {
		p.markVMError(ctx, vm, err)
		return err
	}

	if err := prov.DestroyInstance(ctx, vm.ID); err != nil && !errors.Is(err, provider.ErrNotFound) {
		p.markVMError(ctx, vm, err)
		return err
	}

	vm.Status = domain.VMDestroyed
	vm.TaskID = ""
	vm.IdleSince = nil
	vm.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateVM(ctx, vm); err != nil {
		return err
	}

	metrics.VMsTotal.WithLabelValues(vm.Provider, string(domain.VMDestroyed)).Inc()
	return nil
}
