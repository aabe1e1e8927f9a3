package vmpool

import (
	"context"

	"github.com/samueljseay/hal9999/internal/config"
	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/metrics"
)

// ensureWarmAll tops up every configured slot to its minReady floor
// (spec.md §4.F.10), logging but continuing past a single slot's failure
// so one broken provider doesn't starve the rest of the pool.
func (p *Pool) ensureWarmAll(ctx context.Context) error {
	var firstErr error
	for _, slot := range p.slots.Ordered() {
		if err := p.ensureWarm(ctx, slot); err != nil {
			p.log.Error().Err(err).Str("slot", slot.Name).Msg("ensureWarm failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ensureWarm provisions VMs for slot until its warm (ready, unbound) count
// reaches MinReady or the slot hits maxPoolSize, whichever comes first —
// provisioning never exceeds maxPoolSize even to satisfy minReady (V1
// always wins over the warm-pool target).
func (p *Pool) ensureWarm(ctx context.Context, slot *config.Slot) error {
	if slot.MinReady <= 0 {
		return nil
	}

	warm, err := p.countWarm(ctx, slot.Provider)
	if err != nil {
		return err
	}
	metrics.PoolWarmTotal.WithLabelValues(slot.Provider).Set(float64(warm))

	active, err := p.store.CountVMsByProviderStatus(ctx, slot.Provider, activeVMStates...)
	if err != nil {
		return err
	}

	for warm < slot.MinReady && active < slot.MaxPoolSize {
		vm, err := p.provisionVmForSlot(ctx, slot)
		if err != nil {
			return err
		}
		if _, err := p.waitForVm(ctx, vm, DefaultWaitForReadyBudget); err != nil {
			p.log.Error().Err(err).Str("vm_id", vm.ID).Msg("ensureWarm: wait for ready failed")
			_ = p.destroyVm(ctx, vm)
			return err
		}
		warm++
		active++
	}
	return nil
}

func (p *Pool) countWarm(ctx context.Context, providerKind string) (int, error) {
	ready, err := p.store.ListVMsByProviderStatus(ctx, providerKind, domain.VMReady)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, vm := range ready {
		if vm.TaskID == "" {
			n++
		}
	}
	return n, nil
}
