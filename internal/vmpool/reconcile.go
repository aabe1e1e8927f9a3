package vmpool

import (
	"context"
	"errors"
	"time"

	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/metrics"
	"github.com/samueljseay/hal9999/internal/provider"
)

// ReconcileResult summarizes one Reconcile pass for `hal pool sync` to
// report (spec.md §4.F.11: "Return {updated, destroyed} for reporting").
// Updated counts provisioning rows promoted to ready plus everything the
// housekeeping pass handles (stale tasks force-failed, orphaned VMs
// released, stale-provisioning rows errored, idle and error VMs
// destroyed); Destroyed counts only the rows the drift checks mark
// destroyed (slot no longer configured, or instance gone on the provider).
type ReconcileResult struct {
	Updated   int
	Destroyed int
}

// Reconcile is the periodic drift-correction pass spec.md §4.F.11
// describes, used by `hal pool sync` and by orchestrator startup:
//   - any DB-active VM whose slot is no longer configured is marked
//     destroyed outright (the pool has no provider client left to ask);
//   - every remaining DB-active VM is checked against the provider via
//     GetInstance: a provisioning row the provider now reports active is
//     promoted to ready with its network info filled in; any row the
//     provider no longer knows about (ErrNotFound) is marked destroyed;
//   - the full reap suite runs (idle, stale-provisioning, error,
//     orphans), exactly as the periodic housekeeping loop does;
//   - each slot's live provider instance list is compared against the
//     store and any instance unknown to it is logged, not destroyed —
//     per §9 open question ii's documented resolution in DESIGN.md,
//     destroying an instance this process never created is judged too
//     risky for an automatic pass;
//   - ensureWarm tops every slot back up to its minReady floor.
func (p *Pool) Reconcile(ctx context.Context) (ReconcileResult, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	var result ReconcileResult

	rows, err := p.store.ListVMsByStatus(ctx, activeVMStates...)
	if err != nil {
		return result, err
	}

	for _, vm := range rows {
		slot := p.slotForProvider(vm.Provider)
		if slot == nil {
			p.log.Warn().Str("vm_id", vm.ID).Str("provider", vm.Provider).
				Msg("reconcile: vm belongs to no configured slot, marking destroyed")
			if err := p.markRowDestroyed(ctx, vm); err != nil {
				p.log.Error().Err(err).Str("vm_id", vm.ID).Msg("reconcile: mark destroyed failed")
				continue
			}
			result.Destroyed++
			continue
		}

		if p.reconcileLiveInstance(ctx, vm, &result) != nil {
			continue
		}
	}

	for _, slot := range p.slots.Ordered() {
		if err := p.logUnknownInstances(ctx, slot.Provider); err != nil {
			p.log.Error().Err(err).Str("slot", slot.Name).Msg("reconcile: list instances failed")
		}
	}

	n, err := p.runHousekeeping(ctx)
	result.Updated += n
	if err != nil {
		p.log.Error().Err(err).Msg("reconcile: housekeeping failed")
	}

	if err := p.ensureWarmAll(ctx); err != nil {
		p.log.Error().Err(err).Msg("reconcile: ensureWarm failed")
	}

	return result, nil
}

// reconcileLiveInstance calls GetInstance for one DB-active row and
// corrects drift: promotes a provisioning row the provider now reports
// active, or marks the row destroyed if the provider has forgotten it.
func (p *Pool) reconcileLiveInstance(ctx context.Context, vm *domain.VM, result *ReconcileResult) error {
	prov, err := p.providerFor(vm.Provider)
	if err != nil {
		p.log.Error().Err(err).Str("vm_id", vm.ID).Msg("reconcile: no provider client for vm")
		return err
	}

	inst, err := prov.GetInstance(ctx, vm.ID)
	switch {
	case errors.Is(err, provider.ErrNotFound):
		p.log.Warn().Str("vm_id", vm.ID).Str("provider", vm.Provider).
			Msg("reconcile: provider reports instance gone, marking destroyed")
		if markErr := p.markRowDestroyed(ctx, vm); markErr != nil {
			p.log.Error().Err(markErr).Str("vm_id", vm.ID).Msg("reconcile: mark destroyed failed")
			return markErr
		}
		result.Destroyed++
		return nil
	case err != nil:
		p.log.Error().Err(err).Str("vm_id", vm.ID).Msg("reconcile: GetInstance failed")
		return err
	case vm.Status == domain.VMProvisioning && inst.Status == provider.StatusActive:
		vm.Status = domain.VMReady
		vm.Address = inst.IP
		vm.SSHPort = inst.SSHPort
		vm.UpdatedAt = time.Now().UTC()
		if err := p.store.UpdateVM(ctx, vm); err != nil {
			p.log.Error().Err(err).Str("vm_id", vm.ID).Msg("reconcile: promote to ready failed")
			return err
		}
		result.Updated++
		return nil
	default:
		return nil
	}
}

// markRowDestroyed transitions a row straight to destroyed without a
// provider round trip — used when the pool has already established the
// provider has no record of the instance (or no provider client for its
// slot at all), so there is nothing left to call DestroyInstance on.
func (p *Pool) markRowDestroyed(ctx context.Context, vm *domain.VM) error {
	vm.Status = domain.VMDestroyed
	vm.TaskID = ""
	vm.IdleSince = nil
	vm.UpdatedAt = time.Now().UTC()
	return p.store.UpdateVM(ctx, vm)
}

// logUnknownInstances compares one slot's live provider instances against
// every store row for that provider (including terminal ones): an
// instance with no matching row, or matching only a destroyed row, is an
// unknown provider instance — logged as a candidate leak, not destroyed
// (§9 open question ii).
func (p *Pool) logUnknownInstances(ctx context.Context, providerKind string) error {
	prov, err := p.providerFor(providerKind)
	if err != nil {
		return nil
	}

	live, err := prov.ListInstances(ctx, "")
	if err != nil {
		return err
	}
	if len(live) == 0 {
		return nil
	}

	all, err := p.store.ListVMs(ctx)
	if err != nil {
		return err
	}

	for _, inst := range live {
		row := findVM(all, inst.ID)
		if row == nil || row.Provider != providerKind || row.Status == domain.VMDestroyed {
			p.log.Warn().Str("instance_id", inst.ID).Str("provider", providerKind).
				Msg("reconcile: live instance has no matching non-destroyed store row")
		}
	}
	return nil
}

func findVM(rows []*domain.VM, id string) *domain.VM {
	for _, vm := range rows {
		if vm.ID == id {
			return vm
		}
	}
	return nil
}
