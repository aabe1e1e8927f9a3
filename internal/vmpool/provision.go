package vmpool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/samueljseay/hal9999/internal/config"
	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/herrors"
	"github.com/samueljseay/hal9999/internal/metrics"
)

// provisionVm picks a slot and provisions a VM on it (spec.md §4.F.2).
func (p *Pool) provisionVm(ctx context.Context) (*domain.VM, error) {
	slot, err := p.pickSlot(ctx)
	if err != nil {
		return nil, err
	}
	return p.provisionVmForSlot(ctx, slot)
}

// provisionVmForSlot is the two-phase provisioning sequence: insert a
// provisioning row under a temporary provisioning:<uuid> id (so the slot's capacity
// accounting includes it during the possibly-slow provider call), call
// CreateInstance, then atomically rename the row to the real id on
// success or mark it error on failure.
func (p *Pool) provisionVmForSlot(ctx context.Context, slot *config.Slot) (*domain.VM, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProvisionDuration, slot.Provider)

	tempID := fmt.Sprintf("provisioning:%s", uuid.NewString())
	now := time.Now().UTC()

	vm := &domain.VM{
		ID:        tempID,
		Label:     fmt.Sprintf("hal-%s", tempID[len("provisioning:"):len("provisioning:")+8]),
		Provider:  slot.Provider,
		Status:    domain.VMProvisioning,
		Image:     slot.SnapshotID,
		Region:    slot.Region,
		Plan:      slot.Plan,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.CreateVM(ctx, vm); err != nil {
		return nil, fmt.Errorf("vmpool: insert provisioning row: %w", err)
	}

	prov, err := p.providerFor(slot.Name)
	if err != nil {
		p.markVMError(ctx, vm, err)
		return nil, err
	}

	inst, err := prov.CreateInstance(ctx, slot.Region, slot.Plan, slot.SnapshotID, vm.Label, slot.SSHKeyIDs)
	if err != nil {
		wrapped := herrors.Wrap(herrors.ErrProvider, "create instance for slot %s: %v", slot.Name, err)
		p.markVMError(ctx, vm, wrapped)
		return nil, wrapped
	}

	if err := p.store.RenameVMID(ctx, vm.ID, inst.ID); err != nil {
		return nil, fmt.Errorf("vmpool: rename vm %s -> %s: %w", vm.ID, inst.ID, err)
	}
	vm.ID = inst.ID
	vm.Address = inst.IP
	vm.SSHPort = inst.SSHPort
	vm.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateVM(ctx, vm); err != nil {
		return nil, err
	}

	metrics.VMsTotal.WithLabelValues(slot.Provider, string(domain.VMProvisioning)).Inc()
	return vm, nil
}

func (p *Pool) markVMError(ctx context.Context, vm *domain.VM, cause error) {
	vm.Status = domain.VMError
	vm.LastError = cause.Error()
	vm.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateVM(ctx, vm); err != nil {
		p.log.Error().Err(err).Str("vm_id", vm.ID).Msg("failed to mark vm error")
	}
}

// waitForVm blocks on Provider.WaitForReady then transitions the row to
// ready and fills network info. Errors leave the row in provisioning; the
// caller is expected to destroyVm it (spec.md §4.F.3).
func (p *Pool) waitForVm(ctx context.Context, vm *domain.VM, timeout time.Duration) (*domain.VM, error) {
	prov, err := p.providerFor(vm.Provider)
	if err != nil {
		return nil, err
	}

	inst, err := prov.WaitForReady(ctx, vm.ID, timeout)
	if err != nil {
		return nil, herrors.Wrap(herrors.ErrTimeout, "vm %s not ready: %v", vm.ShortID(), err)
	}

	vm.Status = domain.VMReady
	vm.Address = inst.IP
	vm.SSHPort = inst.SSHPort
	vm.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateVM(ctx, vm); err != nil {
		return nil, err
	}
	return vm, nil
}
