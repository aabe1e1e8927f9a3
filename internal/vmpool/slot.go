package vmpool

import (
	"context"

	"github.com/samueljseay/hal9999/internal/config"
	"github.com/samueljseay/hal9999/internal/domain"
)

// activeVMStates are the states that count against a slot's maxPoolSize
// (V1): provisioning, ready, assigned.
var activeVMStates = []domain.VMStatus{domain.VMProvisioning, domain.VMReady, domain.VMAssigned}

// pickSlot iterates configured slots in ascending priority (ties preserve
// configured order, per spec.md §4.F tie-break rule) and returns the first
// slot whose active-VM count is below maxPoolSize. Returns capacityError
// if every slot is full.
func (p *Pool) pickSlot(ctx context.Context) (*config.Slot, error) {
	slots := p.slots.Ordered()

	total := 0
	for _, s := range slots {
		total += s.MaxPoolSize
	}

	for _, s := range orderedByPriority(slots) {
		count, err := p.store.CountVMsByProviderStatus(ctx, s.Provider, activeVMStates...)
		if err != nil {
			return nil, err
		}
		if count < s.MaxPoolSize {
			return s, nil
		}
	}
	return nil, capacityError(total)
}

// orderedByPriority performs a stable sort by ascending Priority, so equal
// priorities preserve the slice's original (configured) order — Go's
// sort.SliceStable is the direct idiomatic tool for that guarantee.
func orderedByPriority(slots []*config.Slot) []*config.Slot {
	out := make([]*config.Slot, len(slots))
	copy(out, slots)
	stableSortByPriority(out)
	return out
}

// slotForProvider returns the first configured slot whose Provider field
// matches, or nil. VM rows only record the provider kind (e.g.
// "digitalocean"), not the slot name, so this is a best-effort lookup for
// configs where each provider kind has exactly one slot.
func (p *Pool) slotForProvider(providerKind string) *config.Slot {
	for _, s := range p.slots.Ordered() {
		if s.Provider == providerKind {
			return s
		}
	}
	return nil
}
