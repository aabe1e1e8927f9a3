package vmpool

import (
	"context"

	"github.com/samueljseay/hal9999/internal/domain"
)

// SlotStat summarizes one configured slot's current occupancy, surfaced by
// `hal pool stats` (spec.md §5 CLI operations).
type SlotStat struct {
	Name        string
	Provider    string
	MaxPoolSize int
	MinReady    int
	Active      int
	Warm        int
}

// Stats reports occupancy for every configured slot.
func (p *Pool) Stats(ctx context.Context) ([]SlotStat, error) {
	out := make([]SlotStat, 0, p.slots.Len())
	for _, slot := range p.slots.Ordered() {
		active, err := p.store.CountVMsByProviderStatus(ctx, slot.Provider, activeVMStates...)
		if err != nil {
			return nil, err
		}
		warm, err := p.countWarm(ctx, slot.Provider)
		if err != nil {
			return nil, err
		}
		out = append(out, SlotStat{
			Name:        slot.Name,
			Provider:    slot.Provider,
			MaxPoolSize: slot.MaxPoolSize,
			MinReady:    slot.MinReady,
			Active:      active,
			Warm:        warm,
		})
	}
	return out, nil
}

// ListAll returns every VM row, for debugging; no cmd/hal command calls it.
func (p *Pool) ListAll(ctx context.Context) ([]*domain.VM, error) {
	return p.store.ListVMs(ctx)
}
