package vmpool

import (
	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/herrors"
)

func capacityError(total int) error {
	return herrors.Wrap(herrors.ErrCapacity, "pool at capacity (total max: %d)", total)
}

func notConfiguredError(slotName string) error {
	return herrors.Wrap(herrors.ErrConfig, "no provider configured for slot %q", slotName)
}

func errDriftMissing(vm *domain.VM) error {
	return herrors.Wrap(herrors.ErrProvider, "vm %s: provider reports instance gone", vm.ShortID())
}
