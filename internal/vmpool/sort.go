package vmpool

import (
	"sort"

	"github.com/samueljseay/hal9999/internal/config"
)

func stableSortByPriority(slots []*config.Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Priority < slots[j].Priority
	})
}
