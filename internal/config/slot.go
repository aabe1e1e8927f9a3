// Package config loads the provider slot list and credential oracle
// described in spec.md §6. Slots come from two layers, env overriding
// file: an optional YAML file (gopkg.in/yaml.v3, read only from the path
// given by cmd/hal's --config flag) supplies defaults,
// and HAL_<PROV>_* environment variables override individual fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/elliotchance/orderedmap"
)

// Slot describes one configured provider backend and its capacity/warm-pool
// parameters (spec.md §3 "provider slot").
type Slot struct {
	Name          string   `yaml:"name"`
	Provider      string   `yaml:"provider"`
	SnapshotID    string   `yaml:"snapshotId"`
	Region        string   `yaml:"region"`
	Plan          string   `yaml:"plan"`
	MaxPoolSize   int      `yaml:"maxPoolSize"`
	Priority      int      `yaml:"priority"`
	IdleTimeoutMs int      `yaml:"idleTimeoutMs"`
	MinReady      int      `yaml:"minReady"`
	SSHKeyIDs     []string `yaml:"sshKeyIds"`
}

// defaultIdleTimeoutMs mirrors spec.md §6's per-provider-family default:
// local virtualization tooling keeps VMs warm longer than cloud backends
// because cold-starting a local libvirt domain from a golden image is
// cheap but still not free, while cloud providers bill per minute.
func defaultIdleTimeoutMs(providerKind string) int {
	if providerKind == "localvm" {
		return 1800_000
	}
	return 300_000
}

// SlotList is an insertion-ordered set of slots. Order matters: spec.md
// §4.F's pickSlot iterates slots by ascending priority and requires ties to
// preserve configured order, which a plain Go map cannot guarantee.
type SlotList struct {
	om *orderedmap.OrderedMap[string, *Slot]
}

// NewSlotList returns an empty ordered slot list.
func NewSlotList() *SlotList {
	return &SlotList{om: orderedmap.NewOrderedMap[string, *Slot]()}
}

// Add appends or replaces a slot, preserving the position of the first
// insertion if the name already exists.
func (l *SlotList) Add(s *Slot) {
	l.om.Set(s.Name, s)
}

// Get looks up a slot by name.
func (l *SlotList) Get(name string) (*Slot, bool) {
	return l.om.Get(name)
}

// Ordered returns the slots in configured order, the order pickSlot MUST
// iterate in.
func (l *SlotList) Ordered() []*Slot {
	out := make([]*Slot, 0, l.om.Len())
	for el := l.om.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// Len reports the number of configured slots.
func (l *SlotList) Len() int { return l.om.Len() }

// FileConfig is the optional slot config file's shape: a plain list of slots,
// loaded before environment overrides are applied.
type FileConfig struct {
	Slots []*Slot `yaml:"slots"`
}

// Load builds the slot list from, in order of increasing precedence: the
// built-in defaults for names listed in providersCSV (cmd/hal's
// --providers flag), an optional YAML
// file, then HAL_<PROV>_* environment overrides.
func Load(providersCSV string, fileCfg *FileConfig, getenv func(string) string) (*SlotList, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	list := NewSlotList()

	if fileCfg != nil {
		for i, s := range fileCfg.Slots {
			if s.Name == "" {
				return nil, fmt.Errorf("config: slot at index %d has no name", i)
			}
			cp := *s
			if cp.MaxPoolSize == 0 {
				cp.MaxPoolSize = 5
			}
			if cp.IdleTimeoutMs == 0 {
				cp.IdleTimeoutMs = defaultIdleTimeoutMs(cp.Provider)
			}
			list.Add(&cp)
		}
	}

	names := splitCSV(providersCSV)
	for i, name := range names {
		slot, ok := list.Get(name)
		if !ok {
			slot = &Slot{
				Name:          name,
				Provider:      name,
				MaxPoolSize:   5,
				Priority:      i,
				IdleTimeoutMs: defaultIdleTimeoutMs(name),
			}
			list.Add(slot)
		}
		applyEnvOverrides(slot, getenv)
	}

	return list, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applyEnvOverrides mutates slot in place from HAL_<PROV>_* environment
// variables, where <PROV> is the upper-cased slot name.
func applyEnvOverrides(slot *Slot, getenv func(string) string) {
	prefix := "HAL_" + strings.ToUpper(slot.Name) + "_"

	if v := getenv(prefix + "SNAPSHOT_ID"); v != "" {
		slot.SnapshotID = v
	}
	if v := getenv(prefix + "REGION"); v != "" {
		slot.Region = v
	}
	if v := getenv(prefix + "PLAN"); v != "" {
		slot.Plan = v
	}
	if v := getenv(prefix + "MAX_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			slot.MaxPoolSize = n
		}
	}
	if v := getenv(prefix + "IDLE_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			slot.IdleTimeoutMs = n * 1000
		}
	}
	if v := getenv(prefix + "MIN_READY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			slot.MinReady = n
		}
	}
	if v := getenv("HAL_SSH_KEY_ID"); v != "" {
		slot.SSHKeyIDs = []string{v}
	}
}
