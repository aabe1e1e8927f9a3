// Package provider defines the contract the pool consumes to create and
// destroy instances (component B, spec.md §4.B). The pool never touches a
// cloud or hypervisor API directly; it only ever sees this interface, so
// the domain-specific client libraries live in the sub-packages that
// implement it (internal/provider/localvm, internal/provider/fake).
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an instance is absent on the provider —
// spec.md §4.B: "fails with ErrNotFound when an instance is absent".
var ErrNotFound = errors.New("provider: instance not found")

// InstanceStatus mirrors the provider's own notion of instance state, kept
// deliberately coarse: the pool only cares whether an instance is active.
type InstanceStatus string

const (
	StatusPending InstanceStatus = "pending"
	StatusActive  InstanceStatus = "active"
	StatusError   InstanceStatus = "error"
)

// Instance is what a Provider call reports back about one backing machine.
type Instance struct {
	ID      string
	IP      string // may be empty until the provider assigns one
	SSHPort int    // 0 means "use the default"
	Status  InstanceStatus
}

// Provider is the capability set a pool slot's backend must offer:
// create, destroy, start, stop, get, list, and wait-for-ready (spec.md §9
// "Polymorphism"). Snapshot operations are out of scope for the pool core.
type Provider interface {
	// CreateInstance may return before IP assignment; Instance.IP may be
	// empty in the returned value.
	CreateInstance(ctx context.Context, region, plan, snapshotID, label string, sshKeyIDs []string) (Instance, error)

	// WaitForReady blocks until the instance reports active with a
	// non-loopback IP, or the timeout elapses.
	WaitForReady(ctx context.Context, id string, timeout time.Duration) (Instance, error)

	GetInstance(ctx context.Context, id string) (Instance, error)
	ListInstances(ctx context.Context, labelFilter string) ([]Instance, error)
	DestroyInstance(ctx context.Context, id string) error
	StartInstance(ctx context.Context, id string) error
	StopInstance(ctx context.Context, id string) error
}
