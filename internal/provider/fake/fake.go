// Package fake is an in-memory provider.Provider double used by
// internal/vmpool's tests, following the constructor-configured-fake
// pattern the pack exercises with plain table-driven fixtures (e.g.
// cuemby-warren/pkg/scheduler's test tables) rather than a mocking
// framework: a small struct with injectable latency/failure knobs.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samueljseay/hal9999/internal/provider"
)

// Provider is a deterministic, in-memory provider.Provider. Zero value is
// usable; FailNextCreate makes exactly one CreateInstance call fail, and
// CreateLatency delays every CreateInstance call.
type Provider struct {
	mu sync.Mutex

	instances map[string]provider.Instance

	// FailNextCreate, if non-nil, is returned (and cleared) by the next
	// CreateInstance call — used to simulate a provider flake (scenario 3).
	FailNextCreate error

	// CreateLatency is slept at the start of CreateInstance, per-call.
	CreateLatency time.Duration

	// nextIP is incremented per created instance for distinct addresses.
	nextIP int
}

// New returns an empty fake provider.
func New() *Provider {
	return &Provider{instances: map[string]provider.Instance{}}
}

func (p *Provider) CreateInstance(ctx context.Context, region, plan, snapshotID, label string, sshKeyIDs []string) (provider.Instance, error) {
	if p.CreateLatency > 0 {
		select {
		case <-time.After(p.CreateLatency):
		case <-ctx.Done():
			return provider.Instance{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailNextCreate != nil {
		err := p.FailNextCreate
		p.FailNextCreate = nil
		return provider.Instance{}, err
	}

	if p.instances == nil {
		p.instances = map[string]provider.Instance{}
	}
	p.nextIP++
	inst := provider.Instance{
		ID:     uuid.NewString(),
		IP:     fmt.Sprintf("10.0.0.%d", p.nextIP),
		Status: provider.StatusActive,
	}
	p.instances[inst.ID] = inst
	return inst, nil
}

func (p *Provider) WaitForReady(ctx context.Context, id string, timeout time.Duration) (provider.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		return provider.Instance{}, provider.ErrNotFound
	}
	return inst, nil
}

func (p *Provider) GetInstance(ctx context.Context, id string) (provider.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		return provider.Instance{}, provider.ErrNotFound
	}
	return inst, nil
}

func (p *Provider) ListInstances(ctx context.Context, labelFilter string) ([]provider.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst)
	}
	return out, nil
}

func (p *Provider) DestroyInstance(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.instances[id]; !ok {
		return provider.ErrNotFound
	}
	delete(p.instances, id)
	return nil
}

func (p *Provider) StartInstance(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		return provider.ErrNotFound
	}
	inst.Status = provider.StatusActive
	p.instances[id] = inst
	return nil
}

func (p *Provider) StopInstance(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		return provider.ErrNotFound
	}
	inst.Status = provider.StatusPending
	p.instances[id] = inst
	return nil
}

// InstanceCount reports how many instances currently exist, for test
// assertions.
func (p *Provider) InstanceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}
