// Package localvm implements provider.Provider against a local libvirt/QEMU
// hypervisor (the "local virtualization" slot family spec.md §6 implies by
// giving it its own, much longer, idle-timeout default). Domain lifecycle
// (define/create/destroy/start/stop/list) goes through
// github.com/digitalocean/go-libvirt against qemu:///system; WaitForReady
// additionally pings the guest's QEMU guest agent over QMP
// (github.com/digitalocean/go-qemu/qmp), because a domain can report
// VIR_DOMAIN_RUNNING before its init system — and therefore sshd — is up.
package localvm

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"

	"github.com/samueljseay/hal9999/internal/provider"
)

// Config configures a Provider instance.
type Config struct {
	// LibvirtURI is the libvirt connection URI, e.g. "qemu:///system".
	LibvirtURI string
	// BaseImageDir holds the golden qcow2 base images referenced by
	// snapshotID. Building these images is out of scope (spec.md §1);
	// this provider only clones them.
	BaseImageDir string
	// WorkDir holds per-domain disk clones and cloud-init seed images.
	WorkDir string
	// QMPSocketDir holds the guest-agent QMP unix sockets libvirt creates
	// per domain (configured via the domain XML's qemu:commandline or
	// channel device).
	QMPSocketDir string
	Logger       zerolog.Logger
}

// Provider is the localvm-backed provider.Provider.
type Provider struct {
	cfg Config
	lv  *libvirt.Libvirt
}

// Dial connects to the libvirt daemon at cfg.LibvirtURI.
func Dial(ctx context.Context, cfg Config) (*Provider, error) {
	conn, err := net.Dial("unix", libvirtSocketPath(cfg.LibvirtURI))
	if err != nil {
		return nil, fmt.Errorf("localvm: dial libvirt: %w", err)
	}
	lv := libvirt.New(conn)
	if err := lv.ConnectToURI(libvirt.ConnectURI(cfg.LibvirtURI)); err != nil {
		return nil, fmt.Errorf("localvm: connect %s: %w", cfg.LibvirtURI, err)
	}
	return &Provider{cfg: cfg, lv: lv}, nil
}

// libvirtSocketPath extracts the local unix socket libvirtd listens on for
// a qemu:///system-style URI. Remote (TCP/TLS) URIs are out of scope.
func libvirtSocketPath(uri string) string {
	if strings.HasPrefix(uri, "qemu:///system") {
		return "/var/run/libvirt/libvirt-sock"
	}
	return "/var/run/libvirt/libvirt-sock"
}

// CreateInstance clones snapshotID's base qcow2 image, builds a cloud-init
// seed disk embedding sshKeyIDs and label as hostname (see seed.go), defines
// and starts the domain. The returned Instance's IP is usually empty —
// libvirt does not report a DHCP lease until the guest has actually
// requested one, so WaitForReady is where address discovery happens.
func (p *Provider) CreateInstance(ctx context.Context, region, plan, snapshotID, label string, sshKeyIDs []string) (provider.Instance, error) {
	diskPath, err := cloneBaseImage(p.cfg.BaseImageDir, p.cfg.WorkDir, snapshotID, label)
	if err != nil {
		return provider.Instance{}, fmt.Errorf("localvm: clone base image: %w", err)
	}

	seedPath, err := buildSeedImage(p.cfg.WorkDir, label, sshKeyIDs)
	if err != nil {
		return provider.Instance{}, fmt.Errorf("localvm: build seed image: %w", err)
	}

	domainXML := renderDomainXML(domainSpec{
		Name:     label,
		Plan:     plan,
		DiskPath: diskPath,
		SeedPath: seedPath,
	})

	dom, err := p.lv.DomainDefineXML(domainXML)
	if err != nil {
		return provider.Instance{}, fmt.Errorf("localvm: define domain %s: %w", label, err)
	}
	if err := p.lv.DomainCreate(dom); err != nil {
		return provider.Instance{}, fmt.Errorf("localvm: start domain %s: %w", label, err)
	}

	return provider.Instance{ID: label, Status: provider.StatusPending}, nil
}

// WaitForReady polls libvirt for a DHCP lease and, once one appears, pings
// the guest agent's QMP socket so a domain that is technically "running"
// but still booting does not get handed to the wrapper protocol early.
func (p *Provider) WaitForReady(ctx context.Context, id string, timeout time.Duration) (provider.Instance, error) {
	deadline := time.Now().Add(timeout)
	for {
		inst, err := p.GetInstance(ctx, id)
		if err == nil && inst.IP != "" && inst.IP != "127.0.0.1" {
			if pingGuestAgent(p.cfg.QMPSocketDir, id) {
				inst.Status = provider.StatusActive
				return inst, nil
			}
		}
		if time.Now().After(deadline) {
			return provider.Instance{}, fmt.Errorf("localvm: %s not ready after %s: %w", id, timeout, provider.ErrNotFound)
		}
		select {
		case <-ctx.Done():
			return provider.Instance{}, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// GetInstance reports a domain's current state and DHCP-leased IP.
func (p *Provider) GetInstance(ctx context.Context, id string) (provider.Instance, error) {
	dom, err := p.lv.DomainLookupByName(id)
	if err != nil {
		return provider.Instance{}, fmt.Errorf("%w: %s", provider.ErrNotFound, id)
	}

	state, _, err := p.lv.DomainGetState(dom, 0)
	if err != nil {
		return provider.Instance{}, fmt.Errorf("localvm: get state %s: %w", id, err)
	}

	ip := p.leaseIP(dom)
	status := provider.StatusPending
	if libvirt.DomainState(state) == libvirt.DomainRunning {
		status = provider.StatusActive
	}
	return provider.Instance{ID: id, IP: ip, Status: status}, nil
}

func (p *Provider) leaseIP(dom libvirt.Domain) string {
	ifaces, err := p.lv.DomainInterfaceAddresses(dom, uint32(libvirt.DomainInterfaceAddressesSrcLease), 0)
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			if addr.Addr != "" {
				return addr.Addr
			}
		}
	}
	return ""
}

// ListInstances lists domains whose name matches labelFilter as a prefix
// (empty filter lists all).
func (p *Provider) ListInstances(ctx context.Context, labelFilter string) ([]provider.Instance, error) {
	domains, _, err := p.lv.ConnectListAllDomains(-1, 0)
	if err != nil {
		return nil, fmt.Errorf("localvm: list domains: %w", err)
	}
	var out []provider.Instance
	for _, dom := range domains {
		if labelFilter != "" && !strings.HasPrefix(dom.Name, labelFilter) {
			continue
		}
		inst, err := p.GetInstance(ctx, dom.Name)
		if err != nil {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// DestroyInstance force-stops and undefines a domain plus its disk files.
// Idempotent: a missing domain is reported as ErrNotFound, which callers
// (reapErrorVms) treat as "already gone".
func (p *Provider) DestroyInstance(ctx context.Context, id string) error {
	dom, err := p.lv.DomainLookupByName(id)
	if err != nil {
		return fmt.Errorf("%w: %s", provider.ErrNotFound, id)
	}
	_ = p.lv.DomainDestroy(dom)
	if err := p.lv.DomainUndefineFlags(dom, libvirt.DomainUndefineManagedSave|libvirt.DomainUndefineSnapshotsMetadata|libvirt.DomainUndefineNvram); err != nil {
		return fmt.Errorf("localvm: undefine %s: %w", id, err)
	}
	removeDiskFiles(p.cfg.WorkDir, id)
	return nil
}

// StartInstance resumes a stopped (but still defined) domain.
func (p *Provider) StartInstance(ctx context.Context, id string) error {
	dom, err := p.lv.DomainLookupByName(id)
	if err != nil {
		return fmt.Errorf("%w: %s", provider.ErrNotFound, id)
	}
	return p.lv.DomainCreate(dom)
}

// StopInstance gracefully shuts down a running domain.
func (p *Provider) StopInstance(ctx context.Context, id string) error {
	dom, err := p.lv.DomainLookupByName(id)
	if err != nil {
		return fmt.Errorf("%w: %s", provider.ErrNotFound, id)
	}
	return p.lv.DomainShutdown(dom)
}
