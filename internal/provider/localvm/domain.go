package localvm

import (
	"fmt"
	"os"
	"path/filepath"
)

// domainSpec carries the values substituted into the libvirt domain XML.
// Plan selects the vCPU/memory tier; the mapping is intentionally tiny —
// richer plan catalogs are a provider-specific concern out of scope here.
type domainSpec struct {
	Name     string
	Plan     string
	DiskPath string
	SeedPath string
}

func planResources(plan string) (vcpus int, memoryMiB int) {
	switch plan {
	case "large":
		return 4, 8192
	case "medium":
		return 2, 4096
	default:
		return 1, 2048
	}
}

// renderDomainXML builds the minimal libvirt domain definition: one qcow2
// system disk (the cloned base image) and one raw NoCloud seed disk
// attached as a secondary virtio-blk device, matching what cloud-init
// expects to find.
func renderDomainXML(spec domainSpec) string {
	vcpus, memoryMiB := planResources(spec.Plan)
	return fmt.Sprintf(`<domain type='kvm'>
  <name>%s</name>
  <memory unit='MiB'>%d</memory>
  <vcpu>%d</vcpu>
  <os><type arch='x86_64'>hvm</type></os>
  <devices>
    <disk type='file' device='disk'>
      <driver name='qemu' type='qcow2'/>
      <source file='%s'/>
      <target dev='vda' bus='virtio'/>
    </disk>
    <disk type='file' device='disk'>
      <driver name='qemu' type='raw'/>
      <source file='%s'/>
      <target dev='vdb' bus='virtio'/>
    </disk>
    <interface type='network'>
      <source network='default'/>
      <model type='virtio'/>
    </interface>
    <channel type='unix'>
      <target type='virtio' name='org.qemu.guest_agent.0'/>
    </channel>
    <console type='pty'/>
  </devices>
</domain>`, spec.Name, memoryMiB, vcpus, spec.DiskPath, spec.SeedPath)
}

// cloneBaseImage copies the golden qcow2 image referenced by snapshotID
// into workDir under a per-domain name. A real implementation would use
// qemu-img create -b (copy-on-write backing file) rather than a full byte
// copy; that optimization is left for the image-building tooling that is
// out of scope per spec.md §1.
func cloneBaseImage(baseImageDir, workDir, snapshotID, label string) (string, error) {
	src := filepath.Join(baseImageDir, snapshotID+".qcow2")
	dst := filepath.Join(workDir, label+".qcow2")

	in, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read base image %s: %w", src, err)
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, in, 0644); err != nil {
		return "", fmt.Errorf("write clone %s: %w", dst, err)
	}
	return dst, nil
}

// removeDiskFiles best-effort deletes a domain's cloned disk and seed
// image after DestroyInstance.
func removeDiskFiles(workDir, label string) {
	os.Remove(filepath.Join(workDir, label+".qcow2"))
	os.Remove(filepath.Join(workDir, label+"-seed.img"))
}
