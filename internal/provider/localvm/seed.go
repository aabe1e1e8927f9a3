package localvm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
)

const seedImageSize = 4 * 1024 * 1024 // 4MiB, comfortably fits user-data/meta-data

// buildSeedImage writes a FAT-formatted, "cidata"-labeled NoCloud seed disk
// (the volume label and filesystem cloud-init's NoCloud datasource scans
// for) embedding the injected SSH key(s) and the domain's hostname. Golden
// base images are out of scope (spec.md §1); this is the seed disk that
// configures a freshly cloned one at boot.
func buildSeedImage(workDir, label string, sshKeyIDs []string) (string, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(workDir, label+"-seed.img")

	d, err := diskfs.Create(path, seedImageSize, diskfs.SectorSize512)
	if err != nil {
		return "", fmt.Errorf("create seed image: %w", err)
	}

	fs, err := d.CreateFilesystem(disk.FilesystemSpec{

		Partition:   0,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: "cidata",
	})
	if err != nil {
		return "", fmt.Errorf("format seed image: %w", err)
	}

	if err := writeSeedFile(fs, "meta-data", []byte(fmt.Sprintf("instance-id: %s\nlocal-hostname: %s\n", label, label))); err != nil {
		return "", err
	}
	if err := writeSeedFile(fs, "user-data", userData(sshKeyIDs)); err != nil {
		return "", err
	}

	return path, nil
}

func writeSeedFile(fs filesystem.FileSystem, name string, data []byte) error {
	f, err := fs.OpenFile(name, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("open %s in seed image: %w", name, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s in seed image: %w", name, err)
	}
	return nil
}

// userData builds the minimal cloud-config injecting the configured SSH
// public keys; sshKeyIDs here are resolved public key material (resolution
// from a provider-side key id is a provider-specific concern out of scope).
func userData(sshKeyIDs []string) []byte {
	out := "#cloud-config\nssh_authorized_keys:\n"
	for _, key := range sshKeyIDs {
		out += fmt.Sprintf("  - %s\n", key)
	}
	return []byte(out)
}
