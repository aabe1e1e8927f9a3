package localvm

import (
	"path/filepath"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
)

// pingGuestAgent opens the per-domain QMP guest-agent unix socket and sends
// guest-ping. A domain can be VIR_DOMAIN_RUNNING before its init system —
// and therefore the agent and sshd — are up, so libvirt's own state alone
// is not a reliable "ready" signal.
func pingGuestAgent(socketDir, domainName string) bool {
	sockPath := filepath.Join(socketDir, domainName+".sock")

	mon, err := qmp.NewSocketMonitor("unix", sockPath, 2*time.Second)
	if err != nil {
		return false
	}
	if err := mon.Connect(); err != nil {
		return false
	}
	defer mon.Disconnect()

	_, err = mon.Run([]byte(`{"execute":"guest-ping"}`))
	return err == nil
}
