package wrapper

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/samueljseay/hal9999/internal/remoteshell"
)

const (
	remoteDir     = "/workspace/.hal"
	remoteScript  = remoteDir + "/run.sh"
	uploadTimeout = 30 * time.Second
	launchTimeout = 15 * time.Second
)

// Upload base64-encodes script and pipes it to the VM over SSH stdin,
// writing it to remoteScript — kept as its own SSH round trip, separate
// from Launch, so the upload can carry arbitrary binary-safe data without
// the launch command's shell needing to also own stdin (spec.md §4.G.7).
func Upload(ctx context.Context, sh remoteshell.Runner, script string) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	encoded := base64.StdEncoding.EncodeToString([]byte(script))
	cmd := fmt.Sprintf("mkdir -p %s && base64 -d > %s && chmod +x %s", remoteDir, remoteScript, remoteScript)

	res, err := sh.RunWithStdin(ctx, cmd, strings.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("wrapper: upload: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("wrapper: upload: remote exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// Launch starts run.sh detached from the SSH session. The explicit
// </dev/null and trailing exit 0 are required (spec.md §4.G.8) — without
// them OpenSSH keeps the session open waiting on inherited descriptors
// from the backgrounded process.
func Launch(ctx context.Context, sh remoteshell.Runner) error {
	ctx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()

	cmd := fmt.Sprintf("cd %s && nohup ./run.sh </dev/null >/dev/null 2>&1 & exit 0", remoteDir)
	res, err := sh.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("wrapper: launch: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("wrapper: launch: remote exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}
