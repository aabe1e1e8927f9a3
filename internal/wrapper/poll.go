package wrapper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samueljseay/hal9999/internal/remoteshell"
)

const (
	pollInterval  = 5 * time.Second
	pollProbeTime = 15 * time.Second
	deltaFetch    = 30 * time.Second
)

const pollProbeCmd = `test -f /workspace/.hal/done && echo HAL:DONE || echo HAL:WAITING
stat -c%s /workspace/.hal/output.log 2>/dev/null || echo 0`

// PollResult is one round's outcome: whether the sentinel is present and
// the remote output.log's current byte size.
type PollResult struct {
	Done bool
	Size int64
}

// Probe issues the single combined round-trip spec.md §4.G's poll phase
// requires: one SSH call that both checks the sentinel and reports
// output.log's size, so steady-state polling costs exactly one round
// trip per tick instead of two.
func Probe(ctx context.Context, sh remoteshell.Runner) (PollResult, error) {
	ctx, cancel := context.WithTimeout(ctx, pollProbeTime)
	defer cancel()

	res, err := sh.Run(ctx, pollProbeCmd)
	if err != nil {
		return PollResult{}, fmt.Errorf("wrapper: poll probe: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(lines) < 2 {
		return PollResult{}, fmt.Errorf("wrapper: poll probe: unexpected output %q", res.Stdout)
	}
	done := strings.TrimSpace(lines[0]) == "HAL:DONE"
	size, _ := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	return PollResult{Done: done, Size: size}, nil
}

// FetchDelta pulls the bytes of output.log beyond offset, up to delta
// bytes, using tail+head so only the new portion crosses the wire.
func FetchDelta(ctx context.Context, sh remoteshell.Runner, offset, delta int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, deltaFetch)
	defer cancel()

	cmd := fmt.Sprintf("tail -c +%d /workspace/.hal/output.log | head -c %d", offset+1, delta)
	res, err := sh.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("wrapper: fetch delta: %w", err)
	}
	return res.Stdout, nil
}

// Abort sends the best-effort kill+sentinel sequence for a run that
// exceeded its wall-clock budget (spec.md §4.G poll phase, final bullet).
// The literal word "timeout" written to done is intentional; Collect's
// sentinel parser treats any non-integer as exit code 1.
func Abort(ctx context.Context, sh remoteshell.Runner) error {
	ctx, cancel := context.WithTimeout(ctx, pollProbeTime)
	defer cancel()
	_, err := sh.Run(ctx, "pkill -f run.sh; echo timeout > /workspace/.hal/done")
	return err
}

// PollInterval is the fixed tick spacing between Probe calls.
func PollInterval() time.Duration { return pollInterval }
