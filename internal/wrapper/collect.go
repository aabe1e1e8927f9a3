package wrapper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samueljseay/hal9999/internal/remoteshell"
)

const collectTimeout = 30 * time.Second

// CollectResult is what the collect phase extracts from a finished run
// (spec.md §4.G collect phase).
type CollectResult struct {
	ExitCode int
	Plan     string // plan.md contents, empty if the run wasn't plan-first or never produced one
	Result   string // diff-stat.txt, or "exit code N" fallback
	PRURL    string
}

// ParseSentinel implements spec.md §4.G: "read the sentinel; any
// non-integer yields exit code 1" — this also covers the literal word
// "timeout" that Abort writes on a wall-clock budget breach (§9 open
// question iii: timeout must not surface as a numeric code, so it falls
// through to this same non-integer branch and becomes 1, distinguishable
// from a genuine "exit 1" only by the task's recorded failure reason).
func ParseSentinel(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 1
	}
	return n
}

// Collect reads the sentinel and result artifacts from a finished VM.
// Every sub-fetch is best-effort per spec.md §4.G except the sentinel
// read itself.
func Collect(ctx context.Context, sh remoteshell.Runner) (CollectResult, error) {
	ctx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	res, err := sh.Run(ctx, "cat /workspace/.hal/done 2>/dev/null")
	if err != nil {
		return CollectResult{}, fmt.Errorf("wrapper: collect sentinel: %w", err)
	}
	out := CollectResult{ExitCode: ParseSentinel(res.Stdout)}

	if plan, err := sh.Run(ctx, "cat /workspace/.hal/plan.md 2>/dev/null"); err == nil {
		out.Plan = plan.Stdout
	}

	diffStat, err := sh.Run(ctx, "cat /workspace/.hal/result/diff-stat.txt 2>/dev/null")
	if err == nil && strings.TrimSpace(diffStat.Stdout) != "" {
		out.Result = diffStat.Stdout
	} else {
		out.Result = fmt.Sprintf("exit code %d", out.ExitCode)
	}

	prURL, err := sh.Run(ctx, "cat /workspace/.hal/result/pr-url.txt 2>/dev/null")
	if err == nil {
		out.PRURL = strings.TrimSpace(prURL.Stdout)
	}

	return out, nil
}

// FetchDiff pulls the full diff patch into the local artifact store
// (best-effort, spec.md §4.G: "write git diff HEAD into result/").
func FetchDiff(ctx context.Context, sh remoteshell.Runner) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()
	res, err := sh.Run(ctx, "cat /workspace/.hal/result/diff.patch 2>/dev/null")
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}
