// Package fake is an in-memory remoteshell.Runner double used by
// internal/orchestrator's tests, following the same
// constructor-configured-fake pattern as internal/provider/fake: a small
// struct with injectable content/failure knobs, pattern-matching the
// fixed command set internal/wrapper actually issues rather than
// emulating a real shell.
package fake

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/samueljseay/hal9999/internal/remoteshell"
)

// Shell is a deterministic double for one VM's remote session. Zero
// value answers every setup/launch command with success and an empty
// workspace; tests configure the fields below to script a run's outcome.
type Shell struct {
	mu sync.Mutex

	// DoneAfterProbes is how many Probe-shaped calls (the poll loop's
	// combined sentinel+size check) must elapse before the sentinel
	// reports done. 0 means the first probe already reports done.
	DoneAfterProbes int
	probeCalls      int

	// OutputLog is the full contents the agent has written so far;
	// FetchDelta serves slices of it.
	OutputLog string

	// ExitCode is written into /workspace/.hal/done once probing reports
	// done, read back by Collect's sentinel parse.
	ExitCode int

	PlanMD    string
	DiffStat  string
	PRURL     string
	DiffPatch string

	// FailWith, if non-nil, is returned by every Run/RunWithStdin call —
	// simulates an SSH session to a VM that no longer answers.
	FailWith error

	// Calls records every command issued, in order, for test assertions.
	Calls []string
}

// New returns a Shell that reports an immediately-done, successful run.
func New() *Shell {
	return &Shell{}
}

func (s *Shell) Run(ctx context.Context, command string) (remoteshell.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, command)
	if s.FailWith != nil {
		return remoteshell.Result{}, s.FailWith
	}

	switch {
	case command == "true":
		return remoteshell.Result{ExitCode: 0}, nil
	case strings.Contains(command, "test -f /workspace/.hal/done"):
		s.probeCalls++
		status := "HAL:WAITING"
		if s.probeCalls > s.DoneAfterProbes {
			status = "HAL:DONE"
		}
		return remoteshell.Result{Stdout: status + "\n" + strconv.Itoa(len(s.OutputLog)) + "\n"}, nil
	case strings.HasPrefix(command, "tail -c"):
		var start, n int
		if _, err := fmt.Sscanf(command, "tail -c +%d /workspace/.hal/output.log | head -c %d", &start, &n); err != nil || start < 1 || n < 0 {
			return remoteshell.Result{Stdout: s.OutputLog}, nil
		}
		from, to := start-1, start-1+n
		if from > len(s.OutputLog) {
			from = len(s.OutputLog)
		}
		if to > len(s.OutputLog) {
			to = len(s.OutputLog)
		}
		return remoteshell.Result{Stdout: s.OutputLog[from:to]}, nil
	case strings.Contains(command, "cat /workspace/.hal/done"):
		return remoteshell.Result{Stdout: strconv.Itoa(s.ExitCode)}, nil
	case strings.Contains(command, "plan.md"):
		return remoteshell.Result{Stdout: s.PlanMD}, nil
	case strings.Contains(command, "diff-stat.txt"):
		return remoteshell.Result{Stdout: s.DiffStat}, nil
	case strings.Contains(command, "pr-url.txt"):
		return remoteshell.Result{Stdout: s.PRURL}, nil
	case strings.Contains(command, "diff.patch"):
		return remoteshell.Result{Stdout: s.DiffPatch}, nil
	case strings.Contains(command, "symbolic-ref"):
		return remoteshell.Result{Stdout: "main\n"}, nil
	default:
		return remoteshell.Result{ExitCode: 0}, nil
	}
}

func (s *Shell) RunWithStdin(ctx context.Context, command string, stdin io.Reader) (remoteshell.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, command)
	if s.FailWith != nil {
		return remoteshell.Result{}, s.FailWith
	}
	_, _ = io.Copy(io.Discard, stdin)
	return remoteshell.Result{ExitCode: 0}, nil
}

// CallCount reports how many issued commands contain substr, for
// assertions like "the agent install step ran exactly once".
func (s *Shell) CallCount(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Calls {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}
