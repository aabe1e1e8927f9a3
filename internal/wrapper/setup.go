package wrapper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samueljseay/hal9999/internal/herrors"
	"github.com/samueljseay/hal9999/internal/remoteshell"
)

const (
	sshProbeBudget  = 180 * time.Second
	sshProbeBackoff = 5 * time.Second
	cleanTimeout    = 30 * time.Second
	cloneTimeout    = 120 * time.Second
	installTimeout  = 300 * time.Second
	branchTimeout   = 30 * time.Second
)

// WaitForSSH probes the VM until a trivial remote command succeeds or the
// overall budget elapses (spec.md §4.G setup step 2).
func WaitForSSH(ctx context.Context, sh remoteshell.Runner) error {
	deadline := time.Now().Add(sshProbeBudget)
	var lastErr error
	for time.Now().Before(deadline) {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		res, err := sh.Run(probeCtx, "true")
		cancel()
		if err == nil && res.ExitCode == 0 {
			return nil
		}
		lastErr = err
		select {
		case <-time.After(sshProbeBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return herrors.Wrap(herrors.ErrTimeout, "ssh probe exceeded %s: %v", sshProbeBudget, lastErr)
}

// CleanWorkspace idempotently clears /workspace so a warm, reused VM
// starts from a clean tree (spec.md §4.G setup step 3).
func CleanWorkspace(ctx context.Context, sh remoteshell.Runner) error {
	ctx, cancel := context.WithTimeout(ctx, cleanTimeout)
	defer cancel()
	res, err := sh.Run(ctx, "rm -rf /workspace/* /workspace/.hal 2>/dev/null; mkdir -p /workspace")
	if err != nil {
		return herrors.Wrap(herrors.ErrSetup, "clean workspace: %v", err)
	}
	if res.ExitCode != 0 {
		return herrors.Wrap(herrors.ErrSetup, "clean workspace: remote exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// Clone clones repoURL into /workspace/<repoName>, rewriting the URL to
// carry githubToken for the clone step only if one is configured (spec.md
// §4.G setup step 4). Returns the local directory name the clone landed
// in.
func Clone(ctx context.Context, sh remoteshell.Runner, repoURL, githubToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	repoName := repoDirName(repoURL)
	cloneURL := repoURL
	if githubToken != "" {
		cloneURL = injectToken(repoURL, githubToken)
	}

	cmd := fmt.Sprintf("cd /workspace && git clone %s %s", remoteshell.Quote(cloneURL), remoteshell.Quote(repoName))
	res, err := sh.Run(ctx, cmd)
	if err != nil {
		return "", herrors.Wrap(herrors.ErrSetup, "clone: %v", err)
	}
	if res.ExitCode != 0 {
		return "", herrors.Wrap(herrors.ErrSetup, "clone: remote exited %d: %s", res.ExitCode, res.Stderr)
	}
	return repoName, nil
}

// InstallAgent runs the agent's install command, if one is configured
// (spec.md §4.G setup step 5). It adds no command -v guard: installCmd runs
// on every call, so whether a repeat run on a warm VM is idempotent depends
// on installCmd itself. Only PATH is forwarded; no secrets reach this step.
func InstallAgent(ctx context.Context, sh remoteshell.Runner, workdir, installCmd string) error {
	if installCmd == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	cmd := fmt.Sprintf("cd %s && %s", remoteshell.Quote(workdir), installCmd)
	res, err := sh.Run(ctx, cmd)
	if err != nil {
		return herrors.Wrap(herrors.ErrSetup, "install agent: %v", err)
	}
	if res.ExitCode != 0 {
		return herrors.Wrap(herrors.ErrSetup, "install agent: remote exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// BranchSetup detects the remote's default branch (for PR base), creates
// and checks out the feature branch, and sets a commit identity (spec.md
// §4.G setup step 6).
func BranchSetup(ctx context.Context, sh remoteshell.Runner, workdir, branch string) (defaultBranch string, err error) {
	ctx, cancel := context.WithTimeout(ctx, branchTimeout)
	defer cancel()

	detect := fmt.Sprintf("cd %s && git symbolic-ref refs/remotes/origin/HEAD 2>/dev/null | sed 's@^refs/remotes/origin/@@'", remoteshell.Quote(workdir))
	res, err := sh.Run(ctx, detect)
	if err != nil {
		return "", herrors.Wrap(herrors.ErrSetup, "detect default branch: %v", err)
	}
	defaultBranch = strings.TrimSpace(res.Stdout)
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	cmd := fmt.Sprintf(
		"cd %s && git checkout -b %s && git config user.name hal9999 && git config user.email hal9999@localhost",
		remoteshell.Quote(workdir), remoteshell.Quote(branch),
	)
	res, err = sh.Run(ctx, cmd)
	if err != nil {
		return defaultBranch, herrors.Wrap(herrors.ErrSetup, "branch setup: %v", err)
	}
	if res.ExitCode != 0 {
		return defaultBranch, herrors.Wrap(herrors.ErrSetup, "branch setup: remote exited %d: %s", res.ExitCode, res.Stderr)
	}
	return defaultBranch, nil
}

func repoDirName(repoURL string) string {
	trimmed := strings.TrimSuffix(repoURL, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	idx := strings.LastIndex(trimmed, "/")
	if idx == -1 {
		return trimmed
	}
	return trimmed[idx+1:]
}

func injectToken(repoURL, token string) string {
	const prefix = "https://"
	if !strings.HasPrefix(repoURL, prefix) {
		return repoURL
	}
	rest := strings.TrimPrefix(repoURL, prefix)
	return fmt.Sprintf("%sx-access-token:%s@%s", prefix, token, rest)
}
