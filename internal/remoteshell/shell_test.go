package remoteshell

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withFakeSSH puts a stand-in "ssh" binary first on PATH that just echoes
// back its last argument (the remote command line) so Run/RunStreaming can
// be exercised without a real network/host.
func withFakeSSH(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ssh script is a posix shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ssh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestRunCapturesStdout(t *testing.T) {
	withFakeSSH(t, "#!/bin/sh\nfor a; do last=\"$a\"; done\necho \"last arg: $last\"\n")
	sh := New(Target{Host: "10.0.0.1", User: "hal"})
	res, err := sh.Run(context.Background(), "echo hi")
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "echo hi")
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunCapturesNonZeroExit(t *testing.T) {
	withFakeSSH(t, "#!/bin/sh\nexit 7\n")
	sh := New(Target{Host: "10.0.0.1"})
	res, err := sh.Run(context.Background(), "false")
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
}

func TestRunWithStdinPipesData(t *testing.T) {
	withFakeSSH(t, "#!/bin/sh\ncat\n")
	sh := New(Target{Host: "10.0.0.1"})
	res, err := sh.RunWithStdin(context.Background(), "cat", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, "payload", res.Stdout)
}

func TestRunStreamingInvokesLineFunc(t *testing.T) {
	withFakeSSH(t, "#!/bin/sh\nprintf 'one\\ntwo\\nthree\\n'\n")
	sh := New(Target{Host: "10.0.0.1"})
	var lines []string
	code, err := sh.RunStreaming(context.Background(), "stream", func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestQuoteEscapesShellMetacharacters(t *testing.T) {
	q := Quote("git", "clone", "https://example.com/a b.git")
	assert.Contains(t, q, "'https://example.com/a b.git'")
}

