package tasklog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func TestWriterAppendOutputAndSeal(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "task-1")
	require.NoError(t, err)

	require.NoError(t, w.AppendOutput(StreamStdout, "hello\n"))
	require.NoError(t, w.Seal(0))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, "logs", "task-1.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "HAL9999-DONE exit=0")
}

func TestWriterSealIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "task-1")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Seal(1))
	require.NoError(t, w.Seal(1))

	data, err := os.ReadFile(filepath.Join(dir, "logs", "task-1.log"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "HAL9999-DONE"))
}

func TestEmitAssignsMonotoneSeq(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "task-1")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Emit(Event{Type: EventTaskStart, RepoURL: "https://example.com/repo"}))
	require.NoError(t, w.Emit(Event{Type: EventPhase, Name: PhaseVMAcquire}))
	require.NoError(t, w.Emit(Event{Type: EventTaskEnd, Status: "completed"}))

	data, err := os.ReadFile(filepath.Join(dir, "events", "task-1.jsonl"))
	require.NoError(t, err)
	lines := splitNonEmptyLines(string(data))
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"seq":0`)
	assert.Contains(t, lines[1], `"seq":1`)
	assert.Contains(t, lines[2], `"seq":2`)
}

func TestParseSentinelCoercesNonNumericToOne(t *testing.T) {
	assert.Equal(t, 0, parseSentinel("---HAL9999-DONE exit=0---"))
	assert.Equal(t, 1, parseSentinel("---HAL9999-DONE exit=timeout---"))
	assert.Equal(t, 1, parseSentinel("garbage"))
}

func TestTailLogStopsAtSentinel(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "task-2")
	require.NoError(t, err)

	require.NoError(t, w.AppendOutput(StreamStdout, "line one\n"))

	ch, err := TailLog(dir, "task-2")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		w.AppendOutput(StreamStdout, "line two\n")
		w.Seal(0)
		w.Close()
	}()

	var sawSentinel bool
	var lines []string
	timeout := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				assert.True(t, sawSentinel)
				return
			}
			lines = append(lines, line.Text)
			if line.Done {
				sawSentinel = true
				assert.Equal(t, 0, line.ExitCode)
			}
		case <-timeout:
			t.Fatal("timed out waiting for tail to see sentinel")
		}
	}
}
