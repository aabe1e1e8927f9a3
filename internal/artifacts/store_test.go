package artifacts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetLogDiffPlanRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.PutLog("task-1", []byte("log output")))
	require.NoError(t, s.PutDiff("task-1", []byte("diff --git a b")))
	require.NoError(t, s.PutPlan("task-1", []byte("# plan")))

	log, err := s.GetLog("task-1")
	require.NoError(t, err)
	assert.Equal(t, "log output", string(log))

	diff, err := s.GetDiff("task-1")
	require.NoError(t, err)
	assert.Equal(t, "diff --git a b", string(diff))

	plan, err := s.GetPlan("task-1")
	require.NoError(t, err)
	assert.Equal(t, "# plan", string(plan))
}

func TestGetMissingKeyErrors(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetLog("does-not-exist")
	assert.Error(t, err)
}

func TestLargeBlobRoundTripsThroughCompression(t *testing.T) {
	s := openTestStore(t)
	large := strings.Repeat("a very repetitive line of agent output\n", 2000)
	require.NoError(t, s.PutLog("big-task", []byte(large)))

	got, err := s.GetLog("big-task")
	require.NoError(t, err)
	assert.Equal(t, large, string(got))
}
