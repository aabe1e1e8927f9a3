package wrapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreds map[string]string

func (f fakeCreds) Get(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func testSpec() Spec {
	return Spec{
		PathEnv:      "/usr/bin:/bin",
		Workdir:      "/workspace/repo",
		AgentCommand: "claude-agent run",
		Branch:       "hal/abc12345",
		NoPR:         false,
		PlanFirst:    false,
		ExecContext:  "fix the bug",
		Credentials:  fakeCreds{"ANTHROPIC_API_KEY": "sk-test-123", "GITHUB_TOKEN": "ghp_test"},
	}
}

// R2: the same render input produces a byte-identical script every time.
func TestRenderIsDeterministic(t *testing.T) {
	spec := testSpec()

	a, err := Render(spec)
	require.NoError(t, err)
	b, err := Render(spec)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestRenderEmbedsCredentials(t *testing.T) {
	spec := testSpec()
	script, err := Render(spec)
	require.NoError(t, err)

	assert.Contains(t, script, "ANTHROPIC_API_KEY=sk-test-123")
	assert.Contains(t, script, "GITHUB_TOKEN=ghp_test")
}

func TestRenderPlanFirstIncludesPlanBlock(t *testing.T) {
	spec := testSpec()
	spec.PlanFirst = true
	spec.PlanContext = "write a plan"

	script, err := Render(spec)
	require.NoError(t, err)

	assert.Contains(t, script, "HAL_PLAN_CONTEXT_EOF")
	assert.Contains(t, script, "write a plan")
}

func TestScrubRemovesCredentialValues(t *testing.T) {
	spec := testSpec()
	script, err := Render(spec)
	require.NoError(t, err)

	scrubbed := Scrub(script)
	assert.NotContains(t, scrubbed, "sk-test-123")
	assert.NotContains(t, scrubbed, "ghp_test")
	assert.Contains(t, scrubbed, "[scrubbed]")
}

func TestParseSentinelNonIntegerYieldsOne(t *testing.T) {
	assert.Equal(t, 1, ParseSentinel("timeout"))
	assert.Equal(t, 1, ParseSentinel(""))
	assert.Equal(t, 0, ParseSentinel("0"))
	assert.Equal(t, 7, ParseSentinel("7\n"))
}
