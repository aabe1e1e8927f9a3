// Package wrapper is the Wrapper Protocol (component G): it renders the
// bash script the orchestrator ships to a VM, uploads it over a stdin
// pipe, launches it detached, polls for completion, and collects the
// result. No teacher analogue exists (warren executes containers
// in-process via containerd); built in the teacher's structural idiom —
// template-rendered payload, small single-purpose files per phase — using
// libraries the pack supplies for the concerns that actually arise here.
package wrapper

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	envsubst "github.com/a8m/envsubst"
)

//go:embed wrapper.sh.tmpl
var scriptTemplateSrc string

var scriptTemplate = template.Must(template.New("wrapper.sh").Parse(scriptTemplateSrc))

// credentialVarOrder fixes the env vars the wrapper may load, in the order
// spec.md §4.G lists them, so rendered scripts are deterministic (R2) even
// though config.Credentials is a plain map with no ordering guarantee.
var credentialVarOrder = []string{
	"ANTHROPIC_API_KEY",
	"CLAUDE_CODE_OAUTH_TOKEN",
	"OPENAI_API_KEY",
	"GITHUB_TOKEN",
	"DO_API_TOKEN",
}

// CredentialSource resolves a credential by name; config.Credentials
// satisfies this.
type CredentialSource interface {
	Get(key string) (string, bool)
}

// Spec is the render input for wrapper.sh.tmpl — a pure data struct so
// text/template's render is a pure function of it, which is what makes
// law R2 (same tuple -> byte-identical script) hold: no timestamps, no
// random IDs, nothing but the caller-supplied task parameters.
type Spec struct {
	PathEnv      string
	Workdir      string
	AgentCommand string
	Branch       string
	NoPR         bool
	PlanFirst    bool
	PlanContext  string
	ExecContext  string

	// Credentials, when set, is resolved into CredentialBlock by Render.
	Credentials CredentialSource
}

type renderData struct {
	PathEnv         string
	Workdir         string
	AgentCommand    string
	Branch          string
	NoPR            bool
	PlanFirst       bool
	PlanContext     string
	ExecContext     string
	CredentialBlock string
}

// Render produces the wrapper script body for spec. The credential
// heredoc body is built separately via buildCredentialBlock (an
// a8m/envsubst expansion of a fixed ${VAR} template against spec's
// CredentialSource) so the heredoc's literal boundary markers
// (HAL_CREDENTIALS_EOF) stay mechanically locatable for Scrub.
func Render(spec Spec) (string, error) {
	data := renderData{
		PathEnv:         spec.PathEnv,
		Workdir:         spec.Workdir,
		AgentCommand:    spec.AgentCommand,
		Branch:          spec.Branch,
		NoPR:            spec.NoPR,
		PlanFirst:       spec.PlanFirst,
		PlanContext:     spec.PlanContext,
		ExecContext:     spec.ExecContext,
		CredentialBlock: buildCredentialBlock(spec.Credentials),
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("wrapper: render: %w", err)
	}
	return buf.String(), nil
}

// buildCredentialBlock renders "export VAR=value" lines for each name in
// credentialVarOrder that src holds, using envsubst to expand a literal ${VAR}
// placeholder template against a resolver closure — this is the same
// ${VAR}-substitution idiom spec.md §4.G's credential handling calls for,
// applied via the one dependency in the pack that implements it.
func buildCredentialBlock(src CredentialSource) string {
	if src == nil {
		return ""
	}

	var placeholders bytes.Buffer
	present := make([]string, 0, len(credentialVarOrder))
	for _, name := range credentialVarOrder {
		if _, ok := src.Get(name); ok {
			present = append(present, name)
			fmt.Fprintf(&placeholders, "export %s=${%s}\n", name, name)
		}
	}
	if len(present) == 0 {
		return ""
	}

	expanded := envsubst.Eval(placeholders.String(), func(key string) string {
		v, _ := src.Get(key)
		return v
	})
	return expanded
}
