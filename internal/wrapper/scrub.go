package wrapper

import "strings"

const (
	credHeredocStart = "cat > \"$HAL_CRED_FILE\" <<'HAL_CREDENTIALS_EOF'"
	credHeredocEnd   = "HAL_CREDENTIALS_EOF"
)

// Scrub removes the credential heredoc body from script, leaving the
// surrounding structure intact and putting a "[scrubbed]" line in its
// place. Only the tests call it: no local copy of run.sh is kept, and the
// uploaded run.sh deletes its own heredoc body with sed right after
// sourcing the credentials (see wrapper.sh.tmpl).
func Scrub(script string) string {
	lines := strings.Split(script, "\n")
	start := -1
	end := -1
	for i, line := range lines {
		if strings.Contains(line, credHeredocStart) {
			start = i
			continue
		}
		if start != -1 && strings.TrimSpace(line) == credHeredocEnd {
			end = i
			break
		}
	}
	if start == -1 || end == -1 {
		return script
	}

	out := make([]string, 0, len(lines)-(end-start)+1)
	out = append(out, lines[:start+1]...)
	out = append(out, "[scrubbed]")
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n")
}
