package tasklog

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nxadm/tail"
)

// doneSentinelPrefix is what a tail reader watches for to know the task
// finished and the stream will never produce another line (R3, P6).
const doneSentinelPrefix = "---HAL9999-DONE exit="

// TailLine is one observed line plus, when Done is true, the exit code
// parsed from the sentinel line (0 on every other line).
type TailLine struct {
	Text     string
	Done     bool
	ExitCode int
}

// TailLog follows dataDir/logs/<taskId>.log from the beginning, emitting
// one TailLine per line on the returned channel and closing it the moment
// the sentinel is read — "a tail reader stops the moment it reads the
// sentinel line" (spec.md §4.10). ReOpen is false: task log files are
// never rotated mid-task. Multiple independent calls against the same file
// satisfy scenario 6 (two readers, identical byte sequence, same stop
// point) since each gets its own *tail.Tail cursor.
func TailLog(dataDir, taskID string) (<-chan TailLine, error) {
	path := filepath.Join(dataDir, "logs", taskID+".log")

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   false,
		MustExist: false,
		Poll:     true,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan TailLine)
	go func() {
		defer close(out)
		for line := range t.Lines {
			if line.Err != nil {
				continue
			}
			text := line.Text
			if strings.HasPrefix(strings.TrimSpace(text), doneSentinelPrefix) {
				code := parseSentinel(text)
				out <- TailLine{Text: text, Done: true, ExitCode: code}
				t.Stop()
				return
			}
			out <- TailLine{Text: text}
		}
	}()
	return out, nil
}

// parseSentinel extracts the exit code from a sentinel line, coercing any
// non-numeric content (including the literal word "timeout") to exit code
// 1 — spec.md §9 open question (iii): never surface "timeout" as a numeric
// exit code.
func parseSentinel(line string) int {
	line = strings.TrimSpace(line)
	rest := strings.TrimPrefix(line, doneSentinelPrefix)
	rest = strings.TrimSuffix(rest, "---")
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 1
	}
	return n
}
