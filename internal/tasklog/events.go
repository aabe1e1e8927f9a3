// Package tasklog is the log & event writer component (D, spec.md §2/§6):
// a per-task append-only text log ending with the HAL9999-DONE sentinel,
// and a per-task append-only JSONL event stream with a monotone seq
// counter. Adapted from cuemby-warren/pkg/events.Broker's event-type/struct
// shape, but shaped for one writer and N tail-readers per task instead of N
// subscribers of one shared bus — there is no broker process here, each
// task owns its own files.
package tasklog

import "time"

// EventType is the tagged union discriminant from spec.md §6.
type EventType string

const (
	EventTaskStart  EventType = "task_start"
	EventVMAcquired EventType = "vm_acquired"
	EventPhase      EventType = "phase"
	EventOutput     EventType = "output"
	EventTaskEnd    EventType = "task_end"
)

// Phase names recognized in a "phase" event, mirroring spec.md §6's table
// and reused as telemetry span names by internal/telemetry.
const (
	PhaseVMAcquire  = "vm_acquire"
	PhaseSSHWait    = "ssh_wait"
	PhaseClone      = "clone"
	PhaseAgentInstall = "agent_install"
	PhaseBranchSetup  = "branch_setup"
	PhaseAgentLaunch  = "agent_launch"
	PhaseAgentRun     = "agent_run"
)

// Stream discriminates an "output" event's origin.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Event is the payload half of one envelope; exactly one of these fields
// is meaningful depending on Type.
type Event struct {
	Type EventType `json:"type"`

	// task_start
	RepoURL string `json:"repoUrl,omitempty"`
	Context string `json:"context,omitempty"`
	Agent   string `json:"agent,omitempty"`

	// vm_acquired
	VMID     string `json:"vmId,omitempty"`
	Provider string `json:"provider,omitempty"`
	IP       string `json:"ip,omitempty"`

	// phase
	Name string `json:"name,omitempty"`

	// output
	Stream Stream `json:"stream,omitempty"`
	Text   string `json:"text,omitempty"`

	// task_end
	Status   string `json:"status,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Error    string `json:"error,omitempty"`
	PRURL    string `json:"prUrl,omitempty"`
}

// Envelope is one line of a task's .jsonl event stream (spec.md §6).
type Envelope struct {
	TaskID    string    `json:"taskId"`
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`
	Event     Event     `json:"event"`
}
