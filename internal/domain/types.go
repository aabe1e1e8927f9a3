// Package domain holds the persistent record shapes shared by the store,
// the pool manager, the task manager, and the orchestrator: VMs, tasks, and
// the provider slots that describe where VMs may be created.
package domain

import "time"

// VMStatus is a VM's position in the lifecycle state machine described in
// spec.md §3: provisioning -> ready -> assigned -> destroying -> destroyed,
// with error reachable from any non-terminal state.
type VMStatus string

const (
	VMProvisioning VMStatus = "provisioning"
	VMReady        VMStatus = "ready"
	VMAssigned     VMStatus = "assigned"
	VMDestroying   VMStatus = "destroying"
	VMDestroyed    VMStatus = "destroyed"
	VMError        VMStatus = "error"
)

// Terminal reports whether status can never transition again.
func (s VMStatus) Terminal() bool {
	return s == VMDestroyed || s == VMError
}

// VM is one row of the vms table: a provider-assigned instance tracked
// through its lifecycle, optionally bound to a task.
type VM struct {
	ID        string
	Label     string
	Provider  string
	Address   string
	SSHPort   int // 0 means "use the provider/slot default"
	Status    VMStatus
	TaskID    string // empty means unbound
	Image     string
	Region    string
	Plan      string
	CreatedAt time.Time
	UpdatedAt time.Time
	IdleSince *time.Time
	LastError string
}

// ShortID returns the first 8 characters of the id, or the full id if
// shorter, for display purposes (spec.md §4.F "short identifiers").
func (v *VM) ShortID() string {
	if len(v.ID) <= 8 {
		return v.ID
	}
	return v.ID[:8]
}

// TaskStatus is a task's position in the pending -> assigned -> running ->
// (completed | failed) lifecycle described in spec.md §3.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether status can never transition again (T1).
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is one row of the tasks table: a single operator-submitted unit of
// work against a repository.
type Task struct {
	ID          string
	Slug        string
	RepoURL     string
	Context     string
	Status      TaskStatus
	VMID        string
	Result      string
	ExitCode    *int
	Branch      string
	PRURL       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ShortID mirrors VM.ShortID; tasks are usually referred to by Slug instead
// when one has been assigned.
func (t *Task) ShortID() string {
	if len(t.ID) <= 8 {
		return t.ID
	}
	return t.ID[:8]
}

// Image is one row of the images table: a known provider snapshot/image
// reference. Building the image itself is out of scope (spec.md §1); this
// only records that a reference exists.
type Image struct {
	ID         string
	Provider   string
	SnapshotID string
	Label      string
	CreatedAt  time.Time
}

// TaskOptions carries the caller-supplied overrides accepted by
// StartTask/RunTask.
type TaskOptions struct {
	Branch      string // override for the default hal/<shortTaskId> branch
	AgentName   string
	NoPR        bool
	PlanFirst   bool
	TimeoutMs   int // agent wall-clock budget; 0 means use the default (600000)
	GithubToken string
}
