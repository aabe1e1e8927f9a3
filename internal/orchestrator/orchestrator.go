// Package orchestrator is the Orchestrator component (H, spec.md §4.H):
// the only caller of taskmgr, vmpool, and wrapper together. StartTask and
// RunTask both run executeTask; the only difference is whether the
// caller awaits it. Recover rebuilds in-flight state after a restart.
// Adapted from cuemby-warren's Reconciler/Scheduler goroutine-with-stopCh
// convention, but one short-lived goroutine per task rather than one
// long-lived loop per subsystem (spec.md §9: "a worker task per
// submission").
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/samueljseay/hal9999/internal/artifacts"
	"github.com/samueljseay/hal9999/internal/config"
	"github.com/samueljseay/hal9999/internal/dbstore"
	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/remoteshell"
	"github.com/samueljseay/hal9999/internal/taskmgr"
	"github.com/samueljseay/hal9999/internal/vmpool"
)

// AgentConfig describes how to invoke the coding agent on the VM —
// spec.md §1's "external collaborator" the wrapper script shells out to.
type AgentConfig struct {
	Command     string // e.g. "claude-agent run"
	InstallCmd  string // empty means "no install step"
	DefaultTimeoutMs int
}

// Config configures an Orchestrator.
type Config struct {
	Store       dbstore.Store
	Pool        *vmpool.Pool
	Tasks       *taskmgr.Manager
	Artifacts   *artifacts.Store
	Credentials *config.Credentials
	DataDir     string
	Agent       AgentConfig
	Logger      zerolog.Logger

	// ShellFactory builds the remote session used for a VM. Defaults to
	// dialing the VM over SSH via remoteshell.New; tests substitute an
	// in-memory remoteshell/fake.Shell so executeTask can run without a
	// real network or VM.
	ShellFactory func(remoteshell.Target) remoteshell.Runner
}

// Orchestrator composes task management, VM acquisition, and the wrapper
// protocol into complete task executions.
type Orchestrator struct {
	store       dbstore.Store
	pool        *vmpool.Pool
	tasks       *taskmgr.Manager
	artifacts   *artifacts.Store
	credentials *config.Credentials
	dataDir     string
	agent       AgentConfig
	log         zerolog.Logger
	newShell    func(remoteshell.Target) remoteshell.Runner

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs an Orchestrator.
func New(cfg Config) *Orchestrator {
	newShell := cfg.ShellFactory
	if newShell == nil {
		newShell = func(t remoteshell.Target) remoteshell.Runner { return remoteshell.New(t) }
	}
	return &Orchestrator{
		store:       cfg.Store,
		pool:        cfg.Pool,
		tasks:       cfg.Tasks,
		artifacts:   cfg.Artifacts,
		credentials: cfg.Credentials,
		dataDir:     cfg.DataDir,
		agent:       cfg.Agent,
		log:         cfg.Logger,
		newShell:    newShell,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// StartTask creates the task row and runs executeTask in the background,
// returning immediately with the task id.
func (o *Orchestrator) StartTask(ctx context.Context, repoURL, taskContext string, opts domain.TaskOptions) (string, error) {
	task, err := o.tasks.Create(ctx, repoURL, taskContext, opts)
	if err != nil {
		return "", fmt.Errorf("orchestrator: start task: %w", err)
	}
	o.spawn(task.ID, opts)
	return task.ID, nil
}

// RunTask creates the task row and awaits executeTask, returning the
// final task row.
func (o *Orchestrator) RunTask(ctx context.Context, repoURL, taskContext string, opts domain.TaskOptions) (*domain.Task, error) {
	task, err := o.tasks.Create(ctx, repoURL, taskContext, opts)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: run task: %w", err)
	}
	o.executeTask(ctx, task.ID, opts)
	return o.tasks.Get(ctx, task.ID)
}

// spawn runs executeTask on a background context owned by the
// orchestrator, tracked so a future Cancel can stop it.
func (o *Orchestrator) spawn(taskID string, opts domain.TaskOptions) {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[taskID] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.cancels, taskID)
			o.mu.Unlock()
			cancel()
		}()
		o.executeTask(ctx, taskID, opts)
	}()
}

// Cancel cancels the context of a task started with StartTask, if it is
// still executing, which stops its local executeTask goroutine;
// fire-and-forget means the remote agent keeps running regardless
// (spec.md §5 "aborting a tail detaches the reader").
func (o *Orchestrator) Cancel(taskID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[taskID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}
