// Package taskmgr is the task manager component (E, spec.md §2): CRUD plus
// state transitions for tasks, every write stamped with timestamps (T1-T3).
// Transition enforcement (monotone-toward-terminal) lives here, not in
// internal/dbstore, which is a dumb row writer.
package taskmgr

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/samueljseay/hal9999/internal/dbstore"
	"github.com/samueljseay/hal9999/internal/domain"
)

// Manager owns task CRUD + transitions against a Store.
type Manager struct {
	store dbstore.TaskStore
	log   zerolog.Logger
	rng   *rand.Rand
}

// New returns a Manager backed by store.
func New(store dbstore.TaskStore, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Create inserts a new pending task with a freshly generated id and slug.
func (m *Manager) Create(ctx context.Context, repoURL, taskContext string, opts domain.TaskOptions) (*domain.Task, error) {
	slug, err := generateSlug(ctx, m.store, m.rng)
	if err != nil {
		return nil, fmt.Errorf("taskmgr: create task: %w", err)
	}

	now := time.Now().UTC()
	t := &domain.Task{
		ID:        uuid.NewString(),
		Slug:      slug,
		RepoURL:   repoURL,
		Context:   taskContext,
		Status:    domain.TaskPending,
		Branch:    opts.Branch,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get fetches a task by id.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Task, error) {
	return m.store.GetTask(ctx, id)
}

// GetBySlug fetches a task by its human-friendly slug.
func (m *Manager) GetBySlug(ctx context.Context, slug string) (*domain.Task, error) {
	return m.store.GetTaskBySlug(ctx, slug)
}

// List returns every task.
func (m *Manager) List(ctx context.Context) ([]*domain.Task, error) {
	return m.store.ListTasks(ctx)
}

// MarkAssigned transitions pending -> assigned and records the bound VM.
// The VM<->task row pair is actually written atomically by
// dbstore.Store.BindTask; this just enforces the Task-side transition
// legality. Only the tests call it; BindTask itself sets vm_id without
// changing the task's status.
func (m *Manager) MarkAssigned(ctx context.Context, id, vmID string) (*domain.Task, error) {
	return m.transition(ctx, id, func(t *domain.Task) error {
		if t.Status.Terminal() {
			return fmt.Errorf("taskmgr: task %s already terminal (%s)", id, t.Status)
		}
		t.Status = domain.TaskAssigned
		t.VMID = vmID
		return nil
	})
}

// MarkRunning transitions any non-terminal task (pending or assigned) to
// running and stamps started_at (T2).
func (m *Manager) MarkRunning(ctx context.Context, id string) (*domain.Task, error) {
	return m.transition(ctx, id, func(t *domain.Task) error {
		if t.Status.Terminal() {
			return fmt.Errorf("taskmgr: task %s already terminal (%s)", id, t.Status)
		}
		now := time.Now().UTC()
		t.Status = domain.TaskRunning
		t.StartedAt = &now
		return nil
	})
}

// Complete transitions any non-terminal task to completed (T1: monotone).
// A task that is already terminal is refused with an error, so a second
// Complete call fails.
func (m *Manager) Complete(ctx context.Context, id string, exitCode int, result, prURL string) (*domain.Task, error) {
	return m.finish(ctx, id, domain.TaskCompleted, exitCode, result, prURL)
}

// Fail transitions to failed from any non-terminal state (used both by the
// normal collect path and by force-fail during reap/recovery).
func (m *Manager) Fail(ctx context.Context, id string, exitCode int, result string) (*domain.Task, error) {
	return m.finish(ctx, id, domain.TaskFailed, exitCode, result, "")
}

func (m *Manager) finish(ctx context.Context, id string, status domain.TaskStatus, exitCode int, result, prURL string) (*domain.Task, error) {
	return m.transition(ctx, id, func(t *domain.Task) error {
		if t.Status.Terminal() {
			// P4: once completed/failed, never changes again.
			return fmt.Errorf("taskmgr: task %s already terminal (%s), refusing to re-finish", id, t.Status)
		}
		now := time.Now().UTC()
		t.Status = status
		t.ExitCode = &exitCode
		t.Result = result
		if prURL != "" {
			t.PRURL = prURL
		}
		t.CompletedAt = &now
		return nil
	})
}

// Touch stamps updated_at without changing status — the heartbeat every
// poll performs (spec.md §9 "Heartbeat without a dedicated channel").
func (m *Manager) Touch(ctx context.Context, id string) error {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	return m.store.UpdateTask(ctx, t)
}

// SetResult updates the result/PR URL fields without a status transition
// (used mid-flight by collect to persist partial results before the final
// Complete/Fail call).
func (m *Manager) SetResult(ctx context.Context, id, result, prURL string) error {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	t.Result = result
	if prURL != "" {
		t.PRURL = prURL
	}
	t.UpdatedAt = time.Now().UTC()
	return m.store.UpdateTask(ctx, t)
}

func (m *Manager) transition(ctx context.Context, id string, mutate func(*domain.Task) error) (*domain.Task, error) {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// StaleTasks returns tasks eligible for force-failing under STALE_TASK_MAX
// (T3), delegating straight to the store's indexed query.
func (m *Manager) StaleTasks(ctx context.Context, staleMax time.Duration) ([]*domain.Task, error) {
	cutoff := time.Now().UTC().Add(-staleMax)
	return m.store.StaleTasks(ctx, cutoff)
}
