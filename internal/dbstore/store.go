// Package dbstore is the durable relational half of the store (component A):
// VMs, tasks, and images, backed by modernc.org/sqlite in WAL mode. The
// interface shape — CRUD-per-resource, composed into one Store — is
// ported from cuemby-warren/pkg/storage.Store; the engine underneath is
// swapped from an embedded KV store to an embedded relational one because
// the spec requires WAL journaling, column indexes, and aggregate queries
// (per-provider/status counts, stale-heartbeat scans) that a KV bucket
// cannot express without hand-rolled secondary indexes.
package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/samueljseay/hal9999/internal/domain"

	_ "modernc.org/sqlite"
)

// VMStore is the narrow persistence surface internal/vmpool depends on.
type VMStore interface {
	CreateVM(ctx context.Context, vm *domain.VM) error
	GetVM(ctx context.Context, id string) (*domain.VM, error)
	ListVMs(ctx context.Context) ([]*domain.VM, error)
	ListVMsByStatus(ctx context.Context, statuses ...domain.VMStatus) ([]*domain.VM, error)
	ListVMsByProviderStatus(ctx context.Context, provider string, statuses ...domain.VMStatus) ([]*domain.VM, error)
	UpdateVM(ctx context.Context, vm *domain.VM) error
	RenameVMID(ctx context.Context, oldID, newID string) error
	DeleteVM(ctx context.Context, id string) error
	CountVMsByProviderStatus(ctx context.Context, provider string, statuses ...domain.VMStatus) (int, error)
}

// TaskStore is the narrow persistence surface internal/taskmgr and
// internal/vmpool depend on.
type TaskStore interface {
	CreateTask(ctx context.Context, t *domain.Task) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	GetTaskBySlug(ctx context.Context, slug string) (*domain.Task, error)
	ListTasks(ctx context.Context) ([]*domain.Task, error)
	ListTasksByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error)
	UpdateTask(ctx context.Context, t *domain.Task) error
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// ImageStore tracks known provider snapshot references (spec.md §3.3).
type ImageStore interface {
	CreateImage(ctx context.Context, img *domain.Image) error
	GetImage(ctx context.Context, id string) (*domain.Image, error)
	ListImages(ctx context.Context) ([]*domain.Image, error)
	DeleteImage(ctx context.Context, id string) error
}

// Store composes the three resource stores plus the transactional and
// lifecycle operations the pool manager needs (atomic VM<->task binding,
// orphan release queries). One *sql.DB, one writer connection.
type Store interface {
	VMStore
	TaskStore
	ImageStore

	// BindTask performs the task-binding transaction from spec.md §4.F.4
	// atomically: VM -> assigned/task_id, Task -> vm_id.
	BindTask(ctx context.Context, vmID, taskID string) error

	// StaleTasks returns tasks in running/assigned whose updated_at is
	// older than cutoff (spec.md T3 / §4.F.9).
	StaleTasks(ctx context.Context, cutoff time.Time) ([]*domain.Task, error)

	Close() error
}

// SQLStore implements Store against modernc.org/sqlite.
type SQLStore struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite-backed store at path, applies
// pragmas for WAL mode and a busy timeout, pins the connection pool to a
// single writer per spec.md §2's "single writer per process", and runs
// pending migrations.
func Open(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
