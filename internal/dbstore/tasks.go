package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/herrors"
)

const taskColumns = `id, slug, repo_url, context, status, vm_id, result, exit_code, branch, pr_url, created_at, updated_at, started_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var t domain.Task
	var vmID sql.NullString
	var exitCode sql.NullInt64
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.Slug, &t.RepoURL, &t.Context, &t.Status, &vmID, &t.Result, &exitCode,
		&t.Branch, &t.PRURL, &t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	t.VMID = vmID.String
	if exitCode.Valid {
		n := int(exitCode.Int64)
		t.ExitCode = &n
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return &t, nil
}

// CreateTask inserts a new task row.
func (s *SQLStore) CreateTask(ctx context.Context, t *domain.Task) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Slug, t.RepoURL, t.Context, t.Status, nullString(t.VMID), t.Result, nullInt(t.ExitCode),
		t.Branch, t.PRURL, t.CreatedAt, t.UpdatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("dbstore: create task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, herrors.Wrap(herrors.ErrRowNotFound, "task %s not found", id)
		}
		return nil, err
	}
	return copyTask(t), nil
}

// GetTaskBySlug fetches a task by its human-friendly unique slug, the
// adjective-noun lookup pattern ported from warren's GetServiceByName.
func (s *SQLStore) GetTaskBySlug(ctx context.Context, slug string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE slug = ?`, slug)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, herrors.Wrap(herrors.ErrRowNotFound, "task with slug %s not found", slug)
		}
		return nil, err
	}
	return copyTask(t), nil
}

// SlugExists reports whether slug is already taken, used by taskmgr's
// collision-retry slug generator.
func (s *SQLStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE slug = ?`, slug).Scan(&n)
	return n > 0, err
}

// ListTasks returns every task row.
func (s *SQLStore) ListTasks(ctx context.Context) ([]*domain.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks`)
}

// ListTasksByStatus returns tasks whose status is any of statuses.
func (s *SQLStore) ListTasksByStatus(ctx context.Context, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	placeholders, args := statusArgs(statuses)
	q := fmt.Sprintf(`SELECT %s FROM tasks WHERE status IN (%s)`, taskColumns, placeholders)
	return s.queryTasks(ctx, q, args...)
}

// StaleTasks returns running/assigned tasks whose updated_at predates
// cutoff — the query backing reapers' stale-heartbeat detection (T3).
func (s *SQLStore) StaleTasks(ctx context.Context, cutoff time.Time) ([]*domain.Task, error) {
	q := fmt.Sprintf(`SELECT %s FROM tasks WHERE status IN (?, ?) AND updated_at < ?`, taskColumns)
	return s.queryTasks(ctx, q, string(domain.TaskRunning), string(domain.TaskAssigned), cutoff)
}

func (s *SQLStore) queryTasks(ctx context.Context, q string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, copyTask(t))
	}
	return out, rows.Err()
}

// UpdateTask writes back every mutable column. T1 (monotone toward
// terminal) is enforced by taskmgr before this is called, not here; the
// store itself is a dumb row writer.
func (s *SQLStore) UpdateTask(ctx context.Context, t *domain.Task) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET slug=?, repo_url=?, context=?, status=?, vm_id=?,
		result=?, exit_code=?, branch=?, pr_url=?, updated_at=?, started_at=?, completed_at=? WHERE id=?`,
		t.Slug, t.RepoURL, t.Context, t.Status, nullString(t.VMID), t.Result, nullInt(t.ExitCode),
		t.Branch, t.PRURL, t.UpdatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("dbstore: update task %s: %w", t.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return herrors.Wrap(herrors.ErrRowNotFound, "task %s not found", t.ID)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func copyTask(src *domain.Task) *domain.Task {
	var dst domain.Task
	copier.CopyWithOption(&dst, src, copier.Option{DeepCopy: true})
	return &dst
}
