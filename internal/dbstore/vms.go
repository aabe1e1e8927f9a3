package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jinzhu/copier"
	"github.com/samueljseay/hal9999/internal/domain"
	"github.com/samueljseay/hal9999/internal/herrors"
)

const vmColumns = `id, label, provider, address, ssh_port, status, task_id, image, region, plan, created_at, updated_at, idle_since, last_error`

func scanVM(row interface{ Scan(...any) error }) (*domain.VM, error) {
	var v domain.VM
	var taskID sql.NullString
	var idleSince sql.NullTime
	if err := row.Scan(&v.ID, &v.Label, &v.Provider, &v.Address, &v.SSHPort, &v.Status,
		&taskID, &v.Image, &v.Region, &v.Plan, &v.CreatedAt, &v.UpdatedAt, &idleSince, &v.LastError); err != nil {
		return nil, err
	}
	v.TaskID = taskID.String
	if idleSince.Valid {
		t := idleSince.Time
		v.IdleSince = &t
	}
	return &v, nil
}

// CreateVM inserts a new VM row.
func (s *SQLStore) CreateVM(ctx context.Context, vm *domain.VM) error {
	var taskID sql.NullString
	if vm.TaskID != "" {
		taskID = sql.NullString{String: vm.TaskID, Valid: true}
	}
	var idleSince sql.NullTime
	if vm.IdleSince != nil {
		idleSince = sql.NullTime{Time: *vm.IdleSince, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO vms (`+vmColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		vm.ID, vm.Label, vm.Provider, vm.Address, vm.SSHPort, vm.Status, taskID, vm.Image, vm.Region, vm.Plan,
		vm.CreatedAt, vm.UpdatedAt, idleSince, vm.LastError)
	if err != nil {
		return fmt.Errorf("dbstore: create vm %s: %w", vm.ID, err)
	}
	return nil
}

// GetVM fetches a single VM by id, returning a copy safe for the caller to
// mutate without aliasing store-internal state.
func (s *SQLStore) GetVM(ctx context.Context, id string) (*domain.VM, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+vmColumns+` FROM vms WHERE id = ?`, id)
	vm, err := scanVM(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, herrors.Wrap(herrors.ErrRowNotFound, "vm %s not found", id)
		}
		return nil, err
	}
	return copyVM(vm), nil
}

// ListVMs returns every VM row.
func (s *SQLStore) ListVMs(ctx context.Context) ([]*domain.VM, error) {
	return s.queryVMs(ctx, `SELECT `+vmColumns+` FROM vms`)
}

// ListVMsByStatus returns VMs whose status is any of statuses.
func (s *SQLStore) ListVMsByStatus(ctx context.Context, statuses ...domain.VMStatus) ([]*domain.VM, error) {
	placeholders, args := statusArgs(statuses)
	q := fmt.Sprintf(`SELECT %s FROM vms WHERE status IN (%s)`, vmColumns, placeholders)
	return s.queryVMs(ctx, q, args...)
}

// ListVMsByProviderStatus returns VMs for one provider whose status is any
// of statuses — the query pickSlot/reapers use for capacity accounting.
func (s *SQLStore) ListVMsByProviderStatus(ctx context.Context, provider string, statuses ...domain.VMStatus) ([]*domain.VM, error) {
	placeholders, args := statusArgs(statuses)
	q := fmt.Sprintf(`SELECT %s FROM vms WHERE provider = ? AND status IN (%s)`, vmColumns, placeholders)
	args = append([]any{provider}, args...)
	return s.queryVMs(ctx, q, args...)
}

// CountVMsByProviderStatus is pickSlot's capacity check (V1): count of VMs
// for a provider in any of the given states.
func (s *SQLStore) CountVMsByProviderStatus(ctx context.Context, provider string, statuses ...domain.VMStatus) (int, error) {
	placeholders, args := statusArgs(statuses)
	q := fmt.Sprintf(`SELECT COUNT(*) FROM vms WHERE provider = ? AND status IN (%s)`, placeholders)
	args = append([]any{provider}, args...)
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) queryVMs(ctx context.Context, q string, args ...any) ([]*domain.VM, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.VM
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, copyVM(vm))
	}
	return out, rows.Err()
}

// UpdateVM writes back every mutable column, stamping updated_at is the
// caller's responsibility (V4: every transition-in stamps updated_at) so
// callers always pass an already-stamped vm.UpdatedAt.
func (s *SQLStore) UpdateVM(ctx context.Context, vm *domain.VM) error {
	var taskID sql.NullString
	if vm.TaskID != "" {
		taskID = sql.NullString{String: vm.TaskID, Valid: true}
	}
	var idleSince sql.NullTime
	if vm.IdleSince != nil {
		idleSince = sql.NullTime{Time: *vm.IdleSince, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE vms SET label=?, provider=?, address=?, ssh_port=?, status=?,
		task_id=?, image=?, region=?, plan=?, updated_at=?, idle_since=?, last_error=? WHERE id=?`,
		vm.Label, vm.Provider, vm.Address, vm.SSHPort, vm.Status, taskID, vm.Image, vm.Region, vm.Plan,
		vm.UpdatedAt, idleSince, vm.LastError, vm.ID)
	if err != nil {
		return fmt.Errorf("dbstore: update vm %s: %w", vm.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return herrors.Wrap(herrors.ErrRowNotFound, "vm %s not found", vm.ID)
	}
	return nil
}

// RenameVMID swaps a provisioning row's temporary provisioning:<uuid> id for the real
// provider-assigned id (spec.md §4.F.2: "atomically rename the row's
// identity"). Also updates any task row that already points at the old id.
func (s *SQLStore) RenameVMID(ctx context.Context, oldID, newID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE vms SET id = ? WHERE id = ?`, newID, oldID); err != nil {
		return fmt.Errorf("dbstore: rename vm %s -> %s: %w", oldID, newID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET vm_id = ? WHERE vm_id = ?`, newID, oldID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteVM removes a VM row outright (used only by tests; production code
// transitions to destroyed rather than deleting).
func (s *SQLStore) DeleteVM(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vms WHERE id = ?`, id)
	return err
}

func statusArgs[T ~string](statuses []T) (string, []any) {
	ph := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		ph[i] = "?"
		args[i] = string(st)
	}
	return strings.Join(ph, ","), args
}

func copyVM(src *domain.VM) *domain.VM {
	var dst domain.VM
	copier.CopyWithOption(&dst, src, copier.Option{DeepCopy: true})
	return &dst
}
