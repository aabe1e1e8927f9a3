package dbstore

import (
	"context"
	"fmt"
)

// BindTask performs the task-binding transaction from spec.md §4.F.4 in a
// single transaction, matching §5's "all multi-row transitions ... MUST use
// a single transaction" rule:
//
//	UPDATE vms   SET status='assigned', task_id=T, idle_since=NULL, updated_at=now WHERE id=V;
//	UPDATE tasks SET vm_id=V, updated_at=now WHERE id=T;
func (s *SQLStore) BindTask(ctx context.Context, vmID, taskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE vms SET status='assigned', task_id=?, idle_since=NULL, updated_at=datetime('now') WHERE id=?`, taskID, vmID)
	if err != nil {
		return fmt.Errorf("dbstore: bind task %s to vm %s: %w", taskID, vmID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dbstore: bind task %s: vm %s not found", taskID, vmID)
	}

	res, err = tx.ExecContext(ctx, `UPDATE tasks SET vm_id=?, updated_at=datetime('now') WHERE id=?`, vmID, taskID)
	if err != nil {
		return fmt.Errorf("dbstore: bind vm %s to task %s: %w", vmID, taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dbstore: bind vm %s: task %s not found", vmID, taskID)
	}

	return tx.Commit()
}
