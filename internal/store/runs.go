package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/planmirror/internal/ir"
)

const runColumns = `id, source_system, item_type, full_sync, started_at, finished_at, status,
	processed, created, updated, unchanged, failed, batches, failed_batches, errors`

func scanRun(row rowScanner) (ir.SyncRun, error) {
	var (
		run               ir.SyncRun
		src, typ, status  string
		full              bool
		started, finished int64
		errs              string
	)
	err := row.Scan(&run.ID, &src, &typ, &full, &started, &finished, &status,
		&run.Counts.Processed, &run.Counts.Created, &run.Counts.Updated,
		&run.Counts.Unchanged, &run.Counts.Failed, &run.Batches, &run.FailedBatches, &errs)
	if err != nil {
		return ir.SyncRun{}, err
	}
	run.Source = ir.SourceSystem(src)
	run.Type = ir.ItemType(typ)
	run.Status = ir.RunStatus(status)
	run.Full = full
	run.StartedAt = fromNanos(started)
	run.FinishedAt = fromNanos(finished)
	if run.Errors, err = unmarshalRunErrors(errs); err != nil {
		return ir.SyncRun{}, err
	}
	return run, nil
}

// CreateRun inserts a new RUNNING run record.
func (s *Store) CreateRun(ctx context.Context, run ir.SyncRun) error {
	if run.ID == "" {
		return fmt.Errorf("create run: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, source_system, item_type, full_sync, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Source),
		string(run.Type),
		run.Full,
		toNanos(run.StartedAt),
		string(ir.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// FinalizeRun writes the terminal state of a run. It succeeds exactly once
// per run; a second call returns ErrRunFinalized.
func (s *Store) FinalizeRun(ctx context.Context, run ir.SyncRun) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("finalize run %s: status %q is not terminal", run.ID, run.Status)
	}
	errs, err := marshalRunErrors(run.Errors)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", run.ID, err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			finished_at = ?, status = ?,
			processed = ?, created = ?, updated = ?, unchanged = ?, failed = ?,
			batches = ?, failed_batches = ?, errors = ?
		WHERE id = ? AND status = 'RUNNING'
	`,
		toNanos(run.FinishedAt),
		string(run.Status),
		run.Counts.Processed,
		run.Counts.Created,
		run.Counts.Updated,
		run.Counts.Unchanged,
		run.Counts.Failed,
		run.Batches,
		run.FailedBatches,
		errs,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize run: rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetRun(ctx, run.ID); err != nil {
			return fmt.Errorf("finalize run: %w", err)
		}
		return fmt.Errorf("finalize run %s: %w", run.ID, ErrRunFinalized)
	}
	return nil
}

// GetRun returns one run by id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (ir.SyncRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.SyncRun{}, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.SyncRun{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// RunFilter narrows ListRuns. Zero fields match everything; Limit 0 means no limit.
type RunFilter struct {
	Source ir.SourceSystem
	Type   ir.ItemType
	Limit  int
}

// ListRuns returns runs newest first. Ties on start time are broken by id,
// which is time ordered (UUIDv7).
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]ir.SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs WHERE 1 = 1`
	var args []any
	if filter.Source != "" {
		query += ` AND source_system = ?`
		args = append(args, string(filter.Source))
	}
	if filter.Type != "" {
		query += ` AND item_type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY started_at DESC, id COLLATE BINARY DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.SyncRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
