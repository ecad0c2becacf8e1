package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/planmirror/internal/ir"
)

// GetWatermark returns the watermark for (source, type), or ErrNotFound
// when the type has never synced successfully.
func (s *Store) GetWatermark(ctx context.Context, source ir.SourceSystem, typ ir.ItemType) (ir.SyncWatermark, error) {
	var (
		wm            ir.SyncWatermark
		at, updatedAt int64
		src, itemType string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT source_system, item_type, watermark, run_id, updated_at
		FROM watermarks
		WHERE source_system = ? AND item_type = ?
	`, string(source), string(typ)).Scan(&src, &itemType, &at, &wm.RunID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.SyncWatermark{}, fmt.Errorf("get watermark %s/%s: %w", source, typ, ErrNotFound)
	}
	if err != nil {
		return ir.SyncWatermark{}, fmt.Errorf("get watermark %s/%s: %w", source, typ, err)
	}
	wm.Source = ir.SourceSystem(src)
	wm.Type = ir.ItemType(itemType)
	wm.Watermark = fromNanos(at)
	wm.UpdatedAt = fromNanos(updatedAt)
	return wm, nil
}

// ListWatermarks returns all stored watermarks ordered by source and type.
func (s *Store) ListWatermarks(ctx context.Context) ([]ir.SyncWatermark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_system, item_type, watermark, run_id, updated_at
		FROM watermarks
		ORDER BY source_system ASC, item_type ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query watermarks: %w", err)
	}
	defer rows.Close()

	out := []ir.SyncWatermark{}
	for rows.Next() {
		var (
			wm            ir.SyncWatermark
			src, typ      string
			at, updatedAt int64
		)
		if err := rows.Scan(&src, &typ, &at, &wm.RunID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		wm.Source = ir.SourceSystem(src)
		wm.Type = ir.ItemType(typ)
		wm.Watermark = fromNanos(at)
		wm.UpdatedAt = fromNanos(updatedAt)
		out = append(out, wm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return out, nil
}

// PutWatermark stores wm. Writing a watermark older than the stored one
// returns ErrWatermarkRegression and leaves the row untouched; writing the
// same instant again only refreshes run_id and updated_at.
func (s *Store) PutWatermark(ctx context.Context, wm ir.SyncWatermark) error {
	if wm.Watermark.IsZero() {
		return fmt.Errorf("put watermark %s/%s: zero watermark", wm.Source, wm.Type)
	}
	if !inNanosRange(wm.Watermark) || !inNanosRange(wm.UpdatedAt) {
		return fmt.Errorf("put watermark %s/%s: %s: %w", wm.Source, wm.Type, wm.Watermark, ErrTimeOutOfRange)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (source_system, item_type, watermark, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_system, item_type) DO UPDATE SET
			watermark = excluded.watermark,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
		WHERE excluded.watermark >= watermarks.watermark
	`,
		string(wm.Source),
		string(wm.Type),
		toNanos(wm.Watermark),
		wm.RunID,
		toNanos(wm.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put watermark %s/%s: %w", wm.Source, wm.Type, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("put watermark: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("put watermark %s/%s: %w", wm.Source, wm.Type, ErrWatermarkRegression)
	}
	return nil
}
