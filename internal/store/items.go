package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/planmirror/internal/ir"
)

const itemColumns = `source_system, item_type, external_id, title, description, status,
	parent_external_id, cross_system_ref, containers, raw_payload, content_hash,
	last_synced_at, version, local_edits`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (ir.CanonicalItem, error) {
	var (
		it                         ir.CanonicalItem
		source, typ                string
		containers, payload, edits string
		syncedAt                   int64
	)
	err := row.Scan(&source, &typ, &it.ExternalID, &it.Title, &it.Description, &it.Status,
		&it.ParentExternalID, &it.CrossSystemRef, &containers, &payload, &it.ContentHash,
		&syncedAt, &it.Version, &edits)
	if err != nil {
		return ir.CanonicalItem{}, err
	}
	it.Source = ir.SourceSystem(source)
	it.Type = ir.ItemType(typ)
	it.LastSyncedAt = fromNanos(syncedAt)

	if it.Containers, err = unmarshalContainers(containers); err != nil {
		return ir.CanonicalItem{}, err
	}
	if it.RawPayload, err = unmarshalPayload(payload); err != nil {
		return ir.CanonicalItem{}, err
	}
	if it.LocalEdits, err = unmarshalLocalEdits(edits); err != nil {
		return ir.CanonicalItem{}, err
	}
	return it, nil
}

// GetItem returns the stored item for key, or ErrNotFound.
func (s *Store) GetItem(ctx context.Context, key ir.ItemKey) (ir.CanonicalItem, error) {
	return getItem(ctx, s.db, key)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getItem(ctx context.Context, q querier, key ir.ItemKey) (ir.CanonicalItem, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE source_system = ? AND item_type = ? AND external_id = ?
	`, string(key.Source), string(key.Type), key.ExternalID)

	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.CanonicalItem{}, fmt.Errorf("get item %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return ir.CanonicalItem{}, fmt.Errorf("get item %s: %w", key, err)
	}
	return it, nil
}

// ItemFilter narrows ListItems. Zero fields match everything.
type ItemFilter struct {
	Source ir.SourceSystem
	Type   ir.ItemType
	Status string
}

// ListItems returns items matching filter ordered by source, type, external id.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListItems(ctx context.Context, filter ItemFilter) ([]ir.CanonicalItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1 = 1`
	var args []any
	if filter.Source != "" {
		query += ` AND source_system = ?`
		args = append(args, string(filter.Source))
	}
	if filter.Type != "" {
		query += ` AND item_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY source_system ASC, item_type ASC, external_id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []ir.CanonicalItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// ListSourceItems returns every item of one source system.
func (s *Store) ListSourceItems(ctx context.Context, source ir.SourceSystem) ([]ir.CanonicalItem, error) {
	return s.ListItems(ctx, ItemFilter{Source: source})
}

// CountItems returns the number of stored items per item type for a source.
func (s *Store) CountItems(ctx context.Context, source ir.SourceSystem) (map[ir.ItemType]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_type, COUNT(*) FROM items
		WHERE source_system = ?
		GROUP BY item_type
	`, string(source))
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[ir.ItemType]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[ir.ItemType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// UpsertItem reconciles one incoming item against the stored row.
//
// Version rule:
//   - no stored row: insert; an unversioned item (Version 0) starts at 1
//   - incoming Version > stored: update to the incoming version
//   - incoming Version <= stored: unchanged; Conflict is set when the
//     incoming record is older or differs at the same version
//   - incoming Version == 0: unchanged when the content hash matches,
//     otherwise update to stored version + 1
//
// A stored cross_system_ref survives an empty incoming value. local_edits are
// never written by this method.
func (s *Store) UpsertItem(ctx context.Context, in ir.CanonicalItem) (ir.UpsertResult, error) {
	key := in.Key()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.UpsertResult{}, fmt.Errorf("upsert item %s: begin tx: %w", key, err)
	}
	defer tx.Rollback() // No-op if committed

	stored, err := getItem(ctx, tx, key)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return ir.UpsertResult{}, fmt.Errorf("upsert item: %w", err)
	}

	merged := in
	merged.LocalEdits = nil
	if found && merged.CrossSystemRef == "" {
		merged.CrossSystemRef = stored.CrossSystemRef
	}
	if merged.ContentHash, err = ir.ContentHash(merged); err != nil {
		return ir.UpsertResult{}, fmt.Errorf("upsert item %s: %w", key, err)
	}

	res := ir.UpsertResult{}
	switch {
	case !found:
		res.Outcome = ir.OutcomeCreated
		if merged.Version <= 0 {
			merged.Version = 1
		}
	case in.Version == 0:
		if merged.ContentHash == stored.ContentHash {
			res.Outcome = ir.OutcomeUnchanged
		} else {
			res.Outcome = ir.OutcomeUpdated
			merged.Version = stored.Version + 1
		}
	case in.Version <= stored.Version:
		res.Outcome = ir.OutcomeUnchanged
		res.Conflict = in.Version < stored.Version || merged.ContentHash != stored.ContentHash
	default:
		res.Outcome = ir.OutcomeUpdated
	}

	if found {
		res.PreviousVersion = stored.Version
	}
	if res.Outcome == ir.OutcomeUnchanged {
		res.Stored = stored
		return res, nil
	}

	if err := writeItem(ctx, tx, merged); err != nil {
		if errors.Is(err, errStaleWrite) {
			return ir.UpsertResult{Outcome: ir.OutcomeUnchanged, Stored: stored, PreviousVersion: stored.Version, Conflict: true}, nil
		}
		return ir.UpsertResult{}, fmt.Errorf("upsert item %s: %w", key, err)
	}

	res.Stored, err = getItem(ctx, tx, key)
	if err != nil {
		return ir.UpsertResult{}, fmt.Errorf("upsert item: reread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ir.UpsertResult{}, fmt.Errorf("upsert item %s: commit: %w", key, err)
	}
	return res, nil
}

// errStaleWrite is returned by writeItem when the conditional update matched
// no row because a newer version is already stored.
var errStaleWrite = errors.New("stored version is not older than the write")

func writeItem(ctx context.Context, tx *sql.Tx, it ir.CanonicalItem) error {
	containers, err := marshalContainers(it.Containers)
	if err != nil {
		return err
	}
	payload, err := marshalPayload(it.RawPayload)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO items
		(source_system, item_type, external_id, title, description, status,
		 parent_external_id, cross_system_ref, containers, raw_payload, content_hash,
		 last_synced_at, version, local_edits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '{}')
		ON CONFLICT(source_system, item_type, external_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			parent_external_id = excluded.parent_external_id,
			cross_system_ref = CASE WHEN excluded.cross_system_ref = ''
				THEN items.cross_system_ref ELSE excluded.cross_system_ref END,
			containers = excluded.containers,
			raw_payload = excluded.raw_payload,
			content_hash = excluded.content_hash,
			last_synced_at = excluded.last_synced_at,
			version = excluded.version
		WHERE excluded.version > items.version
	`,
		string(it.Source),
		string(it.Type),
		it.ExternalID,
		it.Title,
		it.Description,
		it.Status,
		it.ParentExternalID,
		it.CrossSystemRef,
		containers,
		payload,
		it.ContentHash,
		toNanos(it.LastSyncedAt),
		it.Version,
	)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errStaleWrite
	}
	return nil
}

// SetLocalEdit records a local override for one editable field of a stored item.
func (s *Store) SetLocalEdit(ctx context.Context, key ir.ItemKey, field, value string) error {
	if !ir.IsEditableField(field) {
		return fmt.Errorf("set local edit %s: field %q is not editable", key, field)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set local edit: begin tx: %w", err)
	}
	defer tx.Rollback()

	it, err := getItem(ctx, tx, key)
	if err != nil {
		return fmt.Errorf("set local edit: %w", err)
	}
	if it.LocalEdits == nil {
		it.LocalEdits = make(map[string]string, 1)
	}
	it.LocalEdits[field] = value

	if err := writeLocalEdits(ctx, tx, key, it.LocalEdits); err != nil {
		return fmt.Errorf("set local edit %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set local edit: commit: %w", err)
	}
	return nil
}

// ClearLocalEdits drops all local overrides of a stored item.
func (s *Store) ClearLocalEdits(ctx context.Context, key ir.ItemKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear local edits: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := getItem(ctx, tx, key); err != nil {
		return fmt.Errorf("clear local edits: %w", err)
	}
	if err := writeLocalEdits(ctx, tx, key, nil); err != nil {
		return fmt.Errorf("clear local edits %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear local edits: commit: %w", err)
	}
	return nil
}

func writeLocalEdits(ctx context.Context, tx *sql.Tx, key ir.ItemKey, edits map[string]string) error {
	data, err := marshalLocalEdits(edits)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE items SET local_edits = ?
		WHERE source_system = ? AND item_type = ? AND external_id = ?
	`, data, string(key.Source), string(key.Type), key.ExternalID)
	return err
}
