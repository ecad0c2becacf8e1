package store

import (
	"context"
	"fmt"

	"github.com/roach88/planmirror/internal/ir"
)

const relationColumns = `kind, from_source, from_type, from_id, to_source, to_type, to_id`

const relationOrder = ` ORDER BY kind ASC, from_source ASC, from_type ASC, from_id COLLATE BINARY ASC,
	to_source ASC, to_type ASC, to_id COLLATE BINARY ASC`

func scanRelation(row rowScanner) (ir.Relation, error) {
	var kind, fs, ft, fid, ts, tt, tid string
	if err := row.Scan(&kind, &fs, &ft, &fid, &ts, &tt, &tid); err != nil {
		return ir.Relation{}, err
	}
	return ir.Relation{
		Kind: ir.RelationKind(kind),
		From: ir.ItemKey{Source: ir.SourceSystem(fs), Type: ir.ItemType(ft), ExternalID: fid},
		To:   ir.ItemKey{Source: ir.SourceSystem(ts), Type: ir.ItemType(tt), ExternalID: tid},
	}, nil
}

func (s *Store) queryRelations(ctx context.Context, where string, args ...any) ([]ir.Relation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relationColumns+` FROM relations WHERE `+where+relationOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()

	rels := []ir.Relation{}
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}
	return rels, nil
}

// ListRelations returns every stored edge owned by scope.
func (s *Store) ListRelations(ctx context.Context, scope ir.SourceSystem) ([]ir.Relation, error) {
	return s.queryRelations(ctx, `scope = ?`, string(scope))
}

// RelationsFrom returns edges whose from end is key.
func (s *Store) RelationsFrom(ctx context.Context, key ir.ItemKey) ([]ir.Relation, error) {
	return s.queryRelations(ctx, `from_source = ? AND from_type = ? AND from_id = ?`,
		string(key.Source), string(key.Type), key.ExternalID)
}

// RelationsTo returns edges whose to end is key.
func (s *Store) RelationsTo(ctx context.Context, key ir.ItemKey) ([]ir.Relation, error) {
	return s.queryRelations(ctx, `to_source = ? AND to_type = ? AND to_id = ?`,
		string(key.Source), string(key.Type), key.ExternalID)
}

// ApplyRelationDiff inserts add and deletes remove in one transaction.
// Inserting an existing edge and removing a missing one are no-ops, so a
// diff can be reapplied safely.
func (s *Store) ApplyRelationDiff(ctx context.Context, add, remove []ir.Relation) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply relation diff: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, r := range remove {
		if _, err := tx.ExecContext(ctx, `DELETE FROM relations WHERE id = ?`, r.ID()); err != nil {
			return fmt.Errorf("apply relation diff: delete %s: %w", r, err)
		}
	}

	for _, r := range add {
		if !r.Kind.Valid() {
			return fmt.Errorf("apply relation diff: invalid kind %q", r.Kind)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO relations
			(id, scope, kind, from_source, from_type, from_id, to_source, to_type, to_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			r.ID(),
			string(r.Scope()),
			string(r.Kind),
			string(r.From.Source), string(r.From.Type), r.From.ExternalID,
			string(r.To.Source), string(r.To.Type), r.To.ExternalID,
		)
		if err != nil {
			return fmt.Errorf("apply relation diff: insert %s: %w", r, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply relation diff: commit: %w", err)
	}
	return nil
}
