package cache

import (
	"context"

	"github.com/roach88/planmirror/internal/ir"
)

// Repository is the persistence contract of the cache. store.Store is the
// SQLite implementation.
//
// Reads of a missing key must return an error wrapping store.ErrNotFound.
type Repository interface {
	GetItem(ctx context.Context, key ir.ItemKey) (ir.CanonicalItem, error)
	ListSourceItems(ctx context.Context, source ir.SourceSystem) ([]ir.CanonicalItem, error)

	// UpsertItem performs the version check and the write atomically.
	UpsertItem(ctx context.Context, item ir.CanonicalItem) (ir.UpsertResult, error)

	ListRelations(ctx context.Context, scope ir.SourceSystem) ([]ir.Relation, error)

	// ApplyRelationDiff applies both sets in one transaction.
	ApplyRelationDiff(ctx context.Context, add, remove []ir.Relation) error

	SetLocalEdit(ctx context.Context, key ir.ItemKey, field, value string) error
	ClearLocalEdits(ctx context.Context, key ir.ItemKey) error
}
