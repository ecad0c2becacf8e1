package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/planmirror/internal/graph"
	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/logging"
	"github.com/roach88/planmirror/internal/store"
)

// Options configures a Reconciler. Zero values select defaults.
type Options struct {
	Logger *logging.Logger
	Now    func() time.Time

	// OnConflict, when set, observes every recorded conflict.
	OnConflict func(*ReconciliationConflict)
}

// Reconciler applies remote state to a Repository.
type Reconciler struct {
	repo       Repository
	builder    *graph.Builder
	log        *logging.Logger
	now        func() time.Time
	onConflict func(*ReconciliationConflict)

	conflicts atomic.Int64

	// edgeMu serializes RefreshEdges per source system.
	edgeMu map[ir.SourceSystem]*sync.Mutex

	flight singleflight.Group
}

// New creates a Reconciler over repo.
func New(repo Repository, opts Options) *Reconciler {
	r := &Reconciler{
		repo:       repo,
		builder:    graph.NewBuilder(),
		log:        opts.Logger,
		now:        opts.Now,
		onConflict: opts.OnConflict,
		edgeMu: map[ir.SourceSystem]*sync.Mutex{
			ir.SourcePlanning: {},
			ir.SourceTracking: {},
		},
	}
	if r.log == nil {
		r.log = logging.Nop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Conflicts returns how many reconciliation conflicts were recorded.
func (r *Reconciler) Conflicts() int64 {
	return r.conflicts.Load()
}

// Get returns the stored item for key. A missing key yields an error
// wrapping store.ErrNotFound.
func (r *Reconciler) Get(ctx context.Context, key ir.ItemKey) (ir.CanonicalItem, error) {
	return r.repo.GetItem(ctx, key)
}

// Upsert reconciles one normalized item and reports what happened to it.
// A version conflict resolves to OutcomeUnchanged and is recorded, not
// returned.
func (r *Reconciler) Upsert(ctx context.Context, item ir.CanonicalItem) (ir.Outcome, error) {
	if item.LastSyncedAt.IsZero() {
		item.LastSyncedAt = r.now().UTC()
	}
	res, err := r.repo.UpsertItem(ctx, item)
	if err != nil {
		return "", fmt.Errorf("reconcile %s: %w", item.Key(), err)
	}
	if res.Conflict {
		r.recordConflict(&ReconciliationConflict{
			Key:             item.Key(),
			IncomingVersion: item.Version,
			StoredVersion:   res.Stored.Version,
			IncomingHash:    item.ContentHash,
			StoredHash:      res.Stored.ContentHash,
		})
	}
	return res.Outcome, nil
}

func (r *Reconciler) recordConflict(c *ReconciliationConflict) {
	r.conflicts.Add(1)
	r.log.Warn("reconciliation conflict, keeping stored record",
		"item", c.Key.String(),
		"incoming_version", c.IncomingVersion,
		"stored_version", c.StoredVersion,
	)
	if r.onConflict != nil {
		r.onConflict(c)
	}
}

// ApplyEdgeDiff applies an add/remove edge set atomically.
func (r *Reconciler) ApplyEdgeDiff(ctx context.Context, add, remove []ir.Relation) error {
	if err := r.repo.ApplyRelationDiff(ctx, add, remove); err != nil {
		return fmt.Errorf("apply edge diff: %w", err)
	}
	return nil
}

// EdgeReport summarizes one edge refresh.
type EdgeReport struct {
	Scope   ir.SourceSystem `json:"scope"`
	Added   int             `json:"added"`
	Removed int             `json:"removed"`
	Total   int             `json:"total"`
	Hash    string          `json:"hash"`
	Gaps    []graph.Gap     `json:"gaps,omitempty"`
}

// RefreshEdges recomputes every edge owned by source from the full stored
// item set, diffs it against the stored edges of that scope and applies the
// difference. Calls for the same source never overlap.
func (r *Reconciler) RefreshEdges(ctx context.Context, source ir.SourceSystem) (EdgeReport, error) {
	mu, ok := r.edgeMu[source]
	if !ok {
		return EdgeReport{}, fmt.Errorf("refresh edges: unknown source system %q", source)
	}
	mu.Lock()
	defer mu.Unlock()

	own, err := r.repo.ListSourceItems(ctx, source)
	if err != nil {
		return EdgeReport{}, fmt.Errorf("refresh edges %s: %w", source, err)
	}
	// Items of the other system only resolve cross-system link targets.
	other, err := r.repo.ListSourceItems(ctx, source.Other())
	if err != nil {
		return EdgeReport{}, fmt.Errorf("refresh edges %s: %w", source, err)
	}

	items := make([]ir.CanonicalItem, 0, len(own)+len(other))
	items = append(items, own...)
	items = append(items, other...)
	result := r.builder.Rebuild(source, items)

	stored, err := r.repo.ListRelations(ctx, source)
	if err != nil {
		return EdgeReport{}, fmt.Errorf("refresh edges %s: %w", source, err)
	}
	add, remove := graph.Diff(result.Edges, stored)
	if err := r.ApplyEdgeDiff(ctx, add, remove); err != nil {
		return EdgeReport{}, fmt.Errorf("refresh edges %s: %w", source, err)
	}

	report := EdgeReport{
		Scope:   source,
		Added:   len(add),
		Removed: len(remove),
		Total:   len(result.Edges),
		Hash:    result.Hash(),
		Gaps:    result.Gaps,
	}
	r.log.Info("edges refreshed",
		"scope", string(source),
		"added", report.Added,
		"removed", report.Removed,
		"total", report.Total,
		"gaps", len(report.Gaps),
	)
	for _, g := range report.Gaps {
		r.log.Debug("edge gap", "item", g.Item.String(), "kind", string(g.Kind), "missing", g.Missing, "reason", g.Reason)
	}
	return report, nil
}

// SetLocalEdit stores an unsynced local override for one field.
func (r *Reconciler) SetLocalEdit(ctx context.Context, key ir.ItemKey, field, value string) error {
	if !ir.IsEditableField(field) {
		return fmt.Errorf("set local edit: field %q is not editable", field)
	}
	return r.repo.SetLocalEdit(ctx, key, field, value)
}

// ClearLocalEdits drops every local override of an item.
func (r *Reconciler) ClearLocalEdits(ctx context.Context, key ir.ItemKey) error {
	return r.repo.ClearLocalEdits(ctx, key)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
