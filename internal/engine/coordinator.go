package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/planmirror/internal/cache"
	"github.com/roach88/planmirror/internal/connector"
	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/logging"
	"github.com/roach88/planmirror/internal/normalize"
	"github.com/roach88/planmirror/internal/store"
)

// RunStore persists watermarks and run records. store.Store implements it.
//
// GetWatermark must return an error wrapping store.ErrNotFound when the type
// has never synced.
type RunStore interface {
	GetWatermark(ctx context.Context, source ir.SourceSystem, typ ir.ItemType) (ir.SyncWatermark, error)
	PutWatermark(ctx context.Context, wm ir.SyncWatermark) error
	CreateRun(ctx context.Context, run ir.SyncRun) error
	FinalizeRun(ctx context.Context, run ir.SyncRun) error
}

// Reconciler is the part of cache.Reconciler the coordinator drives.
type Reconciler interface {
	Upsert(ctx context.Context, item ir.CanonicalItem) (ir.Outcome, error)
	RefreshEdges(ctx context.Context, source ir.SourceSystem) (cache.EdgeReport, error)
}

// Coordinator orchestrates sync runs: one run per (source, type), batches
// fetched through a bounded worker pool, retries with backoff, and the
// watermark advanced only as far as committed data allows.
//
// Thread-safety: all methods are safe for concurrent use. Two runs for the
// same (source, type) never overlap; the second gets ErrRunInProgress.
type Coordinator struct {
	fetcher    connector.Fetcher
	normalizer *normalize.Normalizer
	reconciler Reconciler
	runs       RunStore
	cfg        Config
	clock      Clock
	ids        RunIDGenerator
	log        *logging.Logger

	mu     sync.Mutex
	active map[typeKey]bool
}

type typeKey struct {
	source ir.SourceSystem
	typ    ir.ItemType
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the wall clock (tests use a fake that skips sleeps).
func WithClock(c Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithRunIDs replaces the run id generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(co *Coordinator) { co.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(co *Coordinator) { co.log = l }
}

// WithNormalizer sets the normalizer used for fetched payloads.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(co *Coordinator) { co.normalizer = n }
}

// NewCoordinator creates a Coordinator. cfg zero fields take defaults.
func NewCoordinator(fetcher connector.Fetcher, reconciler Reconciler, runs RunStore, cfg Config, opts ...Option) (*Coordinator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator config: %w", err)
	}
	c := &Coordinator{
		fetcher:    fetcher,
		reconciler: reconciler,
		runs:       runs,
		cfg:        cfg,
		clock:      SystemClock{},
		ids:        UUIDv7Generator{},
		log:        logging.Nop(),
		normalizer: normalize.New(normalize.Options{}),
		active:     make(map[typeKey]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// acquire marks (source, type) as running. It never blocks.
func (c *Coordinator) acquire(k typeKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[k] {
		return false
	}
	c.active[k] = true
	return true
}

func (c *Coordinator) release(k typeKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, k)
}

// RunRequest selects what RunType syncs.
type RunRequest struct {
	Source ir.SourceSystem
	Type   ir.ItemType

	// Full ignores the stored watermark and lists everything.
	Full bool
}

// batch is a contiguous slice of the sorted change listing.
type batch struct {
	index int
	ids   []string
	start time.Time
	end   time.Time
}

// batchResult is what a worker reports for one batch.
type batchResult struct {
	phase  Phase
	counts ir.RunCounts
	errors []ir.RunError
}

func (r batchResult) committed() bool {
	return r.phase == PhaseCommitted
}

// started is false for a batch skipped because the run was cancelled.
func (r batchResult) started() bool {
	return r.phase != ""
}

// RunType performs one sync run for a single (source, type).
//
// External-data failures never surface as an error: they are recorded on the
// returned run, which ends SUCCESS, PARTIAL or FAILED. An error is returned
// only for invalid requests, ErrRunInProgress, persistence failures of the
// run record itself, and watermark invariant violations.
func (c *Coordinator) RunType(ctx context.Context, req RunRequest) (ir.SyncRun, error) {
	if !req.Source.Valid() || !req.Type.BelongsTo(req.Source) {
		return ir.SyncRun{}, fmt.Errorf("run %s/%s: item type not produced by source", req.Source, req.Type)
	}
	key := typeKey{req.Source, req.Type}
	if !c.acquire(key) {
		return ir.SyncRun{}, fmt.Errorf("run %s/%s: %w", req.Source, req.Type, ErrRunInProgress)
	}
	defer c.release(key)

	run := ir.SyncRun{
		ID:        c.ids.Generate(),
		Source:    req.Source,
		Type:      req.Type,
		Full:      req.Full,
		StartedAt: c.clock.Now(),
		Status:    ir.RunRunning,
	}
	log := c.log.With("run_id", run.ID, "source", string(run.Source), "type", string(run.Type))

	// Finalization must survive cancellation of the caller's context.
	finalCtx := context.WithoutCancel(ctx)
	if err := c.runs.CreateRun(finalCtx, run); err != nil {
		return ir.SyncRun{}, fmt.Errorf("run %s/%s: %w", req.Source, req.Type, err)
	}

	current, hasWatermark, err := c.watermark(finalCtx, req.Source, req.Type)
	if err != nil {
		run.Status = ir.RunFailed
		run.Errors = append(run.Errors, ir.RunError{Kind: ir.RunErrList, Batch: -1, Message: err.Error()})
		return c.finalize(finalCtx, log, run)
	}
	var since time.Time
	if hasWatermark && !req.Full {
		since = current.Watermark
	}
	log.Info("sync run started", "full", since.IsZero(), "since", since)

	changed, err := c.listChanged(ctx, log, req, since)
	if err != nil {
		run.Status = ir.RunFailed
		run.Errors = append(run.Errors, ir.RunError{Kind: ir.RunErrList, Batch: -1, Message: err.Error()})
		return c.finalize(finalCtx, log, run)
	}

	batches := partition(changed, c.cfg.BatchSize)
	run.Batches = len(batches)
	results := c.dispatch(ctx, log, req, since, batches)

	committed, firstUnstarted, unstarted := 0, -1, 0
	for i, res := range results {
		run.Counts.Add(res.counts)
		run.Errors = append(run.Errors, res.errors...)
		switch {
		case res.committed():
			committed++
		case res.started():
			run.FailedBatches++
		default:
			unstarted++
			if firstUnstarted < 0 {
				firstUnstarted = i
			}
		}
	}
	cancelled := ctx.Err() != nil || unstarted > 0
	if unstarted > 0 {
		run.Errors = append(run.Errors, ir.RunError{
			Kind:    ir.RunErrCancelled,
			Batch:   firstUnstarted,
			Message: fmt.Sprintf("run cancelled, %d of %d batches not started", unstarted, len(batches)),
		})
	}

	switch {
	case committed == len(batches):
		run.Status = ir.RunSuccess
	case cancelled:
		run.Status = ir.RunPartial
	case committed == 0:
		run.Status = ir.RunFailed
	default:
		run.Status = ir.RunPartial
	}

	var guardErr error
	if next, ok := nextWatermark(run.StartedAt, batches, results); ok {
		guardErr = c.advanceWatermark(finalCtx, log, run, current, hasWatermark, next, batches, results)
		if guardErr != nil {
			run.Errors = append(run.Errors, ir.RunError{Kind: ir.RunErrWatermark, Batch: -1, Message: guardErr.Error()})
		}
	}

	run, err = c.finalize(finalCtx, log, run)
	if err != nil {
		return run, err
	}
	return run, guardErr
}

// watermark loads the stored watermark; absent is not an error.
func (c *Coordinator) watermark(ctx context.Context, source ir.SourceSystem, typ ir.ItemType) (ir.SyncWatermark, bool, error) {
	wm, err := c.runs.GetWatermark(ctx, source, typ)
	if errors.Is(err, store.ErrNotFound) {
		return ir.SyncWatermark{}, false, nil
	}
	if err != nil {
		return ir.SyncWatermark{}, false, err
	}
	return wm, true, nil
}

// listChanged pages through the change listing. Duplicate ids keep their
// latest change time; the result is sorted by (changedAt, id).
func (c *Coordinator) listChanged(ctx context.Context, log *logging.Logger, req RunRequest, since time.Time) ([]connector.ChangedID, error) {
	latest := make(map[string]time.Time)
	cursor := ""
	for page := 0; ; page++ {
		var resp connector.ListPage
		_, err := retry(ctx, c.clock, c.cfg, connector.IsRetryable,
			func(attempt int, err error) {
				log.Warn("listing page failed, retrying", "page", page, "attempt", attempt, "error", err.Error())
			},
			func(ctx context.Context) error {
				var err error
				resp, err = c.fetcher.ListChanged(ctx, connector.ListRequest{
					Source: req.Source,
					Type:   req.Type,
					Since:  since,
					Cursor: cursor,
				})
				return err
			})
		if err != nil {
			return nil, fmt.Errorf("list changed %s/%s page %d: %w", req.Source, req.Type, page, err)
		}
		for _, id := range resp.IDs {
			if id.ID == "" {
				continue
			}
			if prev, ok := latest[id.ID]; !ok || id.ChangedAt.After(prev) {
				latest[id.ID] = id.ChangedAt
			}
		}
		if resp.NextCursor == "" || resp.NextCursor == cursor {
			break
		}
		cursor = resp.NextCursor
	}

	out := make([]connector.ChangedID, 0, len(latest))
	for id, at := range latest {
		out = append(out, connector.ChangedID{ID: id, ChangedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ChangedAt.Equal(out[j].ChangedAt) {
			return out[i].ChangedAt.Before(out[j].ChangedAt)
		}
		return out[i].ID < out[j].ID
	})
	log.Debug("change listing complete", "changed", len(out))
	return out, nil
}

// partition splits a sorted listing into batches of at most size ids.
func partition(changed []connector.ChangedID, size int) []batch {
	var out []batch
	for start := 0; start < len(changed); start += size {
		end := min(start+size, len(changed))
		b := batch{
			index: len(out),
			ids:   make([]string, 0, end-start),
			start: changed[start].ChangedAt,
			end:   changed[end-1].ChangedAt,
		}
		for _, c := range changed[start:end] {
			b.ids = append(b.ids, c.ID)
		}
		out = append(out, b)
	}
	return out
}

// dispatch runs batches through a bounded worker pool. Cancellation is
// checked before each dispatch and again when a worker picks the batch up;
// a skipped batch keeps a zero result.
func (c *Coordinator) dispatch(ctx context.Context, log *logging.Logger, req RunRequest, since time.Time, batches []batch) []batchResult {
	results := make([]batchResult, len(batches))
	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[b.index] = c.processBatch(ctx, log.With("batch", b.index), req, since, b)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// processBatch drives one batch through the phase machine.
//
// The fetch honors ctx, so cancellation aborts an in-flight fetch or backoff.
// Once a batch is fetched it is reconciled to the end under a non-cancelled
// context, so a batch is never half written.
func (c *Coordinator) processBatch(ctx context.Context, log *logging.Logger, req RunRequest, since time.Time, b batch) batchResult {
	pm := newPhaseMachine()
	res := batchResult{}
	fail := func(kind ir.RunErrorKind, msg string) batchResult {
		res.errors = append(res.errors, ir.RunError{Kind: kind, Batch: b.index, Message: msg})
		res.counts.Failed += len(b.ids)
		_ = pm.to(PhaseFailed)
		res.phase = pm.current()
		return res
	}

	_ = pm.to(PhaseFetching)
	var docs []ir.Document
	attempts, err := retry(ctx, c.clock, c.cfg, connector.IsRetryable,
		func(attempt int, err error) {
			_ = pm.to(PhaseFetching)
			log.Warn("batch fetch failed, retrying",
				"attempt", attempt,
				"kind", string(connector.KindOf(err)),
				"error", err.Error(),
			)
		},
		func(ctx context.Context) error {
			var err error
			docs, err = c.fetcher.FetchBatch(ctx, connector.BatchRequest{
				Source: req.Source,
				Type:   req.Type,
				Since:  since,
				IDs:    b.ids,
			})
			return err
		})
	if err != nil {
		kind := ir.RunErrFetch
		if ctx.Err() != nil {
			kind = ir.RunErrCancelled
		}
		log.Error("batch fetch failed", "attempts", attempts, "error", err.Error())
		return fail(kind, err.Error())
	}

	if err := pm.to(PhaseNormalizing); err != nil {
		return fail(ir.RunErrReconcile, err.Error())
	}
	normalized := c.normalizer.NormalizeBatch(req.Source, req.Type, docs)
	res.counts.Processed += len(docs)
	for _, ne := range normalized.Errors {
		res.counts.Failed++
		res.errors = append(res.errors, ir.RunError{
			Kind:       ir.RunErrNormalization,
			Batch:      b.index,
			ExternalID: ne.ExternalID,
			Message:    ne.Error(),
		})
	}

	if err := pm.to(PhaseReconciling); err != nil {
		return fail(ir.RunErrReconcile, err.Error())
	}
	reconcileCtx := context.WithoutCancel(ctx)
	syncedAt := c.clock.Now()
	failed := false
	for _, item := range normalized.Items {
		item.LastSyncedAt = syncedAt
		var outcome ir.Outcome
		_, err := retry(reconcileCtx, c.clock, c.cfg, store.IsBusy,
			func(attempt int, err error) {
				_ = pm.to(PhaseReconciling)
				log.Warn("store busy, retrying upsert", "item", item.Key().String(), "attempt", attempt)
			},
			func(ctx context.Context) error {
				var err error
				outcome, err = c.reconciler.Upsert(ctx, item)
				return err
			})
		if err != nil {
			failed = true
			res.counts.Failed++
			res.errors = append(res.errors, ir.RunError{
				Kind:       ir.RunErrReconcile,
				Batch:      b.index,
				ExternalID: item.ExternalID,
				Message:    err.Error(),
			})
			continue
		}
		switch outcome {
		case ir.OutcomeCreated:
			res.counts.Created++
		case ir.OutcomeUpdated:
			res.counts.Updated++
		default:
			res.counts.Unchanged++
		}
	}

	next := PhaseCommitted
	if failed {
		next = PhaseFailed
	}
	if err := pm.to(next); err != nil {
		return fail(ir.RunErrReconcile, err.Error())
	}
	res.phase = pm.current()
	log.Debug("batch done",
		"phase", string(res.phase),
		"fetched", len(docs),
		"created", res.counts.Created,
		"updated", res.counts.Updated,
		"unchanged", res.counts.Unchanged,
	)
	return res
}

// nextWatermark computes where the watermark may move after a run.
//
// All batches committed: the run start time. Otherwise the end of the
// contiguous committed prefix, capped strictly below the start of the first
// batch that did not commit. No committed prefix: no move. Listings without
// change times give undated windows, which cannot hold a position either.
func nextWatermark(runStart time.Time, batches []batch, results []batchResult) (time.Time, bool) {
	prefix := 0
	for prefix < len(batches) && results[prefix].committed() {
		prefix++
	}
	if prefix == len(batches) {
		return runStart, true
	}
	if prefix == 0 {
		return time.Time{}, false
	}
	end := batches[prefix-1].end
	if end.IsZero() {
		return time.Time{}, false
	}
	limit := batches[prefix].start.Add(-time.Nanosecond)
	if !limit.After(time.Time{}) {
		return time.Time{}, false
	}
	if limit.Before(end) {
		end = limit
	}
	return end, true
}

// advanceWatermark persists next after checking the watermark invariants.
// A value at or before the current watermark leaves it untouched. A value
// reaching a batch that did not commit, or a write the store refuses as a
// regression, is reported as WatermarkAdvanceBlocked.
func (c *Coordinator) advanceWatermark(ctx context.Context, log *logging.Logger, run ir.SyncRun,
	current ir.SyncWatermark, hasCurrent bool, next time.Time, batches []batch, results []batchResult) error {

	for i, b := range batches {
		if !results[i].committed() && !next.Before(b.start) {
			return NewWatermarkAdvanceBlocked(run, current.Watermark, next,
				fmt.Sprintf("watermark would pass batch %d which did not commit", i))
		}
	}
	if hasCurrent && !next.After(current.Watermark) {
		if next.Before(current.Watermark) {
			log.Warn("watermark kept, computed value is older", "current", current.Watermark, "computed", next)
		}
		return nil
	}

	wm := ir.SyncWatermark{
		Source:    run.Source,
		Type:      run.Type,
		Watermark: next,
		RunID:     run.ID,
		UpdatedAt: c.clock.Now(),
	}
	if err := c.runs.PutWatermark(ctx, wm); err != nil {
		if errors.Is(err, store.ErrWatermarkRegression) {
			return NewWatermarkAdvanceBlocked(run, current.Watermark, next, err.Error())
		}
		return fmt.Errorf("advance watermark: %w", err)
	}
	log.Info("watermark advanced", "watermark", next)
	return nil
}

func (c *Coordinator) finalize(ctx context.Context, log *logging.Logger, run ir.SyncRun) (ir.SyncRun, error) {
	run.FinishedAt = c.clock.Now()
	if err := c.runs.FinalizeRun(ctx, run); err != nil {
		return run, fmt.Errorf("finalize run %s: %w", run.ID, err)
	}
	log.Info("sync run finished",
		"status", string(run.Status),
		"batches", run.Batches,
		"failed_batches", run.FailedBatches,
		"processed", run.Counts.Processed,
		"created", run.Counts.Created,
		"updated", run.Counts.Updated,
		"unchanged", run.Counts.Unchanged,
		"failed", run.Counts.Failed,
		"duration", run.FinishedAt.Sub(run.StartedAt),
	)
	return run, nil
}

// SourceResult summarizes SyncSource.
type SourceResult struct {
	Source ir.SourceSystem
	Runs   []ir.SyncRun
	Edges  cache.EdgeReport
}

// SyncSource runs every requested type of source concurrently, then
// refreshes the source's edges once. An empty types list syncs all types of
// the source. Edges are refreshed even when some runs failed or ctx was
// cancelled.
//
// The returned error joins the per-type errors and the edge refresh error.
func (c *Coordinator) SyncSource(ctx context.Context, source ir.SourceSystem, types []ir.ItemType, full bool) (SourceResult, error) {
	if !source.Valid() {
		return SourceResult{}, fmt.Errorf("sync: unknown source %q", source)
	}
	if len(types) == 0 {
		types = ir.TypesFor(source)
	}

	res := SourceResult{Source: source, Runs: make([]ir.SyncRun, len(types))}
	errs := make([]error, len(types))
	var g errgroup.Group
	for i, typ := range types {
		g.Go(func() error {
			run, err := c.RunType(ctx, RunRequest{Source: source, Type: typ, Full: full})
			res.Runs[i] = run
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", typ, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	kept := res.Runs[:0]
	for _, run := range res.Runs {
		if run.ID != "" {
			kept = append(kept, run)
		}
	}
	res.Runs = kept

	edges, err := c.reconciler.RefreshEdges(context.WithoutCancel(ctx), source)
	if err != nil {
		errs = append(errs, fmt.Errorf("refresh edges: %w", err))
	}
	res.Edges = edges
	return res, errors.Join(errs...)
}
