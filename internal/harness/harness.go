package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/planmirror/internal/cache"
	"github.com/roach88/planmirror/internal/engine"
	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/logging"
	"github.com/roach88/planmirror/internal/store"
	"github.com/roach88/planmirror/internal/testutil"
)

// ClockStart is the scenario clock's initial time.
var ClockStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	stepAdvance     = time.Hour
	addedItemWindow = 30 * time.Minute
	defaultPageSize = 100
)

// Harness executes one scenario.
type Harness struct {
	store   *store.Store
	fetcher *testutil.ScriptedFetcher
	clock   *testutil.FakeClock
	coord   *engine.Coordinator
	log     *logging.Logger

	// changedAt records the change time of every added item by key.
	changedAt map[ir.ItemKey]time.Time
	seeded    int
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	log *logging.Logger
}

// WithLogger sends coordinator and cache logs to log instead of discarding them.
func WithLogger(log *logging.Logger) Option {
	return func(o *runOptions) { o.log = log }
}

// seqIDs hands out run-001, run-002 and so on.
type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) Generate() string {
	return fmt.Sprintf("run-%03d", g.n.Add(1))
}

// Run executes a scenario against a fresh in-memory store and returns the
// step outcomes with every failed expectation recorded in Result.Errors.
//
// Execution flow:
//  1. Seed the scripted connector with items and failures
//  2. Per step: advance the clock, add items, sync, check expectations
//  3. Evaluate assertions against the final mirror
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Nop()
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	pageSize := scenario.Config.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	h := &Harness{
		store:     st,
		fetcher:   testutil.NewScriptedFetcher(pageSize),
		clock:     testutil.NewFakeClock(ClockStart),
		log:       o.log,
		changedAt: make(map[ir.ItemKey]time.Time),
	}

	reconciler := cache.New(st, cache.Options{Now: h.clock.Now, Logger: o.log.Named("cache")})
	h.coord, err = engine.NewCoordinator(h.fetcher, reconciler, st, engine.Config{
		BatchSize:   scenario.Config.BatchSize,
		Workers:     scenario.Config.Workers,
		MaxAttempts: scenario.Config.MaxAttempts,
	},
		engine.WithClock(h.clock),
		engine.WithRunIDs(&seqIDs{}),
		engine.WithLogger(o.log.Named("sync")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build coordinator: %w", err)
	}

	if err := h.seed(scenario); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// seed registers the initial items, a minute apart, starting a day before
// the clock, and scripts the failures.
func (h *Harness) seed(s *Scenario) error {
	base := ClockStart.Add(-24 * time.Hour)
	for _, group := range s.Items {
		if err := h.add(group, func() time.Time {
			t := base.Add(time.Duration(h.seeded) * time.Minute)
			h.seeded++
			return t
		}); err != nil {
			return err
		}
	}

	for _, f := range s.Failures {
		var errs []error
		for _, token := range f.Errors {
			e, err := scriptedError(token)
			if err != nil {
				return err
			}
			errs = append(errs, e)
		}
		switch {
		case f.List:
			h.fetcher.FailList(errs...)
		case f.Always != "":
			e, err := scriptedError(f.Always)
			if err != nil {
				return err
			}
			h.fetcher.FailBatchAlways(f.Batch, e)
		default:
			h.fetcher.FailBatch(f.Batch, errs...)
		}
	}
	return nil
}

// add registers the documents of group, taking change times from next.
func (h *Harness) add(group ItemSpec, next func() time.Time) error {
	src, typ, err := sourceAndType(group.Source, group.Type)
	if err != nil {
		return err
	}
	for _, id := range group.ids() {
		at := next()
		h.fetcher.Add(src, typ, id, at, document(src, id, group.Doc))
		h.changedAt[ir.ItemKey{Source: src, Type: typ, ExternalID: id}] = at
	}
	return nil
}

// document builds the payload for id: a copy of doc with the id set, or a
// minimal payload of the source's shape.
func document(src ir.SourceSystem, id string, doc map[string]any) ir.Document {
	if doc == nil {
		if src == ir.SourceTracking {
			return testutil.TrackingDoc(id, "Item "+id, 1)
		}
		return testutil.PlanningDoc(id, "Item "+id, 1)
	}
	out := make(ir.Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["id"] = id
	return out
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	h.clock.Advance(stepAdvance)

	added := 0
	windowStart := h.clock.Now().Add(-addedItemWindow)
	for _, group := range step.Add {
		if err := h.add(group, func() time.Time {
			t := windowStart.Add(time.Duration(added) * time.Second)
			added++
			return t
		}); err != nil {
			return err
		}
	}
	if step.Sync == nil {
		return nil
	}

	src, err := ir.ParseSourceSystem(step.Sync.Source)
	if err != nil {
		return err
	}
	var types []ir.ItemType
	for _, t := range step.Sync.Types {
		typ, err := ir.ParseItemType(t)
		if err != nil {
			return err
		}
		types = append(types, typ)
	}
	if len(types) == 0 {
		types = ir.TypesFor(src)
	}

	sr := StepResult{Index: index, Source: src}
	if sr.Before, err = h.watermarks(ctx, src, types); err != nil {
		return err
	}
	sleepsBefore := len(h.clock.Sleeps())

	res, syncErr := h.coord.SyncSource(ctx, src, types, step.Sync.Full)
	sr.Runs, sr.Edges, sr.Err = res.Runs, res.Edges, syncErr
	sr.Sleeps = h.clock.Sleeps()[sleepsBefore:]
	if sr.After, err = h.watermarks(ctx, src, types); err != nil {
		return err
	}
	result.Steps = append(result.Steps, sr)

	h.checkStep(step, sr, result)
	return nil
}

func (h *Harness) watermarks(ctx context.Context, src ir.SourceSystem, types []ir.ItemType) (map[ir.ItemType]time.Time, error) {
	out := make(map[ir.ItemType]time.Time, len(types))
	for _, typ := range types {
		wm, err := h.store.GetWatermark(ctx, src, typ)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[typ] = wm.Watermark
	}
	return out, nil
}

// checkStep compares a step's outcome with its expectations.
func (h *Harness) checkStep(step Step, sr StepResult, result *Result) {
	prefix := fmt.Sprintf("step %d", sr.Index)

	switch {
	case step.Error == "" && sr.Err != nil:
		result.AddError(fmt.Sprintf("%s: unexpected sync error: %v", prefix, sr.Err))
	case step.Error != "" && sr.Err == nil:
		result.AddError(fmt.Sprintf("%s: expected sync error containing %q, got none", prefix, step.Error))
	case step.Error != "" && !strings.Contains(sr.Err.Error(), step.Error):
		result.AddError(fmt.Sprintf("%s: sync error %q does not contain %q", prefix, sr.Err, step.Error))
	}

	if step.Sleeps != nil {
		want := make([]time.Duration, len(step.Sleeps))
		for i, s := range step.Sleeps {
			want[i], _ = time.ParseDuration(s)
		}
		if !equalDurations(want, sr.Sleeps) {
			result.AddError(fmt.Sprintf("%s: sleeps %v, want %v", prefix, sr.Sleeps, want))
		}
	}

	for _, e := range step.Expect {
		typ, _ := ir.ParseItemType(e.Type)
		run, ok := sr.Run(typ)
		where := fmt.Sprintf("%s %s", prefix, typ)
		if !ok {
			result.AddError(fmt.Sprintf("%s: no run recorded", where))
			continue
		}
		for _, msg := range h.checkRun(e, run, sr) {
			result.AddError(where + ": " + msg)
		}
	}
}

func (h *Harness) checkRun(e RunExpect, run ir.SyncRun, sr StepResult) []string {
	var errs []string
	if e.Status != "" && string(run.Status) != strings.ToUpper(e.Status) {
		errs = append(errs, fmt.Sprintf("status %s, want %s", run.Status, strings.ToUpper(e.Status)))
	}

	got := map[string]int{
		"processed": run.Counts.Processed,
		"created":   run.Counts.Created,
		"updated":   run.Counts.Updated,
		"unchanged": run.Counts.Unchanged,
		"failed":    run.Counts.Failed,
	}
	for k, want := range e.Counts {
		if got[k] != want {
			errs = append(errs, fmt.Sprintf("%s count %d, want %d", k, got[k], want))
		}
	}

	if e.FailedBatches != nil && run.FailedBatches != *e.FailedBatches {
		errs = append(errs, fmt.Sprintf("failed batches %d, want %d", run.FailedBatches, *e.FailedBatches))
	}

	if e.ErrorKinds != nil {
		kinds := errorKinds(run)
		if strings.Join(kinds, ",") != strings.Join(e.ErrorKinds, ",") {
			errs = append(errs, fmt.Sprintf("error kinds %v, want %v", kinds, e.ErrorKinds))
		}
	}

	if e.Watermark != "" {
		if msg := h.checkWatermark(e.Watermark, run, sr); msg != "" {
			errs = append(errs, msg)
		}
	}
	return errs
}

func (h *Harness) checkWatermark(want string, run ir.SyncRun, sr StepResult) string {
	after, has := sr.After[run.Type]
	before, hadBefore := sr.Before[run.Type]

	switch {
	case want == WatermarkUnset:
		if has {
			return fmt.Sprintf("watermark %s, want unset", after.Format(time.RFC3339Nano))
		}
		return ""
	case want == WatermarkUnchanged:
		if has != hadBefore || !after.Equal(before) {
			return fmt.Sprintf("watermark moved from %s to %s", fmtTime(before, hadBefore), fmtTime(after, has))
		}
		return ""
	}

	var target time.Time
	if want == WatermarkRunStart {
		target = run.StartedAt
	} else {
		id := strings.TrimPrefix(want, watermarkItem)
		at, ok := h.changedAt[ir.ItemKey{Source: run.Source, Type: run.Type, ExternalID: id}]
		if !ok {
			return fmt.Sprintf("watermark expectation names unknown item %q", id)
		}
		target = at
	}
	if !has || !after.Equal(target) {
		return fmt.Sprintf("watermark %s, want %s (%s)", fmtTime(after, has), target.Format(time.RFC3339Nano), want)
	}
	return ""
}

func errorKinds(run ir.SyncRun) []string {
	kinds := make([]string, 0, len(run.Errors))
	for _, e := range run.Errors {
		kinds = append(kinds, string(e.Kind))
	}
	return kinds
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fmtTime(t time.Time, ok bool) string {
	if !ok {
		return "unset"
	}
	return t.Format(time.RFC3339Nano)
}
