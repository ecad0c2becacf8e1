package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/planmirror/internal/ir"
)

// Snapshot renders the step outcomes as stable text: one line per run in
// type order, then the edge summary. Run ids and times are left out.
func Snapshot(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s\n", name)
	for _, sr := range result.Steps {
		fmt.Fprintf(&b, "step %d %s\n", sr.Index, sr.Source)
		runs := append([]ir.SyncRun(nil), sr.Runs...)
		sort.Slice(runs, func(i, j int) bool { return runs[i].Type < runs[j].Type })
		for _, run := range runs {
			c := run.Counts
			fmt.Fprintf(&b, "  %s %s batches=%d failed_batches=%d processed=%d created=%d updated=%d unchanged=%d failed=%d\n",
				run.Type, run.Status, run.Batches, run.FailedBatches,
				c.Processed, c.Created, c.Updated, c.Unchanged, c.Failed)
			for _, e := range run.Errors {
				fmt.Fprintf(&b, "    error %s batch=%d\n", e.Kind, e.Batch)
			}
		}
		if len(sr.Sleeps) > 0 {
			fmt.Fprintf(&b, "  sleeps %v\n", sr.Sleeps)
		}
		fmt.Fprintf(&b, "  edges +%d -%d total=%d gaps=%d\n", sr.Edges.Added, sr.Edges.Removed, sr.Edges.Total, len(sr.Edges.Gaps))
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario, fails t on any expectation or
// assertion error and compares the snapshot with
// testdata/golden/<scenario name>.golden.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Snapshot(scenario.Name, result))
	return result
}
