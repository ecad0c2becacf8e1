// Package harness replays sync scenarios against the real coordinator.
//
// A scenario seeds a scripted connector, runs sync steps through
// engine.Coordinator backed by an in-memory store and checks each run's
// outcome and the final mirror.
//
// # Scenario Format
//
//	name: transient_retry
//	description: "A batch that fails with 503 three times still commits"
//	config: { batch_size: 200, workers: 1 }
//	items:
//	  - { source: planning, type: feature, count: 450, prefix: f }
//	  - source: planning
//	    type: product
//	    id: p1
//	    doc: { name: Checkout, version: 1 }
//	failures:
//	  - { batch: f200, errors: ["503", "503", "503"] }
//	steps:
//	  - sync: { source: planning, types: [feature] }
//	    sleeps: [500ms, 1s, 2s]
//	    expect:
//	      - type: feature
//	        status: SUCCESS
//	        counts: { processed: 450, created: 450 }
//	        watermark: run_start
//	assertions:
//	  - { check: item_count, source: planning, type: feature, count: 450 }
//
// Items declared up front change one minute apart, in declaration order,
// a day before the scenario clock starts. Every step advances the clock by
// an hour; items added by a step change within the half hour before it.
//
// # Watermark Expectations
//
//   - run_start: the watermark equals the start of the step's run
//   - unset: no watermark is stored
//   - unchanged: the watermark did not move during the step
//   - item:<id>: the watermark equals the change time of that item
//
// # Assertion Checks
//
//   - item_count: number of mirrored items of a source and type
//   - item: field values of one item (title, description, status, version,
//     parent, cross_ref), local edits not applied
//   - edge / no_edge: presence of a derived relation
//
// # Golden Snapshots
//
// RunWithGolden renders the step outcomes as text and compares them with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
