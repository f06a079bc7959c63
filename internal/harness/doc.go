// Package harness runs YAML scenarios against the tessera runtime and
// checks the events they produce.
//
// # Scenario Format
//
//	name: optional_attribute_toggle
//	description: "B switching to 1 activates A"
//	schema: ../schemas/toggle.cue
//	steps:
//	  - op: new_entity
//	    type: Toggle
//	    as: w
//	    listen: true
//	  - op: set
//	    entity: w
//	    attr: B
//	    value: 1
//	  - op: remove_at
//	    collection: c
//	    index: 5
//	    expect_error: INDEX_OUT_OF_RANGE
//	assertions:
//	  - type: trace_order
//	    exact: true
//	    events: ["AttributeAdded(A)", "ValueChanged(B, 0, 1)"]
//	  - type: value
//	    entity: w
//	    attr: A
//	    present: true
//
// Steps: new_entity, new_collection, set, add_field, remove_field, add,
// remove, remove_at, replace, set_limit, sort, listen, destroy,
// enable_statistics. A value
// of the form {$ref: alias} refers to a named entity or collection.
//
// Assertions: trace_order, trace_count, value, size, members, references,
// samples.
//
// # Determinism
//
// Each run builds a fresh runtime with a step clock and sequential
// identifiers, and stamps trace events from a logical clock, so a
// scenario's trace is identical across runs and can be compared against
// a golden file (see RunWithGolden). Handles are rendered as allocated by
// the fresh runtime, e.g. e:0.1 for the first entity.
//
// # Journaling
//
// With WithStore, every traced event is also journaled under the
// scenario's session and flushed before assertions run.
package harness
