// Package harness runs replication scenarios against real replicas.
//
// A scenario declares replicas, drives them through edits and exchanges,
// and asserts on the trace and on the data each replica ends with.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: offline_edits
//	description: "Two replicas edit offline and converge"
//	transport: direct        # or folder
//	codec: json              # or msgpack
//	replicas: [a, b]
//	flow:
//	  - { replica: a, op: create, value: { title: "todo", items: [] } }
//	  - { replica: b, op: clone, from: a }
//	  - { replica: a, op: set, path: title, value: "weekend" }
//	  - { replica: b, op: push, path: items, values: ["milk"] }
//	  - { op: sync_all }
//	assertions:
//	  - type: converged
//	  - { type: final_state, replica: b, path: title, expect: "weekend" }
//	  - { type: length, replica: a, path: items, count: 1 }
//
// # Operations
//
//   - create, clone, join: give a replica its document
//   - set, remove, push, insert, unshift: edit a replica
//   - send: hand one replica's unacknowledged changes to another
//   - sync: one fan-out round of a replica (folder transport)
//   - sync_all: exchange until every replica has every edit
//   - tick: advance the clock
//   - reload: persist a replica and load it back
//
// A step with expect_error passes only if it fails with that text.
//
// # Assertion Types
//
//   - trace_contains: an op appears in the trace
//   - trace_order: ops first appear in the given order
//   - trace_count: an op appears exactly N times
//   - converged: every replica holds the same data
//   - final_state: the value at a path equals the expected value
//   - length: the array at a path has N elements
//
// # Deterministic Testing
//
// Every run uses a manual clock starting at testutil.Epoch that moves one
// second before each edit, and sequence id generators with one prefix per
// replica. Envelopes cross between replicas through the scenario codec and
// fan-out parts go to an in-memory folder, so runs are reproducible and
// their Snapshot can be compared against golden files.
package harness
