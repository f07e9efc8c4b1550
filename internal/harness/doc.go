// Package harness runs scope propagation scenarios described in YAML.
//
// A scenario starts one or more top-level scopes on a deterministic
// cooperative loop. Each scope executes a list of steps; steps that
// suspend (sleep, yield, nest) resume later as continuations, possibly
// after steps of other scopes have run. Every observable action is
// appended to a trace, which assertions and golden files check.
//
// # Scenario Format
//
//	name: interleaved_requests
//	description: "Two requests suspend and resume without mixing data"
//	scopes:
//	  - name: A
//	    data: { user: alice }
//	    steps:
//	      - op: sleep
//	        duration: 20ms
//	      - op: expect
//	        key: user
//	        value: alice
//	  - name: B
//	    start_after: 5ms
//	    data: { user: bob }
//	    steps:
//	      - op: get
//	        key: user
//	assertions:
//	  - type: trace_order
//	    events:
//	      - { scope: B, op: get }
//	      - { scope: A, op: expect }
//	  - type: no_errors
//
// # Step Ops
//
//   - set, get, has, delete: key/value access on the current scope
//   - expect: compare a key's value (or missing: true); mismatches become errors
//   - expect_cancelled: compare the cancelled flag
//   - snapshot: record GetAll
//   - sleep, yield: suspend the continuation (virtual time, or none)
//   - cancel, cancel_after: cancel now, or schedule cancellation
//   - on_cancel: register a labelled callback, optionally panicking
//   - clone: fork a child chain bound to a clone of the current scope
//   - spawn: fork a child chain in the same scope
//   - nest: run a fresh independent scope and wait for it
//
// # Assertion Types
//
//   - trace_contains: an event matching scope/op/key/value exists
//   - trace_order: the listed events occur in order (gaps allowed)
//   - trace_count: exactly count events match
//   - no_errors: no expect step failed
//
// # Determinism
//
// Scope IDs come from a sequence generator ("scope-1", "scope-2", ...),
// time is virtual, and trace values are rendered as canonical JSON, so a
// scenario yields byte-identical traces on every run. Golden files live in
// testdata/golden and are regenerated with:
//
//	go test ./internal/harness -update
package harness
