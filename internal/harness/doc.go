// Package harness runs rule sets against fixed facts and checks what they
// emit.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: net_assets
//	description: "Assets minus liabilities per period"
//	rules: |
//	  rule: "net-assets": {
//	    severity: "info"
//	    expr: {op: "-", args: [{factset: {concept: "Assets"}}, {factset: {concept: "Liabilities"}}]}
//	  }
//	facts:
//	  defaults: {entity: "http://example.com|ACME", unit: USD}
//	  facts:
//	    - {concept: Assets, period: 2020-12-31, value: "100"}
//	    - {concept: Liabilities, period: 2020-12-31, value: "40"}
//	options:
//	  index: sql
//	assertions:
//	  - type: result_contains
//	    rule: net-assets
//	    value: "60"
//	    alignment: {period: "2020-12-31"}
//	  - type: final_state
//	    table: runs
//	    where: {id: test-run}
//	    expect: {status: finished}
//
// rules_dir and facts_file may replace the inline rules and facts; both are
// resolved against the scenario file's directory.
//
// # Assertion Types
//
//   - result_contains: a result of the rule with the given value, severity
//     and alignment subset
//   - result_count: the rule emitted exactly N results
//   - result_order: rules first appear in the given order
//   - processing_error: the rule or constant failed, optionally with a
//     message containing a substring
//   - run_status: the stored run ended with the given status
//   - final_state: queries a store table and verifies expected values
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory SQLite store under a fixed run
// id, so result ids and sequence numbers are identical across runs and the
// trace can be compared against golden snapshots (see RunWithGolden and
// RunSuite).
package harness
