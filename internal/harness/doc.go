// Package harness runs settlement scenarios end to end against the
// capability emulator and compares their traces with golden files.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: consensus_mismatch
//	description: "One node disagrees, nothing is written"
//	config:
//	  node_count: 3
//	trigger:
//	  market_id: "1"
//	  question: "Will it rain in New York tomorrow?"
//	secrets:
//	  GEMINI_API_KEY: test-key
//	nodes:
//	  default:
//	    ai_text: '{"result":"YES","confidence":9500}'
//	  overrides:
//	    1:
//	      ai_text: '{"result":"NO","confidence":9500}'
//	expect:
//	  stage: Failed
//	  failure_stage: Aggregating
//	  kind: CONSENSUS_MISMATCH
//	assertions:
//	  - type: call_count
//	    method: WriteReport
//	    count: 0
//	  - type: final_state
//	    table: runs
//	    where: { id: run-0001 }
//	    expect: { failure_kind: CONSENSUS_MISMATCH }
//
// # Assertion Types
//
//   - stage_order: the listed stages occur in the trace in this order
//   - call_count: the emulator saw method exactly count times
//   - detail: a stage's detail carries key with value
//   - final_state: a journal table row matches expected columns
//
// # Deterministic Testing
//
// Run ids come from a sequential generator ("run-0001"), every run gets a
// fresh in-memory journal, and step seqs come from the run's logical clock.
// Golden snapshots replace response digests and error text with
// placeholders; error text is checked through expect.error_contains.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
package harness
