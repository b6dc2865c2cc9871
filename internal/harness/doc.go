// Package harness runs conformance scenarios against the submission validator.
//
// A scenario is a YAML file describing a sequence of submissions, the
// decision expected for each, and assertions over the final ledger and the
// decision trace. Every scenario runs against a fresh in-memory ledger with
// a fake clock starting at testutil.Epoch, so results are reproducible and
// traces can be compared against golden files.
//
// # Scenario Format
//
//	name: replay_protection
//	description: "A nonce is accepted once"
//	catalog: ./catalog        # optional; relative to the scenario file
//	max_clock_skew: 30s       # optional; enables the freshness check
//	setup:
//	  - type: soil
//	    id: Soil_01
//	    nonce: seed-1
//	    fields: { moisture: 45, temperature: 22, pH: 6.8, nitrogen: 20, phosphorus: 1 }
//	flow:
//	  - type: soil
//	    id: Soil_02
//	    nonce: seed-1
//	    payload: '{"moisture": 45}'
//	    advance: 5s           # move the clock before submitting
//	    skew: -40s            # timestamp relative to the clock
//	    expect:
//	      outcome: rejected
//	      code: replay
//	      reason: Replay attack detected
//	assertions:
//	  - type: ledger_count
//	    count: 1
//	  - type: code_order
//	    codes: [accepted, replay]
//
// Setup submissions must be accepted; a rejected setup step is an execution
// error. A step without a nonce gets a generated one ("flow-1", "flow-2", ...).
// A step gives either payload (raw text, sent verbatim) or fields (encoded
// as a JSON object).
//
// # Assertion Types
//
//   - ledger_contains: nonce is claimed
//   - ledger_absent: nonce is not claimed
//   - ledger_count: exactly count nonces are claimed
//   - code_count: exactly count flow decisions carry code
//   - code_order: the codes appear in the flow trace in this order
//     (other decisions may come in between)
package harness
