// Package harness runs scenario tests against a real actor runtime.
//
// A scenario sends commands through the dispatcher and checks the produced
// events, the rejections and the final actor states. Every run uses a
// fresh in-memory store, a deterministic clock and sequential ids, so two
// runs of the same scenario produce the same trace.
//
// # Scenario Format
//
//	name: account_lifecycle
//	description: "Open, fund and drain an account"
//	actors:              # optional manifests, relative to the scenario
//	  - savings.cue
//	flow:
//	  - handle: account.open
//	    id: a1
//	    data: { owner: ada, initialDeposit: 100 }
//	    expect:
//	      events: [account.opened, account.deposited]
//	      state: { balance: 100 }
//	  - handle: account.withdraw
//	    id: a1
//	    data: { amount: 500 }
//	    expect:
//	      rejected: true
//	      reason: insufficient funds
//	assertions:
//	  - type: trace_contains
//	    event: account.deposited
//	    data: { amount: 100 }
//	  - type: final_state
//	    actor: account
//	    id: a1
//	    expect: { balance: 100 }
//
// # Assertion Types
//
//   - trace_contains: an event with the given type and data subset was produced
//   - trace_order: events were produced in the given relative order
//   - trace_count: an event type was produced exactly N times
//   - final_state: an actor's fetched state contains the expected fields
//   - event_log: an actor's stored log holds exactly the given event types
//   - find: a search returns exactly the given ids
//
// # Golden Traces
//
// RunWithGolden compares the canonical JSON trace with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
