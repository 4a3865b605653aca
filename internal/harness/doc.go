// Package harness runs conformance scenarios against the real engine.
//
// A scenario is a YAML file that carries everything a run needs: the
// input bits, the budget, inline Starlark scripts and the strategy that
// wires them together, plus expectations on the outcome.
//
// # Scenario Format
//
//	name: scenario_a_single_flip
//	description: "One NOT step commits"
//	execution_id: scenario-a
//	bits: "0101"
//	budget: 5
//	scripts:
//	  - name: Sched
//	    role: scheduler
//	    source: |
//	      def run(input):
//	          return ["Flip"]
//	  - name: Flip
//	    role: algorithm
//	    file: scripts/flip.star
//	strategy:
//	  name: flip
//	  scheduler: Sched
//	  algorithms: [Flip]
//	expect:
//	  status: completed
//	  final_bits: "1010"
//	assertions:
//	  - type: step_count
//	    status: committed
//	    count: 1
//
// # Assertion Types
//
//   - step_contains: a recorded step matches operation, algorithm, status and params (subset)
//   - step_order: operations appear in the given order
//   - step_count: exactly N steps match operation and/or status
//   - final_state: a row of the result archive matches expected columns
//
// # Deterministic Testing
//
// Every scenario runs with a fixed execution ID, a stepping time source
// and a fresh in-memory SQLite archive, so the trace of a scenario is the
// same on every run and can be compared against a golden snapshot.
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/scenario_a.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
