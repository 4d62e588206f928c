// Package harness runs graph fixture scenarios against the store and the
// process runner.
//
// A scenario builds a provenance graph by hand, runs processes to
// completion, optionally deletes part of the graph, and then asserts on
// what is left. The final graph is snapshotted for golden comparison.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	caching: false
//	nodes:
//	  - id: x
//	    subtype: data.core.int
//	    value: 1
//	  - id: calc
//	    subtype: process.calculation.calcfunction
//	    attributes: { process_state: finished }
//	    inputs: { x: x }
//	  - id: out
//	    subtype: data.core.int
//	    value: 2
//	    created_by: { process: calc, label: result }
//	groups:
//	  - label: inputs
//	    members: [x]
//	runs:
//	  - id: wc
//	    process: AddMultiplyWorkChain
//	    inputs: { x: 2, y: 3, z: "@x" }
//	delete:
//	  roots: [x]
//	  dry_run: false
//	assertions:
//	  - type: process
//	    ref: wc
//	    state: finished
//	    outputs: { result: 5 }
//	  - type: deleted
//	    refs: [x, calc, out]
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - process: Verifies state, exit status and output values of a process
//   - exists: Verifies nodes are still stored
//   - deleted: Verifies nodes are gone and optionally the closure size
//   - link: Verifies a typed, labelled link between two nodes
//   - cached: Verifies a process was served from another's cache
//   - query: Runs a query path and checks the row count or the row nodes
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory database with a stepping clock
// (testutil.StepClock) and sequential uuids (testutil.SequenceUUIDGenerator).
// Snapshots name nodes by scenario reference, or "#pk" for nodes the
// scenario never named, so golden files carry no uuids or timestamps.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/delete_closure.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
