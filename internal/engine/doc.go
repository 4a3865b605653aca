// Package engine implements the strategy execution engine.
//
// The engine takes a strategy definition, a bit buffer and a budget, and
// produces a verified, budget-constrained record of transformation steps.
//
// ARCHITECTURE:
//
// One Run, One Owner:
// Each Execute call owns its current bits and remaining budget. Nothing
// else mutates them. Several runs may share an Engine; they share no
// mutable state apart from the subscriber list.
//
// Run States:
//  1. Initializing: validate the budget, resolve the scheduler, snapshot
//     every referenced script and record its digest
//  2. SchedulerPlanning: the scheduler returns an ordered list of stages
//  3. StepExecuting: per invocation, propose, apply, score, gate, commit
//  4. Verifying: replay.Verify in the configured mode
//  5. Finalized: status, persistence, telemetry, final progress event
//
// Budget Exhaustion:
// When a commit leaves the budget at or below zero, the current batch
// finishes, the rest of the plan is dropped and the scheduler is called
// once more with budgetExhausted=true. Its stages run as the final plan.
//
// Parallel Stages:
// A grouped stage whose invocations all declare valid, pairwise disjoint
// ranges fans its algorithm calls out with errgroup. Application and
// commit stay sequential in declaration order, so the record never
// depends on which script returned first. Any other grouped stage runs
// sequentially.
//
// CRITICAL PATTERNS:
//
// Authoritative Cost:
// Budget is charged with ops.Router.Cost, never the algorithm's estimate.
//
// Chain Continuity:
// Every recorded step starts from the previous step's AfterBits. Rejected
// and failed steps keep AfterBits == BeforeBits.
//
// Fail Closed:
// A scoring or policy script that errors, or cannot be resolved, fails
// the step instead of accepting it.
package engine
