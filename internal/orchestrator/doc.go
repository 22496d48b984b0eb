// Package orchestrator drives a code-modification run through an explicit
// state machine.
//
// # States
//
// A run starts in planning and ends in succeeded or aborted:
//
//	planning → coding → [testing] → reviewing → publishing → awaiting_ci → succeeded
//	                                      │                         │
//	                                      └──── rejected ─→ coding  └─ failed → fix_loop → coding | planning
//
// When a Reason executor is configured, planning and fix_loop pass through
// reasoning on their way to coding. A reasoned plan with confidence above
// steps.PlanConfidence replaces the planner's; a failed reasoning call is
// logged and skipped without consuming the iteration budget.
//
// Every legal move is listed in a single transition table. Any failed
// iteration consumes one unit of the iteration budget; once the budget is
// spent the run aborts with CauseExhausted. Cancellation and memory store
// outages abort immediately with CauseCanceled and CauseInfrastructure.
//
// # Context
//
// Step handlers receive the run history (plan, code, decisions and failure
// text) in addition to whatever they retrieve from memory. History entries
// shadow retrieved records that describe the same thing.
//
// # Persistence
//
// Plans, failure patterns, successful fixes and abort traces are written to
// the memory store so that later runs can learn from them.
//
// # Gates
//
// Approved changes pass through publish gates before a commit is made. A gate
// reporting an error-severity violation blocks publishing and counts as a
// failed iteration; warnings are recorded in history only.
//
// # Events
//
// Each transition is published as an events.Event and handed to the optional
// progress callback.
package orchestrator
