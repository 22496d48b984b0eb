// Package steps implements the stateless pipeline stages: Plan, Reason,
// Code, Test, Review and Publish.
//
// Each executor receives the run's history, retrieves its own context
// from memory and returns a typed Result. Failures of the reasoning
// capability, unparsable output and stage timeouts surface as
// *StepExecutionError, which the orchestrator counts as a failed
// iteration. Memory infrastructure errors (*memory.NotFoundError,
// *memory.CapacityError) and run cancellation pass through unwrapped.
package steps
