// Package assembly runs the code generation assembly line.
//
// An Orchestrator executes four agents in a fixed order: backend, frontend,
// infrastructure, observability. Each agent receives the blueprint plus the
// merged output of every earlier stage. A stage is accepted only when its
// quality gates pass; execution failures and gate failures share one retry
// budget with exponential backoff between attempts. When the budget is spent
// the run fails and no later stage is invoked.
//
// Runs can be paused, resumed and cancelled by id. Pause and cancel take
// effect between stages; an agent that is already executing is allowed to
// finish and its result is discarded on cancel.
package assembly
