// Package pipeline drives a project from interview to deployment.
//
// The stage machine is
//
//	interview_received -> blueprint_generation -> founder_approval
//	founder_approval <-> blueprint_refinement
//	founder_approval -> mvp_generation -> deployment -> completed
//
// with failed reachable from any stage and cancelled from any non-terminal
// stage. Work between suspension points runs as one background task per
// execution, tracked in a registry so it can be awaited, cancelled and
// recovered after a restart. While waiting for the founder no task runs; the
// pipeline resumes only when feedback arrives.
//
// Every write to an execution goes through one per-execution lock which
// reloads the record, applies the change and persists it.
package pipeline
