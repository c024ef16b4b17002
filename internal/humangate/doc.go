// Package humangate runs the human approval workflow.
//
// A workflow starts pending and moves exactly once to approved, rejected,
// revision_requested, expired or cancelled. Founders act on a workflow
// through a signed approval token; sessions act on it by id within their
// tenant.
//
// Expiry is wall-clock based and checked lazily: every read or write that
// observes now > expires_at flips the workflow to expired before doing
// anything else. CleanupExpired performs the same flip in bulk and is run
// periodically by a Sweeper.
//
// Writes to one workflow are serialized; the expiry check happens inside
// that critical section so feedback racing the sweep is rejected once expiry
// has been observed.
package humangate
