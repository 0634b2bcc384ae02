// Package runtime implements the orchestration context (§4.2): the API a
// registered user orchestrator function sees when the replay executor
// invokes it against an instance's stored history.
package runtime

import "errors"

// errSuspend is the sentinel the context raises to unwind a suspending
// user call out of orchestrator scope (§9 "Design Notes" — a thrown
// sentinel, not a thread park or coroutine, is sufficient because a
// suspended orchestrator is recreated fresh from history on the next
// replay rather than resumed in place).
var errSuspend = errors.New("runtime: orchestrator suspended")

// ErrDeterminismViolation is raised when the next deterministic child id
// an orchestrator computes this pass does not match the id already
// recorded in history at the same position (§7, §11 P11). The executor
// must not retry the pass; it marks the instance permanently failed.
var ErrDeterminismViolation = errors.New("runtime: determinism violation")

// IsSuspended reports whether err is (or wraps) the suspension sentinel.
func IsSuspended(err error) bool {
	return errors.Is(err, errSuspend)
}
