// Package store defines the state store contract (§4.5): the durable,
// CAS-mediated mapping from instance_id to instance record that every
// other component treats as the sole source of truth (§5 "Shared-resource
// policy").
package store

import (
	"context"
	"time"

	"github.com/corewind/durable-orchestrator/internal/engine"
)

// Candidate is the lightweight projection GetReadyCandidates returns
// (§4.3 step 1, §4.5): enough to attempt a lease claim without paying for
// a full history fetch.
type Candidate struct {
	InstanceID     string
	FunctionName   string
	ExecuteAfter   time.Time
	Version        int64
	LeaseOwner     string
	LeaseExpiresAt *time.Time
}

// ListFilter narrows Count/List management queries (§4.5).
type ListFilter struct {
	FunctionName     string
	ParentInstanceID string
	OnlyCompleted    bool
	OnlyPending      bool
	Limit            int
	Offset           int
}

// Store is the state store contract (§4.5). Every write is atomic on a
// single record; no cross-row transactions are required (§4.5 "Required
// backend properties").
type Store interface {
	// SaveState writes a full record. With a nil expectedVersion it only
	// creates: an existing record is not overwritten and the call fails with
	// engine.ErrAlreadyExists. If expectedVersion is non-nil, the write
	// replaces the stored record and fails with engine.ErrVersionConflict
	// unless the stored version matches.
	SaveState(ctx context.Context, record *engine.InstanceRecord, expectedVersion *int64) error

	// GetState returns the full record, or engine.ErrNotFound.
	GetState(ctx context.Context, instanceID string) (*engine.InstanceRecord, error)

	// GetReadyCandidates returns up to max lightweight projections with
	// is_completed=false AND execute_after<=now AND a claimable lease
	// (§4.3 step 1).
	GetReadyCandidates(ctx context.Context, now time.Time, max int) ([]Candidate, error)

	// TryClaimLease, RenewLease, ReleaseLease implement §4.4.
	TryClaimLease(ctx context.Context, instanceID, hostID string, duration time.Duration) (*LeaseResult, error)
	RenewLease(ctx context.Context, instanceID, hostID string, duration time.Duration, expectedVersion int64) (bool, error)
	ReleaseLease(ctx context.Context, instanceID, hostID string, expectedVersion int64) (bool, error)

	// GetFullState loads a record with the caller proving lease ownership
	// (§4.5): protects against a host acting on a stale read after losing
	// its lease.
	GetFullState(ctx context.Context, instanceID, expectedLeaseOwner string) (*engine.InstanceRecord, error)

	// ApplyWorkSet commits one replay pass's work set in a single CAS
	// keyed on expectedVersion (§3.3 Commit, §4.5).
	ApplyWorkSet(ctx context.Context, instanceID string, expectedVersion int64, work *engine.WorkSet) (bool, error)

	// WakeParent transitions the parent's matching history entry to
	// succeeded/failed and advances its execute_after to now, in one CAS
	// (§3.3 "Child completion", §4.3 step 5). Returns true without change
	// if the entry already transitioned (idempotent no-op — the child's
	// completion is already durable regardless), false without error if the
	// parent is already completed or has no entry for the child, and
	// engine.ErrNotFound if the parent is missing.
	WakeParent(ctx context.Context, parentInstanceID, childInstanceID string, status engine.HistoryStatus, result []byte, errv *engine.OrchestrationError) (bool, error)

	// RaiseEvent atomically delivers to the earliest waiter or enqueues
	// the payload (§4.2.4, §4.5). No-ops silently against a completed
	// instance (§9 Open Questions); returns engine.ErrNotFound for a
	// missing one.
	RaiseEvent(ctx context.Context, instanceID, eventName string, payload []byte) error

	// Terminate CAS-marks the instance completed with a termination error,
	// regardless of lease (§4.5, §4.1 "Cancellation").
	Terminate(ctx context.Context, instanceID, reason string) error

	// Purge deletes the record. cascade additionally purges every child
	// instance reachable via history entries of kind
	// activity/sub_orchestrator (SPEC_FULL supplemented feature).
	Purge(ctx context.Context, instanceID string, cascade bool) (int, error)

	Count(ctx context.Context, filter ListFilter) (int, error)
	List(ctx context.Context, filter ListFilter) ([]Candidate, error)
}

// LeaseResult is TryClaimLease's outcome (§4.4).
type LeaseResult struct {
	Success    bool
	Reason     string
	NewVersion int64
}
