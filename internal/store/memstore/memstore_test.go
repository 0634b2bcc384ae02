package memstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/corewind/durable-orchestrator/internal/engine"
	"github.com/corewind/durable-orchestrator/internal/store"
)

func newRecord(id string) *engine.InstanceRecord {
	return &engine.InstanceRecord{
		InstanceID:   id,
		FunctionName: "F",
		ExecuteAfter: time.Now().UTC().Add(-time.Minute),
	}
}

func TestSaveAndGetStateRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("i1")

	if err := s.SaveState(ctx, rec, nil); err != nil {
		t.Fatalf("unexpected error on initial save: %v", err)
	}
	if err := s.SaveState(ctx, rec, nil); err != engine.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists on duplicate create, got %v", err)
	}

	got, err := s.GetState(ctx, "i1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.InstanceID != "i1" {
		t.Fatalf("expected instance id i1, got %q", got.InstanceID)
	}

	if _, err := s.GetState(ctx, "missing"); err != engine.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveStateVersionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("i1")
	if err := s.SaveState(ctx, rec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := int64(99)
	if err := s.SaveState(ctx, rec, &bad); err != engine.ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestRaiseEventBeforeWaiterThenDeliveredFIFO(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("i1")
	if err := s.SaveState(ctx, rec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.RaiseEvent(ctx, "i1", "E", []byte(`"a"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RaiseEvent(ctx, "i1", "E", []byte(`"b"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetState(ctx, "i1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := got.EventQueues["E"]
	if len(q) != 2 {
		t.Fatalf("expected two queued events, got %d", len(q))
	}
	if string(q[0]) != `"a"` || string(q[1]) != `"b"` {
		t.Fatalf("expected FIFO order a,b; got %q,%q", q[0], q[1])
	}
}

func TestRaiseEventDeliversToRegisteredWaiter(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("i1")
	slotID := "slot-1"
	rec.AwaitedEvents = []engine.AwaitedEvent{{Name: "E", SlotID: slotID}}
	rec.History = []engine.HistoryEntry{
		{ChildInstanceID: slotID, Kind: engine.HistoryKindExternalEvent, EventName: "E", Status: engine.HistoryScheduled},
	}
	if err := s.SaveState(ctx, rec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.RaiseEvent(ctx, "i1", "E", []byte(`"payload"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetState(ctx, "i1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.AwaitedEvents) != 0 {
		t.Fatalf("expected the waiter to be consumed")
	}
	entry, ok := got.FindHistory(slotID)
	if !ok || entry.Status != engine.HistorySucceeded {
		t.Fatalf("expected the history entry to transition to succeeded")
	}
	if string(entry.Result) != `"payload"` {
		t.Fatalf("expected delivered payload in history result, got %q", entry.Result)
	}
}

func TestRaiseEventOnCompletedInstanceIsNoop(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("i1")
	rec.IsCompleted = true
	rec.CompletedResult = json.RawMessage(`"done"`)
	if err := s.SaveState(ctx, rec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.RaiseEvent(ctx, "i1", "E", []byte(`"x"`)); err != nil {
		t.Fatalf("expected silent no-op, got error: %v", err)
	}

	got, err := s.GetState(ctx, "i1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.CompletedResult) != `"done"` {
		t.Fatalf("expected completed result untouched")
	}
	if len(got.EventQueues["E"]) != 0 {
		t.Fatalf("expected no event queued against a completed instance")
	}
}

func TestApplyWorkSetRejectsAfterTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("i1")
	if err := s.SaveState(ctx, rec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := s.ApplyWorkSet(ctx, "i1", 0, &engine.WorkSet{Completed: true, Result: json.RawMessage(`"r"`)})
	if err != nil || !ok {
		t.Fatalf("expected first ApplyWorkSet to commit, got ok=%v err=%v", ok, err)
	}

	ok, err = s.ApplyWorkSet(ctx, "i1", 1, &engine.WorkSet{NewHistory: []engine.HistoryEntry{{ChildInstanceID: "late"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected terminal state to reject further mutation")
	}

	got, err := s.GetState(ctx, "i1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.CompletedResult) != `"r"` {
		t.Fatalf("expected completed result to remain unchanged")
	}
	if len(got.History) != 0 {
		t.Fatalf("expected no history appended after terminal")
	}
}

func TestApplyWorkSetVersionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("i1")
	if err := s.SaveState(ctx, rec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := s.ApplyWorkSet(ctx, "i1", 5, &engine.WorkSet{})
	if err != engine.ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestApplyWorkSetFiredTimersTransitionsMatchingEntry(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("i1")
	rec.History = []engine.HistoryEntry{
		{ChildInstanceID: "timer-0", Kind: engine.HistoryKindTimer, Status: engine.HistoryScheduled},
	}
	if err := s.SaveState(ctx, rec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := s.ApplyWorkSet(ctx, "i1", 0, &engine.WorkSet{FiredTimers: []string{"timer-0"}})
	if err != nil || !ok {
		t.Fatalf("expected ApplyWorkSet to commit, got ok=%v err=%v", ok, err)
	}

	got, err := s.GetState(ctx, "i1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, found := got.FindHistory("timer-0")
	if !found || entry.Status != engine.HistorySucceeded {
		t.Fatalf("expected the fired timer's history entry to transition to succeeded, got %+v", entry)
	}
	if entry.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set on the fired timer entry")
	}
}

func TestWakeParentTransitionsMatchingEntryOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	childID := "child-1"
	parent := newRecord("p1")
	parent.History = []engine.HistoryEntry{
		{ChildInstanceID: childID, Kind: engine.HistoryKindSubOrchestrator, Status: engine.HistoryScheduled},
	}
	if err := s.SaveState(ctx, parent, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := s.WakeParent(ctx, "p1", childID, engine.HistorySucceeded, []byte(`"r"`), nil)
	if err != nil || !ok {
		t.Fatalf("expected first wake to succeed, got ok=%v err=%v", ok, err)
	}

	got, err := s.GetState(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, _ := got.FindHistory(childID)
	if entry.Status != engine.HistorySucceeded || string(entry.Result) != `"r"` {
		t.Fatalf("expected entry transitioned to succeeded with result")
	}

	// Idempotent re-wake: already transitioned, should be a no-op success.
	ok, err = s.WakeParent(ctx, "p1", childID, engine.HistoryFailed, nil, &engine.OrchestrationError{Kind: engine.KindUser})
	if err != nil || !ok {
		t.Fatalf("expected idempotent re-wake to report ok, got ok=%v err=%v", ok, err)
	}
	got, _ = s.GetState(ctx, "p1")
	entry, _ = got.FindHistory(childID)
	if entry.Status != engine.HistorySucceeded {
		t.Fatalf("expected the already-transitioned entry to remain succeeded, not be overwritten")
	}
}

func TestWakeParentNoopWhenParentCompleted(t *testing.T) {
	s := New()
	ctx := context.Background()
	childID := "child-1"
	parent := newRecord("p1")
	parent.IsCompleted = true
	parent.History = []engine.HistoryEntry{
		{ChildInstanceID: childID, Status: engine.HistoryScheduled},
	}
	if err := s.SaveState(ctx, parent, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := s.WakeParent(ctx, "p1", childID, engine.HistorySucceeded, []byte(`"r"`), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no-op against a completed parent")
	}
}

func TestGetReadyCandidatesExcludesLeasedAndFuture(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	ready := newRecord("ready")
	ready.ExecuteAfter = now.Add(-time.Minute)

	future := newRecord("future")
	future.ExecuteAfter = now.Add(time.Hour)

	leased := newRecord("leased")
	exp := now.Add(time.Minute)
	leased.LeaseOwner = "host-a"
	leased.LeaseExpiresAt = &exp

	done := newRecord("done")
	done.IsCompleted = true

	for _, r := range []*engine.InstanceRecord{ready, future, leased, done} {
		if err := s.SaveState(ctx, r, nil); err != nil {
			t.Fatalf("unexpected error saving %s: %v", r.InstanceID, err)
		}
	}

	cands, err := s.GetReadyCandidates(ctx, now, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 1 || cands[0].InstanceID != "ready" {
		t.Fatalf("expected exactly one ready candidate %q, got %+v", "ready", cands)
	}
}

func TestTryClaimLeaseThenRenewThenRelease(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("i1")
	if err := s.SaveState(ctx, rec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := s.TryClaimLease(ctx, "i1", "host-a", time.Minute)
	if err != nil || !res.Success {
		t.Fatalf("expected successful claim, got %+v err=%v", res, err)
	}

	res2, err := s.TryClaimLease(ctx, "i1", "host-b", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res2.Success {
		t.Fatalf("expected second host's claim to be rejected while lease is held")
	}

	renewed, err := s.RenewLease(ctx, "i1", "host-a", time.Minute, res.NewVersion)
	if err != nil || !renewed {
		t.Fatalf("expected renewal to succeed, got %v err=%v", renewed, err)
	}

	got, _ := s.GetState(ctx, "i1")
	released, err := s.ReleaseLease(ctx, "i1", "host-a", got.Version)
	if err != nil || !released {
		t.Fatalf("expected release to succeed, got %v err=%v", released, err)
	}

	got, _ = s.GetState(ctx, "i1")
	if got.LeaseOwner != "" {
		t.Fatalf("expected lease owner cleared after release")
	}
}

func TestGetFullStateRequiresMatchingLeaseOwner(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := newRecord("i1")
	if err := s.SaveState(ctx, rec, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.TryClaimLease(ctx, "i1", "host-a", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.GetFullState(ctx, "i1", "host-b"); err != engine.ErrLeaseConflict {
		t.Fatalf("expected ErrLeaseConflict for a mismatched owner, got %v", err)
	}
	if _, err := s.GetFullState(ctx, "i1", "host-a"); err != nil {
		t.Fatalf("expected the real owner to load state, got %v", err)
	}
}

func TestPurgeCascadeRemovesChildren(t *testing.T) {
	s := New()
	ctx := context.Background()

	child := newRecord("child-1")
	if err := s.SaveState(ctx, child, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parent := newRecord("parent-1")
	parent.History = []engine.HistoryEntry{
		{ChildInstanceID: "child-1", Kind: engine.HistoryKindSubOrchestrator, Status: engine.HistorySucceeded},
	}
	if err := s.SaveState(ctx, parent, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := s.Purge(ctx, "parent-1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected cascade purge to remove 2 records, got %d", n)
	}
	if _, err := s.GetState(ctx, "child-1"); err != engine.ErrNotFound {
		t.Fatalf("expected child to be purged")
	}
	if _, err := s.GetState(ctx, "parent-1"); err != engine.ErrNotFound {
		t.Fatalf("expected parent to be purged")
	}
}

func TestPurgeWithoutCascadeLeavesChildren(t *testing.T) {
	s := New()
	ctx := context.Background()

	child := newRecord("child-1")
	if err := s.SaveState(ctx, child, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parent := newRecord("parent-1")
	parent.History = []engine.HistoryEntry{
		{ChildInstanceID: "child-1", Kind: engine.HistoryKindSubOrchestrator, Status: engine.HistorySucceeded},
	}
	if err := s.SaveState(ctx, parent, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := s.Purge(ctx, "parent-1", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected non-cascade purge to remove 1 record, got %d", n)
	}
	if _, err := s.GetState(ctx, "child-1"); err != nil {
		t.Fatalf("expected the orphaned child to remain")
	}
}

func TestListAndCountFilter(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := newRecord("a")
	a.FunctionName = "F1"
	b := newRecord("b")
	b.FunctionName = "F2"
	b.IsCompleted = true

	for _, r := range []*engine.InstanceRecord{a, b} {
		if err := s.SaveState(ctx, r, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	n, err := s.Count(ctx, store.ListFilter{FunctionName: "F1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected count 1 for F1, got %d", n)
	}

	list, err := s.List(ctx, store.ListFilter{OnlyCompleted: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].InstanceID != "b" {
		t.Fatalf("expected only completed instance b, got %+v", list)
	}
}
