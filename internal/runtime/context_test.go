package runtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/corewind/durable-orchestrator/internal/engine"
)

func TestCallActivitySuspendsThenResolves(t *testing.T) {
	now := time.Now().UTC()
	rec := &engine.InstanceRecord{InstanceID: "i1"}

	ctx := New(rec, now, nil)
	_, err := ctx.CallActivity("F1", nil)
	if !IsSuspended(err) {
		t.Fatalf("expected suspension on first call, got %v", err)
	}
	if len(ctx.WorkSet().NewHistory) != 1 {
		t.Fatalf("expected one history entry recorded, got %d", len(ctx.WorkSet().NewHistory))
	}

	// Simulate the scheduled entry succeeding and replay this same pass
	// against the now-populated history.
	entry := ctx.WorkSet().NewHistory[0]
	entry.Status = engine.HistorySucceeded
	entry.Result = json.RawMessage(`"r1"`)
	rec2 := &engine.InstanceRecord{InstanceID: "i1", History: []engine.HistoryEntry{entry}}

	ctx2 := New(rec2, now, nil)
	out, err := ctx2.CallActivity("F1", nil)
	if err != nil {
		t.Fatalf("expected no error on replay of succeeded entry, got %v", err)
	}
	if string(out) != `"r1"` {
		t.Fatalf("expected replayed result %q, got %q", `"r1"`, out)
	}
}

func TestDeterminismViolationOnDivergentCall(t *testing.T) {
	now := time.Now().UTC()
	rec := &engine.InstanceRecord{
		InstanceID: "i1",
		History: []engine.HistoryEntry{
			{ChildInstanceID: engine.ChildInstanceID("i1", "F1", mustMarshal(nil)), Status: engine.HistorySucceeded, Result: json.RawMessage(`"r1"`)},
		},
	}
	ctx := New(rec, now, nil)
	// Calling a different function at the same ordinal position must diverge.
	_, err := ctx.CallActivity("F2", nil)
	if !errors.Is(err, ErrDeterminismViolation) {
		t.Fatalf("expected determinism violation, got %v", err)
	}
	if ctx.DeterminismError() == nil {
		t.Fatalf("expected a captured determinism error")
	}
}

func TestWaitForExternalEventFIFO(t *testing.T) {
	now := time.Now().UTC()
	rec := &engine.InstanceRecord{
		InstanceID:  "i1",
		EventQueues: map[string][]json.RawMessage{"E": {json.RawMessage(`"a"`), json.RawMessage(`"b"`)}},
	}
	ctx := New(rec, now, nil)

	out, err := ctx.WaitForExternalEvent("E")
	if err != nil {
		t.Fatalf("expected immediate delivery from queue, got %v", err)
	}
	if string(out) != `"a"` {
		t.Fatalf("expected %q, got %q", `"a"`, out)
	}
	if ctx.WorkSet().ConsumedEventCounts["E"] != 1 {
		t.Fatalf("expected one consumed event recorded for commit")
	}

	out, err = ctx.WaitForExternalEvent("E")
	if err != nil {
		t.Fatalf("expected second immediate delivery from queue, got %v", err)
	}
	if string(out) != `"b"` {
		t.Fatalf("expected %q, got %q", `"b"`, out)
	}
	if ctx.WorkSet().ConsumedEventCounts["E"] != 2 {
		t.Fatalf("expected two consumed events recorded for commit")
	}

	// Third wait with nothing left in queue must suspend and register a waiter.
	_, err = ctx.WaitForExternalEvent("E")
	if !IsSuspended(err) {
		t.Fatalf("expected suspension once queue is drained, got %v", err)
	}
	if len(ctx.WorkSet().NewAwaitedEvents) != 1 {
		t.Fatalf("expected one awaited event registered")
	}
}

func TestCreateTimerArmsMinExecuteAfter(t *testing.T) {
	now := time.Now().UTC()
	rec := &engine.InstanceRecord{InstanceID: "i1"}
	ctx := New(rec, now, nil)

	fireAt := now.Add(time.Hour)
	err := ctx.CreateTimer(fireAt)
	if !IsSuspended(err) {
		t.Fatalf("expected suspension after arming a fresh timer, got %v", err)
	}
	if ctx.WorkSet().MinExecuteAfter == nil || !ctx.WorkSet().MinExecuteAfter.Equal(fireAt) {
		t.Fatalf("expected MinExecuteAfter to be set to fireAt")
	}
}

func TestCreateTimerFiresOnReplayPastFireAt(t *testing.T) {
	now := time.Now().UTC()
	fireAt := now.Add(time.Hour)

	// Pass 1: arm the timer fresh.
	rec := &engine.InstanceRecord{InstanceID: "i1"}
	ctx := New(rec, now, nil)
	if err := ctx.CreateTimer(fireAt); !IsSuspended(err) {
		t.Fatalf("expected suspension after arming a fresh timer, got %v", err)
	}
	entry := ctx.WorkSet().NewHistory[0]

	// Replay before fire_at: still suspended, no timer marked fired.
	recBefore := &engine.InstanceRecord{InstanceID: "i1", History: []engine.HistoryEntry{entry}}
	ctxBefore := New(recBefore, fireAt.Add(-time.Minute), nil)
	if err := ctxBefore.CreateTimer(fireAt); !IsSuspended(err) {
		t.Fatalf("expected suspension before fire_at, got %v", err)
	}
	if len(ctxBefore.WorkSet().FiredTimers) != 0 {
		t.Fatalf("expected no fired timers before fire_at, got %+v", ctxBefore.WorkSet().FiredTimers)
	}

	// Replay after fire_at: the armed-but-scheduled entry must resolve
	// without suspending, or it would never become ready on its own.
	recAfter := &engine.InstanceRecord{InstanceID: "i1", History: []engine.HistoryEntry{entry}}
	ctxAfter := New(recAfter, fireAt.Add(time.Minute), nil)
	if err := ctxAfter.CreateTimer(fireAt); err != nil {
		t.Fatalf("expected the timer to resolve once replay clock passes fire_at, got %v", err)
	}
	if len(ctxAfter.WorkSet().FiredTimers) != 1 || ctxAfter.WorkSet().FiredTimers[0] != entry.ChildInstanceID {
		t.Fatalf("expected FiredTimers to record the due entry's child id, got %+v", ctxAfter.WorkSet().FiredTimers)
	}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
