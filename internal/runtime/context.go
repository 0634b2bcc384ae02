package runtime

import (
	"encoding/json"
	"time"

	"github.com/corewind/durable-orchestrator/internal/engine"
	platformlog "github.com/corewind/durable-orchestrator/internal/platform/logger"
)

// OrchestrationContext is the API a registered orchestrator function sees
// (§4.2). It is constructed fresh for every replay pass, bound to the
// instance's input and the history entries that existed when the pass
// began; it is never reused across passes and never shared across
// instances.
type OrchestrationContext struct {
	instanceID       string
	parentInstanceID string
	functionName     string
	input            json.RawMessage

	// now is the executor's frozen start time for this pass (§4.2.5):
	// identical across replays of the same history so user code that
	// reads it stays deterministic.
	now time.Time

	history          []engine.HistoryEntry
	historyPos       int
	replayWatermark  int
	eventQueues      map[string][]json.RawMessage
	timerOrdinal     int
	eventOrdinal     int

	work *engine.WorkSet

	logger *ReplaySafeLogger

	// determinismErr is set the moment a divergence is detected so the
	// executor can read it back out after the user function unwinds via
	// ErrDeterminismViolation.
	determinismErr *engine.OrchestrationError
}

// New constructs a fresh context for one replay pass over record's history
// as it stood at load time. now is the executor's frozen clock; baseLogger
// is wrapped in replay-safe gating before being handed to user code.
func New(record *engine.InstanceRecord, now time.Time, baseLogger *platformlog.Logger) *OrchestrationContext {
	eventQueues := make(map[string][]json.RawMessage, len(record.EventQueues))
	for name, q := range record.EventQueues {
		eventQueues[name] = append([]json.RawMessage(nil), q...)
	}
	c := &OrchestrationContext{
		instanceID:       record.InstanceID,
		parentInstanceID: record.ParentInstanceID,
		functionName:     record.FunctionName,
		input:            record.Input,
		now:              now,
		history:          record.History,
		replayWatermark:  len(record.History),
		eventQueues:      eventQueues,
		work:             &engine.WorkSet{},
	}
	c.logger = newReplaySafeLogger(baseLogger, c.IsReplaying)
	return c
}

// WorkSet returns the work set accumulated so far this pass. The executor
// reads this after the user function returns, suspends, or fails.
func (c *OrchestrationContext) WorkSet() *engine.WorkSet { return c.work }

// DeterminismError returns the divergence detected this pass, if any.
func (c *OrchestrationContext) DeterminismError() *engine.OrchestrationError { return c.determinismErr }

// InstanceID, ParentInstanceID, FunctionName are metadata accessors (§4.2.5).
func (c *OrchestrationContext) InstanceID() string       { return c.instanceID }
func (c *OrchestrationContext) ParentInstanceID() string { return c.parentInstanceID }
func (c *OrchestrationContext) FunctionName() string     { return c.functionName }

// CurrentUtcDateTime returns the executor's frozen start time for this
// replay pass (§4.2.5): identical across replays of the same pass.
func (c *OrchestrationContext) CurrentUtcDateTime() time.Time { return c.now }

// GetInput deserializes the instance's input into out.
func (c *OrchestrationContext) GetInput(out interface{}) error {
	if len(c.input) == 0 {
		return nil
	}
	return json.Unmarshal(c.input, out)
}

// GetLogger returns a replay-safe logger (§4.2.5, §9).
func (c *OrchestrationContext) GetLogger() *ReplaySafeLogger { return c.logger }

// IsReplaying reports whether the context is still walking history it has
// already seen, as opposed to reaching a decision point for the first time.
func (c *OrchestrationContext) IsReplaying() bool {
	return c.historyPos < c.replayWatermark
}

// CallActivity invokes a registered activity by name (§4.2.1).
func (c *OrchestrationContext) CallActivity(functionName string, input interface{}) (json.RawMessage, error) {
	inputBytes, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	childID := engine.ChildInstanceID(c.instanceID, functionName, inputBytes)
	return c.resolveChild(engine.HistoryKindActivity, childID, functionName, inputBytes)
}

// CallSubOrchestrator invokes a registered orchestrator as a child (§4.2.2).
func (c *OrchestrationContext) CallSubOrchestrator(functionName string, input interface{}) (json.RawMessage, error) {
	inputBytes, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	childID := engine.ChildInstanceID(c.instanceID, functionName, inputBytes)
	return c.resolveChild(engine.HistoryKindSubOrchestrator, childID, functionName, inputBytes)
}

// resolveChild implements §4.1 step 3 for activity/sub-orchestrator calls:
// positional determinism check, then succeeded/failed/scheduled dispatch,
// then suspend-and-record for a brand new call.
func (c *OrchestrationContext) resolveChild(kind engine.HistoryKind, childID, functionName string, input json.RawMessage) (json.RawMessage, error) {
	if c.historyPos < len(c.history) {
		existing := &c.history[c.historyPos]
		if existing.ChildInstanceID != childID {
			c.determinismErr = engine.NewDeterminismError(childID, existing.ChildInstanceID, existing)
			return nil, ErrDeterminismViolation
		}
		c.historyPos++
		switch existing.Status {
		case engine.HistorySucceeded:
			return existing.Result, nil
		case engine.HistoryFailed:
			return nil, existing.Error
		default:
			return nil, errSuspend
		}
	}

	c.work.NewHistory = append(c.work.NewHistory, engine.HistoryEntry{
		ChildInstanceID: childID,
		Kind:            kind,
		FunctionName:    functionName,
		Input:           input,
		Status:          engine.HistoryScheduled,
		InitiatedAt:     c.now,
	})
	c.historyPos++
	return nil, errSuspend
}

// CreateTimer arms a durable timer (§4.2.3).
func (c *OrchestrationContext) CreateTimer(fireAt time.Time) error {
	childID := engine.OrdinalChildInstanceID(c.instanceID, "timer", c.timerOrdinal)
	c.timerOrdinal++

	if c.historyPos < len(c.history) {
		existing := &c.history[c.historyPos]
		if existing.ChildInstanceID != childID {
			c.determinismErr = engine.NewDeterminismError(childID, existing.ChildInstanceID, existing)
			return ErrDeterminismViolation
		}
		c.historyPos++
		switch existing.Status {
		case engine.HistorySucceeded:
			return nil
		case engine.HistoryScheduled:
			// §4.2.3: the timer has no child instance of its own to poll —
			// replay itself must notice the replay clock has passed fire_at
			// and resolve the entry in place, or an armed timer would
			// suspend forever on every subsequent pass (it never becomes
			// "ready" the way an activity's child row does).
			if existing.FireAt != nil && !c.now.Before(*existing.FireAt) {
				c.work.FiredTimers = append(c.work.FiredTimers, existing.ChildInstanceID)
				return nil
			}
			return errSuspend
		default:
			return errSuspend
		}
	}

	fa := fireAt
	c.work.NewHistory = append(c.work.NewHistory, engine.HistoryEntry{
		ChildInstanceID: childID,
		Kind:            engine.HistoryKindTimer,
		FireAt:          &fa,
		Status:          engine.HistoryScheduled,
		InitiatedAt:     c.now,
	})
	if c.work.MinExecuteAfter == nil || fa.Before(*c.work.MinExecuteAfter) {
		c.work.MinExecuteAfter = &fa
	}
	c.historyPos++
	return errSuspend
}

// WaitForExternalEvent awaits the next delivery of a named event (§4.2.4).
// Each call consumes one FIFO slot; awaiting the same name k times
// requires k deliveries, matched strictly in order.
func (c *OrchestrationContext) WaitForExternalEvent(eventName string) (json.RawMessage, error) {
	childID := engine.OrdinalChildInstanceID(c.instanceID, eventName, c.eventOrdinal)
	c.eventOrdinal++

	if c.historyPos < len(c.history) {
		existing := &c.history[c.historyPos]
		if existing.ChildInstanceID != childID {
			c.determinismErr = engine.NewDeterminismError(childID, existing.ChildInstanceID, existing)
			return nil, ErrDeterminismViolation
		}
		c.historyPos++
		switch existing.Status {
		case engine.HistorySucceeded:
			return existing.Result, nil
		case engine.HistoryFailed:
			return nil, existing.Error
		default:
			return nil, errSuspend
		}
	}

	if q := c.eventQueues[eventName]; len(q) > 0 {
		payload := q[0]
		c.eventQueues[eventName] = q[1:]
		now := c.now
		c.work.NewHistory = append(c.work.NewHistory, engine.HistoryEntry{
			ChildInstanceID: childID,
			Kind:            engine.HistoryKindExternalEvent,
			EventName:       eventName,
			Status:          engine.HistorySucceeded,
			Result:          payload,
			InitiatedAt:     c.now,
			CompletedAt:     &now,
		})
		if c.work.ConsumedEventCounts == nil {
			c.work.ConsumedEventCounts = make(map[string]int)
		}
		c.work.ConsumedEventCounts[eventName]++
		c.historyPos++
		return payload, nil
	}

	c.work.NewHistory = append(c.work.NewHistory, engine.HistoryEntry{
		ChildInstanceID: childID,
		Kind:            engine.HistoryKindExternalEvent,
		EventName:       eventName,
		Status:          engine.HistoryScheduled,
		InitiatedAt:     c.now,
	})
	c.work.NewAwaitedEvents = append(c.work.NewAwaitedEvents, engine.AwaitedEvent{Name: eventName, SlotID: childID})
	c.historyPos++
	return nil, errSuspend
}
