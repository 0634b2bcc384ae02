// Package executor implements the replay executor (§4.1): given an
// instance record, it runs the registered function exactly once to its
// next suspension or completion and returns the resulting work set.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corewind/durable-orchestrator/internal/engine"
	platformlog "github.com/corewind/durable-orchestrator/internal/platform/logger"
	"github.com/corewind/durable-orchestrator/internal/runtime"
)

// Executor drives one replay pass of a registered function against an
// instance record (§4.1). It is stateless and safe for concurrent use
// across different instances; the caller (scheduler) is responsible for
// ensuring at most one executor pass runs per instance at a time (via the
// lease manager).
type Executor struct {
	registry *runtime.Registry
	log      *platformlog.Logger
}

func New(registry *runtime.Registry, log *platformlog.Logger) *Executor {
	return &Executor{registry: registry, log: log}
}

// Run implements §4.1's algorithm. now is the executor's frozen clock for
// this pass; it must be supplied by the caller rather than read internally
// so that a test harness can pin it and assert P1/P2-style idempotence
// without wall-clock flakiness.
func (e *Executor) Run(ctx context.Context, record *engine.InstanceRecord, now time.Time) (*engine.WorkSet, error) {
	if record == nil {
		return nil, errors.New("executor: nil instance record")
	}
	if record.IsCompleted {
		return &engine.WorkSet{Completed: true, Result: record.CompletedResult, Error: record.CompletedError}, nil
	}

	if e.registry.IsOrchestrator(record.FunctionName) {
		return e.runOrchestrator(record, now)
	}
	return e.runActivity(ctx, record)
}

func (e *Executor) runOrchestrator(record *engine.InstanceRecord, now time.Time) (*engine.WorkSet, error) {
	fn, ok := e.registry.GetOrchestrator(record.FunctionName)
	if !ok {
		return &engine.WorkSet{Completed: true, Error: engine.NewRegistrationError(record.FunctionName)}, nil
	}

	octx := runtime.New(record, now, e.log)
	result, err := e.safeRunOrchestrator(fn, octx)
	work := octx.WorkSet()

	switch {
	case err == nil:
		work.Completed = true
		work.Result = result
	case runtime.IsSuspended(err):
		// Suspension (§4.1 step 5): the work set carries only the pending
		// actions accumulated before suspending. No completion.
	case errors.Is(err, runtime.ErrDeterminismViolation):
		work.Completed = true
		work.Error = octx.DeterminismError()
	default:
		work.Completed = true
		var oe *engine.OrchestrationError
		if errors.As(err, &oe) {
			work.Error = oe
		} else {
			work.Error = engine.NewUserError(err)
		}
	}
	return work, nil
}

func (e *Executor) runActivity(ctx context.Context, record *engine.InstanceRecord) (*engine.WorkSet, error) {
	fn, ok := e.registry.GetActivity(record.FunctionName)
	if !ok {
		return &engine.WorkSet{Completed: true, Error: engine.NewRegistrationError(record.FunctionName)}, nil
	}

	result, err := e.safeRunActivity(ctx, fn, record.Input)
	work := &engine.WorkSet{Completed: true}
	if err != nil {
		var oe *engine.OrchestrationError
		if errors.As(err, &oe) {
			work.Error = oe
		} else {
			work.Error = engine.NewUserError(err)
		}
		return work, nil
	}
	work.Result = result
	return work, nil
}

// safeRunOrchestrator recovers a panicking user function exactly like a
// thrown non-suspension error: permanent instance failure, never a crashed
// host process (a panic here must not take the scheduler down with it).
func (e *Executor) safeRunOrchestrator(fn runtime.OrchestratorFunc, octx *runtime.OrchestrationContext) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e.log != nil {
				e.log.Error("orchestrator panic", "instance_id", octx.InstanceID(), "function_name", octx.FunctionName(), "panic", fmt.Sprintf("%v", r))
			}
			err = fmt.Errorf("orchestrator panic: %v", r)
		}
	}()
	return fn(octx)
}

func (e *Executor) safeRunActivity(ctx context.Context, fn runtime.ActivityFunc, input json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e.log != nil {
				e.log.Error("activity panic", "panic", fmt.Sprintf("%v", r))
			}
			err = fmt.Errorf("activity panic: %v", r)
		}
	}()
	return fn(ctx, input)
}
