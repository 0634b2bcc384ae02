package jobrun

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/corewind/durable-orchestrator/internal/engine"
	"github.com/corewind/durable-orchestrator/internal/executor"
	"github.com/corewind/durable-orchestrator/internal/lease"
	platformlog "github.com/corewind/durable-orchestrator/internal/platform/logger"
	"github.com/corewind/durable-orchestrator/internal/store"
)

// Activities is the Temporal activity set that runs one executor pass per
// Tick call. It holds the same collaborators as the polling scheduler
// (store, lease manager, executor) — Temporal only replaces the "when do
// we tick next" loop, not the replay semantics underneath it.
type Activities struct {
	Log      *platformlog.Logger
	Store    store.Store
	Leases   *lease.Manager
	Executor *executor.Executor
}

func (a *Activities) Tick(ctx context.Context, instanceID string) (TickResult, error) {
	res := TickResult{InstanceID: strings.TrimSpace(instanceID)}
	if a == nil || a.Store == nil || a.Leases == nil || a.Executor == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	if res.InstanceID == "" {
		return res, fmt.Errorf("jobrun: invalid instance_id")
	}

	l, ok, err := a.Leases.Acquire(ctx, res.InstanceID)
	if err != nil {
		return res, err
	}
	if !ok {
		// Another host holds the lease; report the last known status
		// without doing any work this tick.
		rec, gerr := a.Store.GetState(ctx, res.InstanceID)
		if gerr != nil {
			return res, gerr
		}
		res.Status = string(rec.RuntimeStatus())
		return res, nil
	}
	stopHB := a.startHeartbeat(ctx)
	defer stopHB()
	defer func() { _, _ = l.Release(ctx) }()

	record, err := a.Store.GetFullState(ctx, res.InstanceID, l.HostID())
	if err != nil {
		return res, err
	}

	now := time.Now().UTC()
	work, err := a.Executor.Run(ctx, record, now)
	if err != nil {
		return res, err
	}

	committed, err := a.Store.ApplyWorkSet(ctx, res.InstanceID, record.Version, work)
	if err != nil {
		return res, err
	}
	if !committed {
		// Stale version: report current state, let the workflow retick.
		rec, gerr := a.Store.GetState(ctx, res.InstanceID)
		if gerr != nil {
			return res, gerr
		}
		res.Status = string(rec.RuntimeStatus())
		return res, nil
	}
	l.UpdateVersion(record.Version + 1)
	spawnChildren(ctx, a.Store, a.Log, res.InstanceID, work, now)

	if work.Completed {
		if record.ParentInstanceID != "" {
			status := engine.HistorySucceeded
			if work.Error != nil {
				status = engine.HistoryFailed
			}
			if _, werr := a.Store.WakeParent(ctx, record.ParentInstanceID, record.InstanceID, status, work.Result, work.Error); werr != nil && a.Log != nil {
				a.Log.Warn("wake parent failed", "parent_instance_id", record.ParentInstanceID, "instance_id", record.InstanceID, "error", werr)
			}
		}
		if work.Error != nil {
			res.Status = string(engine.StatusFailed)
			if work.Error.Kind == engine.KindTerminated {
				res.Status = string(engine.StatusTerminated)
			}
		} else {
			res.Status = string(engine.StatusCompleted)
		}
		return res, nil
	}

	res.Status = string(engine.StatusRunning)
	if work.MinExecuteAfter != nil {
		res.WaitUntil = work.MinExecuteAfter
	}
	return res, nil
}

// spawnChildren mirrors the polling scheduler's spawnChildren (§2 data
// flow: "on a suspension the executor writes a child instance"; §3.1 I4):
// every freshly scheduled activity/sub-orchestrator history entry needs its
// own instance row before any Temporal workflow or scheduler host can ever
// tick it. A create-only SaveState is idempotent against a duplicate spawn
// attempt.
func spawnChildren(ctx context.Context, st store.Store, log *platformlog.Logger, parentInstanceID string, work *engine.WorkSet, now time.Time) {
	for _, h := range work.NewHistory {
		if h.Kind != engine.HistoryKindActivity && h.Kind != engine.HistoryKindSubOrchestrator {
			continue
		}
		child := engine.NewChildInstanceRecord(parentInstanceID, h, now)
		if err := st.SaveState(ctx, child, nil); err != nil && !errors.Is(err, engine.ErrAlreadyExists) {
			if log != nil {
				log.Error("spawn child failed", "parent_instance_id", parentInstanceID, "child_instance_id", h.ChildInstanceID, "function_name", h.FunctionName, "error", err)
			}
		}
	}
}

func (a *Activities) startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
