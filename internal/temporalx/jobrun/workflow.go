package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

// Workflow drives one instance to completion by repeatedly calling the
// tick activity, which runs one executor pass (§4.1) and commits its work
// set (§4.5). It mirrors the polling scheduler's runOne loop, but the
// "when to run next" decision is delegated to Temporal's timer and
// continue-as-new machinery rather than a ticker.
func Workflow(ctx workflow.Context) error {
	instanceID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if instanceID == "" {
		return fmt.Errorf("jobrun: missing instance_id")
	}

	const (
		defaultPollInterval  = 100 * time.Millisecond
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         nil, // nil leaves Temporal's default activity retry policy in effect
	})

	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	tickCount := 0

	for {
		tickCount++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, instanceID).Get(ctx, &out); err != nil {
			return err
		}

		switch out.Status {
		case "Completed", "Terminated":
			return nil
		case "Failed":
			return fmt.Errorf("instance failed: %s", instanceID)
		default:
			// Pending/Running: suspended awaiting a timer, event, or child.
			// A resume signal (an external RaiseEvent arriving out of band)
			// lets the workflow wake early instead of waiting the full
			// poll interval.
			waitForResumeOrPoll(ctx, resumeCh, nextWait(ctx, out.WaitUntil, defaultPollInterval))
			if shouldContinueAsNew(ctx, tickCount, continueTickLimit, continueHistoryLimit) {
				return workflow.NewContinueAsNewError(ctx, Workflow)
			}
			continue
		}
	}
}

func waitForResumeOrPoll(ctx workflow.Context, ch workflow.ReceiveChannel, maxWait time.Duration) {
	timer := workflow.NewTimer(ctx, maxWait)
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		var v any
		c.Receive(ctx, &v)
	})
	sel.AddFuture(timer, func(f workflow.Future) {})
	sel.Select(ctx)
}

func nextWait(ctx workflow.Context, waitUntil *time.Time, def time.Duration) time.Duration {
	if waitUntil == nil || waitUntil.IsZero() {
		return def
	}
	now := workflow.Now(ctx)
	if waitUntil.Before(now) {
		return def
	}
	d := waitUntil.Sub(now)
	if d <= 0 {
		return def
	}
	if d > 15*time.Minute {
		return 15 * time.Minute
	}
	return d
}

func shouldContinueAsNew(ctx workflow.Context, ticks int, maxTicks int, maxHistory int) bool {
	if ticks >= maxTicks && maxTicks > 0 {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil {
		return false
	}
	if maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
