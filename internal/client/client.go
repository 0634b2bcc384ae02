// Package client implements the management surface (§4.6): StartNew,
// GetStatus, RaiseEvent, Terminate, and PurgeInstanceHistory. It is a thin
// layer over internal/store plus boundary validation (max_input_size) and
// the status projection the store's lightweight Candidate type doesn't
// carry on its own.
package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/corewind/durable-orchestrator/internal/engine"
	"github.com/corewind/durable-orchestrator/internal/store"
	"github.com/corewind/durable-orchestrator/internal/telemetry"
)

// Client is the §4.6 management API for one engine deployment.
type Client struct {
	store        store.Store
	maxInputSize int
	metrics      *telemetry.Metrics
}

func New(st store.Store, maxInputSize int) *Client {
	return &Client{store: st, maxInputSize: maxInputSize, metrics: telemetry.Current()}
}

// StatusResult is GetStatus's return shape (§6.2, §4.6). History/Input/
// Output are populated only when the corresponding show_* flag is set
// (SUPPLEMENTED FEATURES: GetStatus projection flags).
type StatusResult struct {
	InstanceID       string
	FunctionName     string
	ParentInstanceID string
	RuntimeStatus    engine.RuntimeStatus
	ExecuteAfter     time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Input   json.RawMessage      `json:"input,omitempty"`
	Output  json.RawMessage      `json:"output,omitempty"`
	Error   *engine.OrchestrationError `json:"error,omitempty"`
	History []engine.HistoryEntry      `json:"history,omitempty"`
}

// StartNew writes a fresh instance record (§4.6). If instanceID is empty,
// a new root id is generated (§3.1 "instance ids created by StartNew
// without an explicit id default to uuid.NewString()").
func (c *Client) StartNew(ctx context.Context, functionName string, input json.RawMessage, instanceID string) (string, error) {
	if err := c.checkInputSize(input); err != nil {
		return "", err
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	cctx, span := telemetry.ClientSpan(ctx, "start_new", instanceID)
	defer span.End()

	now := time.Now().UTC()
	rec := &engine.InstanceRecord{
		InstanceID:   instanceID,
		FunctionName: functionName,
		Input:        input,
		ExecuteAfter: now,
		EventQueues:  map[string][]json.RawMessage{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := c.store.SaveState(cctx, rec, nil)
	telemetry.EndWithError(span, err)
	if err != nil {
		return "", err
	}
	c.metrics.OrchestrationStarted(ctx, functionName)
	return instanceID, nil
}

// GetStatus reads an instance's status (§4.6). Returns (nil, nil) if the
// instance doesn't exist, matching "status | null" in §4.6's signature.
func (c *Client) GetStatus(ctx context.Context, instanceID string, showHistory, showInput, showOutput bool) (*StatusResult, error) {
	cctx, span := telemetry.ClientSpan(ctx, "get_status", instanceID)
	defer span.End()

	rec, err := c.store.GetState(cctx, instanceID)
	if err != nil {
		if err == engine.ErrNotFound {
			return nil, nil
		}
		telemetry.EndWithError(span, err)
		return nil, err
	}

	res := &StatusResult{
		InstanceID:       rec.InstanceID,
		FunctionName:     rec.FunctionName,
		ParentInstanceID: rec.ParentInstanceID,
		RuntimeStatus:    rec.RuntimeStatus(),
		ExecuteAfter:     rec.ExecuteAfter,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
	if rec.IsCompleted {
		res.Error = rec.CompletedError
		if showOutput {
			res.Output = rec.CompletedResult
		}
	}
	if showInput {
		res.Input = rec.Input
	}
	if showHistory {
		res.History = rec.History
	}
	return res, nil
}

// RaiseEvent delegates to the store's atomic deliver-or-enqueue (§4.6,
// §4.2.4).
func (c *Client) RaiseEvent(ctx context.Context, instanceID, eventName string, payload json.RawMessage) error {
	if err := c.checkInputSize(payload); err != nil {
		return err
	}
	cctx, span := telemetry.ClientSpan(ctx, "raise_event", instanceID)
	defer span.End()

	err := c.store.RaiseEvent(cctx, instanceID, eventName, payload)
	telemetry.EndWithError(span, err)
	if err == nil {
		c.metrics.EventRaised(ctx, eventName, true)
	}
	return err
}

// Terminate CAS-marks the instance completed with a termination error
// regardless of lease (§4.6, §4.1 "Cancellation").
func (c *Client) Terminate(ctx context.Context, instanceID, reason string) error {
	cctx, span := telemetry.ClientSpan(ctx, "terminate", instanceID)
	defer span.End()

	err := c.store.Terminate(cctx, instanceID, reason)
	telemetry.EndWithError(span, err)
	return err
}

// PurgeInstanceHistory deletes an instance record (§4.6). cascade also
// purges every child instance reachable via history entries of kind
// activity/sub_orchestrator (SUPPLEMENTED FEATURES: recursive purge).
func (c *Client) PurgeInstanceHistory(ctx context.Context, instanceID string, cascade bool) (int, error) {
	cctx, span := telemetry.ClientSpan(ctx, "purge", instanceID)
	defer span.End()

	n, err := c.store.Purge(cctx, instanceID, cascade)
	telemetry.EndWithError(span, err)
	return n, err
}

func (c *Client) checkInputSize(payload json.RawMessage) error {
	if c.maxInputSize <= 0 {
		return nil
	}
	if len(payload) > c.maxInputSize {
		return &engine.OrchestrationError{
			Kind:    engine.KindInvalidArgument,
			Message: "payload exceeds max_input_size",
		}
	}
	return nil
}
