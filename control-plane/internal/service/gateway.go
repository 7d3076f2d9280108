// Package service contains the ingestion gateway, the single write path
// for agent heartbeats.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/agent-pulse/control-plane/internal/metrics"
	"github.com/pilot-net/agent-pulse/control-plane/internal/realtime"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// Rejection reasons carried by ValidationError.
const (
	ReasonUnknownAgent  = "unknown_agent"
	ReasonInvalidStatus = "invalid_status"
	ReasonMalformedBody = "malformed_body"
)

// ValidationError rejects a heartbeat before anything is written.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is a rejection of the input.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// EventStore persists heartbeat events.
type EventStore interface {
	InsertHeartbeat(ctx context.Context, e *types.HeartbeatEvent) error
}

// AuditWriter records a structured audit entry.
type AuditWriter interface {
	WriteAudit(ctx context.Context, l types.SystemLog) error
}

// HeartbeatRequest is one heartbeat submission.
type HeartbeatRequest struct {
	AgentID  string         `json:"agent_id"`
	Status   string         `json:"status,omitempty"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Gateway validates, persists and announces heartbeats.
type Gateway struct {
	store   EventStore
	audit   AuditWriter
	bus     realtime.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger

	sideEffectTimeout time.Duration
	wg                sync.WaitGroup
}

// NewGateway creates a gateway. audit and bus may be nil.
func NewGateway(store EventStore, audit AuditWriter, bus realtime.Bus, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	return &Gateway{
		store:             store,
		audit:             audit,
		bus:               bus,
		metrics:           m,
		logger:            logger.With("component", "gateway"),
		sideEffectTimeout: 5 * time.Second,
	}
}

// IngestHeartbeat validates req, inserts the event and returns it as stored.
//
// Rejected input returns a *ValidationError and writes nothing. A failed
// insert is returned to the caller. The audit record and the realtime
// announcement are best-effort and never fail the call.
func (g *Gateway) IngestHeartbeat(ctx context.Context, req HeartbeatRequest) (*types.HeartbeatEvent, error) {
	if !types.IsKnownAgent(req.AgentID) {
		g.metrics.ObserveRejected(ReasonUnknownAgent)
		return nil, &ValidationError{
			Reason: ReasonUnknownAgent,
			Err:    fmt.Errorf("%w: %q", types.ErrUnknownAgent, req.AgentID),
		}
	}
	status, err := types.ParseIngestStatus(req.Status)
	if err != nil {
		g.metrics.ObserveRejected(ReasonInvalidStatus)
		return nil, &ValidationError{Reason: ReasonInvalidStatus, Err: err}
	}

	event := &types.HeartbeatEvent{
		AgentID:  req.AgentID,
		Status:   status,
		Message:  req.Message,
		Metadata: req.Metadata,
	}
	if err := g.store.InsertHeartbeat(ctx, event); err != nil {
		return nil, fmt.Errorf("inserting heartbeat: %w", err)
	}
	g.metrics.ObserveIngested(event.AgentID, event.Status)

	g.logger.Debug("heartbeat ingested", "agent_id", event.AgentID, "status", event.Status, "id", event.ID)

	g.writeAudit(*event)
	g.announce(ctx, *event)

	return event, nil
}

// writeAudit records the audit entry on a detached goroutine.
func (g *Gateway) writeAudit(event types.HeartbeatEvent) {
	if g.audit == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.sideEffectTimeout)
		defer cancel()
		if err := g.audit.WriteAudit(ctx, types.HeartbeatAuditLog(event)); err != nil {
			g.metrics.ObserveAuditFailure()
			g.logger.Warn("audit log write failed", "agent_id", event.AgentID, "error", err)
		}
	}()
}

// announce publishes the stored event. Listeners that miss it recover on
// their next full poll.
func (g *Gateway) announce(ctx context.Context, event types.HeartbeatEvent) {
	if g.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.sideEffectTimeout)
	defer cancel()
	if err := realtime.PublishHeartbeat(ctx, g.bus, event); err != nil {
		g.logger.Warn("heartbeat broadcast failed", "agent_id", event.AgentID, "error", err)
	}
}

// Wait blocks until detached audit writes have finished.
func (g *Gateway) Wait() {
	g.wg.Wait()
}
