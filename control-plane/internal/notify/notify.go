// Package notify delivers alert notifications to the operator inbox.
//
// A FanOut sends each notification to every configured Sink. The inbox
// table is always present; a webhook sink is added when configured.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pilot-net/agent-pulse/control-plane/internal/metrics"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// Sink is one notification destination.
type Sink interface {
	Name() string
	Notify(ctx context.Context, n types.Notification) error
}

// FanOut delivers to every sink. A failing sink does not stop the others.
type FanOut struct {
	sinks   []Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewFanOut creates a fan-out over sinks.
func NewFanOut(m *metrics.Metrics, logger *slog.Logger, sinks ...Sink) *FanOut {
	return &FanOut{
		sinks:   sinks,
		metrics: m,
		logger:  logger.With("component", "notify"),
	}
}

// Name identifies the fan-out.
func (f *FanOut) Name() string { return "fanout" }

// Notify sends n to all sinks and joins their errors.
func (f *FanOut) Notify(ctx context.Context, n types.Notification) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Notify(ctx, n); err != nil {
			f.metrics.ObserveNotificationFailure(s.Name())
			f.logger.Warn("notification sink failed",
				"sink", s.Name(),
				"alert_id", n.AlertID,
				"kind", n.Kind,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		f.logger.Debug("notification delivered", "sink", s.Name(), "alert_id", n.AlertID, "severity", n.Severity)
	}
	return errors.Join(errs...)
}

// InboxWriter persists notifications.
type InboxWriter interface {
	InsertNotification(ctx context.Context, n types.Notification) error
}

// StoreSink writes notifications to the inbox table.
type StoreSink struct {
	store InboxWriter
}

// NewStoreSink creates a sink backed by store.
func NewStoreSink(store InboxWriter) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "inbox" }

func (s *StoreSink) Notify(ctx context.Context, n types.Notification) error {
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}
