// Package realtime carries change notifications between the control plane
// components.
//
// Two channels exist: heartbeat inserts and mode config updates. Both are
// insert-only streams of JSON payloads. Consumers call Listen, which blocks
// until its context is cancelled and re-subscribes on transport loss. Every
// successful (re)subscribe invokes onConnect so the consumer can run a full
// poll and recover anything published while it was disconnected.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// Channel names.
const (
	ChannelHeartbeats = "pulse:heartbeats"
	ChannelMode       = "pulse:mode"
)

// Bus publishes and delivers change notifications.
type Bus interface {
	// Publish sends payload to every current listener of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Listen subscribes to channel and calls onMessage for each payload.
	// onConnect runs after every successful subscribe, including the first.
	// Listen returns nil once ctx is cancelled.
	Listen(ctx context.Context, channel string, onConnect func(context.Context) error, onMessage func([]byte)) error

	Close() error
}

// PublishHeartbeat broadcasts a persisted heartbeat event.
func PublishHeartbeat(ctx context.Context, bus Bus, e types.HeartbeatEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding heartbeat: %w", err)
	}
	return bus.Publish(ctx, ChannelHeartbeats, data)
}

// DecodeHeartbeat parses a heartbeat channel payload.
func DecodeHeartbeat(payload []byte) (types.HeartbeatEvent, error) {
	var e types.HeartbeatEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return e, fmt.Errorf("decoding heartbeat: %w", err)
	}
	return e, nil
}

// PublishMode broadcasts the persisted mode config.
func PublishMode(ctx context.Context, bus Bus, cfg types.ModeConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding mode config: %w", err)
	}
	return bus.Publish(ctx, ChannelMode, data)
}

// DecodeMode parses a mode channel payload.
func DecodeMode(payload []byte) (types.ModeConfig, error) {
	var cfg types.ModeConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding mode config: %w", err)
	}
	if _, err := types.ParseMode(string(cfg.Mode)); err != nil {
		return cfg, err
	}
	return cfg, nil
}
