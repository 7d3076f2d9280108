// Package agent provides the heartbeat emitter.
//
// # Agent Lifecycle
//
//  1. Load configuration
//  2. Check that the control plane is reachable
//  3. Send a heartbeat immediately, then one per interval
//  4. Run until shutdown signal
//
// Each heartbeat carries host metadata sampled with gopsutil. The reported
// status follows host load: ERROR when memory use crosses the configured
// ceiling, DRIFT when CPU use does, NOMINAL otherwise.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pilot-net/agent-pulse/agent/internal/client"
	"github.com/pilot-net/agent-pulse/agent/internal/config"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// Version is set at build time.
var Version = "dev"

// HostStats is one sample of host load.
type HostStats struct {
	Hostname      string
	Platform      string
	UptimeSeconds uint64
	CPUPercent    float64
	MemoryPercent float64
	MemoryTotalMB float64
}

// Sampler reads host load.
type Sampler interface {
	Sample(ctx context.Context) (HostStats, error)
}

// Sender submits heartbeats to the control plane.
type Sender interface {
	SendHeartbeat(ctx context.Context, req client.HeartbeatRequest) (*types.HeartbeatEvent, error)
}

// Stats counts heartbeats since start.
type Stats struct {
	Sent     int64     `json:"sent"`
	Failed   int64     `json:"failed"`
	LastSent time.Time `json:"last_sent"`
}

// Agent is the heartbeat emitter.
type Agent struct {
	cfg     *config.Config
	client  *client.Client
	sender  Sender
	sampler Sampler
	logger  *slog.Logger

	retryDelay time.Duration
	startTime  time.Time

	mu    sync.Mutex
	stats Stats
}

// New creates a new agent with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	cpClient := client.NewClient(client.Config{
		BaseURL:            cfg.ControlPlane.URL,
		Secret:             cfg.ControlPlane.Secret,
		UserAgent:          "pulse-agent/" + Version,
		InsecureSkipVerify: cfg.ControlPlane.InsecureSkipVerify,
	})

	return &Agent{
		cfg:        cfg,
		client:     cpClient,
		sender:     cpClient,
		sampler:    hostSampler{},
		logger:     logger.With("agent_id", cfg.Agent.ID),
		retryDelay: time.Second,
		startTime:  time.Now(),
	}, nil
}

// Run sends heartbeats until the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting agent",
		"version", Version,
		"interval", a.cfg.Health.HeartbeatInterval)

	if a.client != nil {
		if err := a.client.Ping(ctx); err != nil {
			// The control plane may come up after us; heartbeats retry anyway.
			a.logger.Warn("control plane not reachable yet", "error", err)
		}
	}

	if err := a.sendHeartbeat(ctx); err != nil {
		a.logger.Warn("heartbeat failed", "error", err)
	}
	return a.runHeartbeat(ctx)
}

// Stats returns heartbeat counters.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// runHeartbeat sends periodic heartbeats to the control plane.
func (a *Agent) runHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Health.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.sendHeartbeat(ctx); err != nil {
				a.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// sendHeartbeat samples the host and sends a single heartbeat, retrying
// transient failures.
func (a *Agent) sendHeartbeat(ctx context.Context) error {
	req := a.buildRequest(ctx)

	var event *types.HeartbeatEvent
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(max(a.cfg.ControlPlane.SendAttempts, 1)),
		retry.Delay(a.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		sendCtx, cancel := context.WithTimeout(ctx, a.cfg.ControlPlane.RequestTimeout)
		defer cancel()

		var err error
		event, err = a.sender.SendHeartbeat(sendCtx, req)
		if err != nil && !client.IsTemporary(err) {
			return retry.Unrecoverable(err)
		}
		return err
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.stats.Failed++
		return err
	}
	a.stats.Sent++
	a.stats.LastSent = event.CreatedAt

	a.logger.Debug("heartbeat accepted",
		"event_id", event.ID,
		"status", event.Status)
	return nil
}

// buildRequest assembles the heartbeat payload. A failed host sample is
// reported rather than skipped so the control plane still sees the agent.
func (a *Agent) buildRequest(ctx context.Context) client.HeartbeatRequest {
	metadata := map[string]any{
		"source":         "agent",
		"version":        Version,
		"uptime_seconds": int64(time.Since(a.startTime).Seconds()),
	}
	for k, v := range a.cfg.Agent.Tags {
		metadata["tag_"+k] = v
	}

	stats, err := a.sampler.Sample(ctx)
	if err != nil {
		a.logger.Warn("host sample failed", "error", err)
		return client.HeartbeatRequest{
			AgentID:  a.cfg.Agent.ID,
			Status:   string(types.StatusDrift),
			Message:  fmt.Sprintf("host metrics unavailable: %v", err),
			Metadata: metadata,
		}
	}

	metadata["hostname"] = stats.Hostname
	metadata["platform"] = stats.Platform
	metadata["host_uptime_seconds"] = stats.UptimeSeconds
	metadata["cpu_percent"] = stats.CPUPercent
	metadata["memory_percent"] = stats.MemoryPercent
	metadata["memory_total_mb"] = stats.MemoryTotalMB

	status, message := deriveStatus(stats, a.cfg.Health)
	return client.HeartbeatRequest{
		AgentID:  a.cfg.Agent.ID,
		Status:   string(status),
		Message:  message,
		Metadata: metadata,
	}
}

// deriveStatus maps host load onto a reported status.
func deriveStatus(s HostStats, h config.HealthConfig) (types.AgentStatus, string) {
	if h.ErrorMemoryPercent > 0 && s.MemoryPercent >= h.ErrorMemoryPercent {
		return types.StatusError, fmt.Sprintf("memory at %.1f%%", s.MemoryPercent)
	}
	if h.DriftCPUPercent > 0 && s.CPUPercent >= h.DriftCPUPercent {
		return types.StatusDrift, fmt.Sprintf("cpu at %.1f%%", s.CPUPercent)
	}
	return types.StatusNominal, "Systems nominal"
}

// hostSampler reads host load through gopsutil.
type hostSampler struct{}

func (hostSampler) Sample(ctx context.Context) (HostStats, error) {
	var s HostStats

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("reading host info: %w", err)
	}
	s.Hostname = info.Hostname
	s.Platform = info.Platform
	s.UptimeSeconds = info.Uptime

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("reading memory: %w", err)
	}
	s.MemoryPercent = vm.UsedPercent
	s.MemoryTotalMB = float64(vm.Total) / (1024 * 1024)

	// Zero interval compares against the previous call.
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s, fmt.Errorf("reading cpu: %w", err)
	}
	if len(pct) == 0 {
		return s, errors.New("reading cpu: no samples")
	}
	s.CPUPercent = pct[0]
	return s, nil
}
