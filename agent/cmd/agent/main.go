// Command agent runs the heartbeat emitter for one roster agent.
//
// # Usage
//
//	agent --control-plane https://pulse.pilot.net --id AG-03 --secret change-me
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (PULSE_AGENT_*)
// - Config file (--config)
//
// # Examples
//
// Run with config file:
//
//	agent --config /etc/pulse/agent.yaml
//
// Run with environment variables:
//
//	PULSE_AGENT_CONTROL_PLANE_URL=https://pulse.pilot.net \
//	PULSE_AGENT_ID=AG-05 \
//	PULSE_AGENT_SECRET=change-me \
//	agent
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pilot-net/agent-pulse/agent"
	"github.com/pilot-net/agent-pulse/agent/internal/config"
)

func main() {
	var (
		configFile   = flag.String("config", "", "Path to config file")
		controlPlane = flag.String("control-plane", "", "Control plane URL")
		secret       = flag.String("secret", "", "Shared ingestion secret")
		id           = flag.String("id", "", "Agent id (AG-01 through AG-07)")
		interval     = flag.Duration("interval", 0, "Heartbeat interval")
		debug        = flag.Bool("debug", false, "Enable debug logging")
		version      = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("pulse-agent %s\n", agent.Version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg := config.DefaultConfig()
	if *configFile != "" {
		fileCfg, err := config.LoadFromFile(*configFile)
		if err != nil {
			logger.Error("failed to load config file", "error", err)
			os.Exit(1)
		}
		cfg = fileCfg
	}

	cfg.ApplyEnvOverrides()

	if *controlPlane != "" {
		cfg.ControlPlane.URL = *controlPlane
	}
	if *secret != "" {
		cfg.ControlPlane.Secret = *secret
	}
	if *id != "" {
		cfg.Agent.ID = *id
	}
	if *interval > 0 {
		cfg.Health.HeartbeatInterval = *interval
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create agent", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting pulse agent",
		"agent_id", cfg.Agent.ID,
		"control_plane", cfg.ControlPlane.URL)

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("agent exited with error", "error", err)
		os.Exit(1)
	}

	stats := a.Stats()
	logger.Info("agent shutdown complete", "sent", stats.Sent, "failed", stats.Failed)
}
