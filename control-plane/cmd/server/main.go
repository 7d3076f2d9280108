// Command server runs the agent-pulse control plane.
//
// # Usage
//
//	server --config pulse.yaml --port 8080
//
// # Configuration
//
// The server can be configured via:
// - Config file (YAML)
// - Environment variables (PULSE_*)
// - Command-line flags
//
// Without a Redis URL the control plane runs on an in-process realtime bus,
// writes audit records directly and does not cache telemetry windows.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/agent-pulse/control-plane/internal/api"
	"github.com/pilot-net/agent-pulse/control-plane/internal/buffer"
	"github.com/pilot-net/agent-pulse/control-plane/internal/cache"
	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
	"github.com/pilot-net/agent-pulse/control-plane/internal/metrics"
	"github.com/pilot-net/agent-pulse/control-plane/internal/mode"
	"github.com/pilot-net/agent-pulse/control-plane/internal/notify"
	"github.com/pilot-net/agent-pulse/control-plane/internal/realtime"
	"github.com/pilot-net/agent-pulse/control-plane/internal/secrets"
	"github.com/pilot-net/agent-pulse/control-plane/internal/service"
	"github.com/pilot-net/agent-pulse/control-plane/internal/store"
	"github.com/pilot-net/agent-pulse/control-plane/internal/telemetry"
	"github.com/pilot-net/agent-pulse/control-plane/internal/worker"
	"github.com/pilot-net/agent-pulse/db/migrate"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		port          = flag.Int("port", 0, "HTTP server port (overrides config)")
		dbURL         = flag.String("database", "", "Database URL (postgres://...)")
		redisURL      = flag.String("redis", "", "Redis URL (redis://...)")
		debug         = flag.Bool("debug", false, "Enable debug logging")
		migrateStatus = flag.Bool("migrate-status", false, "Print migration status and exit")
		rotateSecret  = flag.Bool("rotate-secret", false, "Rotate the stored ingestion secret and exit")
		version       = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("pulse-server v0.1.0")
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbURL != "" {
		cfg.Database.URL = *dbURL
	}
	if *redisURL != "" {
		cfg.Redis.URL = *redisURL
	}
	if *debug {
		cfg.Server.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if cfg.Server.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := store.NewStoreFromURL(connectCtx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, config.DatabasePingTimeout)
	err = db.Ping(pingCtx)
	pingCancel()
	if err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if *migrateStatus {
		status, err := migrate.GetStatus(ctx, db.Pool())
		if err != nil {
			logger.Error("reading migration status failed", "error", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(status)
		return
	}

	if err := migrate.Run(ctx, db.Pool(), logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// Ingestion secret
	resolver, err := secrets.New(cfg.Ingest.Secret, cfg.Secrets, logger)
	if err != nil {
		logger.Error("failed to initialize secrets backend", "error", err)
		os.Exit(1)
	}
	defer resolver.Close()

	if *rotateSecret {
		secret, err := resolver.Rotate(ctx)
		if err != nil {
			logger.Error("secret rotation failed", "error", err)
			os.Exit(1)
		}
		fmt.Println(secret)
		return
	}

	secret, err := resolver.IngestSecret(ctx)
	if err != nil {
		logger.Error("failed to resolve ingestion secret", "error", err)
		os.Exit(1)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Redis is optional. It carries realtime change notifications across
	// instances, buffers audit records and caches ad-hoc telemetry windows.
	var (
		bus         realtime.Bus
		audit       service.AuditWriter = service.NewDirectAudit(db)
		respCache   *cache.Cache
		flusher     *buffer.Flusher
		auditBuffer *buffer.AuditBuffer
		redisClient *redis.Client
	)
	if cfg.Redis.URL != "" {
		redisClient, err = cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		logger.Info("connected to redis")

		bus = realtime.NewRedisBus(redisClient, logger)
		respCache = cache.New(redisClient, logger)

		auditBuffer = buffer.NewAuditBuffer(redisClient, logger)
		audit = auditBuffer
		flusher = buffer.NewFlusher(auditBuffer, db, logger)
		flusher.Start()
	} else {
		logger.Info("redis not configured, using in-process realtime bus")
		bus = realtime.NewMemoryBus()
	}
	defer bus.Close()

	// Notifications
	sinks := []notify.Sink{notify.NewStoreSink(db)}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(notify.DefaultWebhookConfig(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken)))
		logger.Info("webhook notifications enabled", "url", cfg.Notify.WebhookURL)
	}
	notifier := notify.NewFanOut(m, logger, sinks...)

	// Components
	gateway := service.NewGateway(db, audit, bus, m, logger)

	statusCache := worker.NewStatusCache(db, gateway, bus, worker.DefaultStatusCacheConfig(), logger)

	alertCfg := worker.DefaultAlertManagerConfig()
	alertCfg.EscalationEnabled = cfg.Alerting.EscalationEnabled
	alerts := worker.NewAlertManager(notifier, bus, m, alertCfg, logger)

	aggregator := telemetry.NewAggregator(db, bus, logger)
	modeCtl := mode.NewController(db, bus, logger)

	hub := api.NewHub(m, logger)
	statusCache.OnChange(func(states []types.AgentState) {
		alerts.ObserveStates(states)
		m.SetAgentStates(states)
		hub.Broadcast(api.StreamAgents, states)
	})
	alerts.OnChange(func(a []types.Alert) { hub.Broadcast(api.StreamAlerts, a) })
	aggregator.OnChange(func(w types.TelemetryWindow) { hub.Broadcast(api.StreamTelemetry, w) })
	modeCtl.OnChange(hub.BroadcastMode)

	// Health
	var (
		redisPinger metrics.Pinger
		depth       metrics.DepthProvider
	)
	if redisClient != nil {
		redisPinger = redisPing{redisClient}
		depth = auditBuffer
	}
	collector := metrics.NewCollector(db, redisPinger, depth, m)
	collector.Register("status_cache", statusCache)
	collector.Register("alert_manager", alerts)
	collector.Register("telemetry", aggregator)
	collector.Register("mode", modeCtl)

	statusCache.Start(ctx)
	alerts.Start(ctx)
	aggregator.Start(ctx)
	modeCtl.Start(ctx)

	var telemetryCache api.TelemetryCache
	if respCache != nil {
		telemetryCache = respCache
	}

	apiServer := api.NewServer(api.Components{
		Gateway:        gateway,
		Agents:         statusCache,
		Alerts:         alerts,
		Telemetry:      aggregator,
		Mode:           modeCtl,
		TelemetryCache: telemetryCache,
		Inbox:          db,
		Health:         collector,
		Hub:            hub,
		Metrics:        m,
		Gatherer:       registry,
	}, api.Options{
		Secret:    secret,
		RateLimit: cfg.Ingest.RateLimit,
		RateBurst: cfg.Ingest.RateBurst,
	}, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	modeCtl.Stop()
	aggregator.Stop()
	alerts.Stop()
	statusCache.Stop()
	gateway.Wait()
	if flusher != nil {
		flusher.Stop()
	}

	logger.Info("shutdown complete")
}

// redisPing adapts the Redis client to the health collector.
type redisPing struct {
	client *redis.Client
}

func (p redisPing) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
