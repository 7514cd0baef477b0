package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/bus"
	"github.com/nextlevelbuilder/relaygate/internal/config"
	"github.com/nextlevelbuilder/relaygate/internal/gateway"
	"github.com/nextlevelbuilder/relaygate/internal/queue"
	"github.com/nextlevelbuilder/relaygate/internal/router"
	"github.com/nextlevelbuilder/relaygate/internal/scheduler"
	"github.com/nextlevelbuilder/relaygate/internal/store"
	"github.com/nextlevelbuilder/relaygate/internal/telemetry"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(flushCtx)
	}()

	sessStore, err := store.Open(store.Config{
		Backend:     cfg.Store.Backend,
		FileDir:     cfg.Store.FileDir,
		SQLitePath:  cfg.Store.SQLitePath,
		PostgresDSN: cfg.Store.PostgresDSN,
	})
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	slog.Info("session store ready", "backend", cfg.Store.Backend)

	msgBus := bus.NewMessageBus(cfg.Queue.BusBufferLen)

	registry := router.NewRegistryClient(cfg.Router.RegistryEndpoint)
	agentRouter := router.New(router.Config{
		Strategy:        router.Strategy(cfg.Router.Strategy),
		DefaultAgent:    cfg.Router.DefaultAgent,
		ContentPatterns: contentPatterns(cfg.Router.ContentPatterns),
	}, registry)

	runtime := gateway.NewRuntimeClient(cfg.Runtime)

	limiter := queue.NewRateLimiter()
	manager := queue.NewManager(queue.ManagerConfig{
		MaxQueueSize: cfg.Queue.MaxSize,
		QueueEnabled: cfg.Queue.Enabled,
		TickInterval: time.Duration(cfg.Queue.TickMillis) * time.Millisecond,
	}, limiter, runtime.ProcessFunc())
	if err := manager.Start(ctx); err != nil {
		slog.Error("failed to start queue manager", "error", err)
		os.Exit(1)
	}
	defer manager.Stop()

	notifier := gateway.NewBusNotifier(msgBus, cfg.Gateway.NotifyTarget)
	sched := scheduler.New(scheduler.Config{
		HeartbeatInterval: cfg.Scheduler.HeartbeatMinutes,
		HeartbeatTarget:   cfg.Scheduler.HeartbeatTarget,
	}, runtime.RunFunc(), notifier)
	sched.Start()
	defer sched.Stop()

	bot := bus.BotInfo{
		ID:          cfg.Gateway.BotID,
		Username:    cfg.Gateway.BotUsername,
		DisplayName: cfg.Gateway.BotDisplayName,
	}
	consumer := gateway.NewConsumer(sessStore, agentRouter, manager, bot, msgBus)
	go consumer.Run(ctx)

	// Config changes are detected but not hot-applied; the wiring above
	// holds references that would need a restart to swap safely.
	go func() {
		if err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			slog.Info("config change detected; restart to apply structural changes",
				"path", cfgPath, "default_agent", next.Router.DefaultAgent)
		}); err != nil {
			slog.Debug("config watcher unavailable", "error", err)
		}
	}()

	server := gateway.NewServer(cfg.Gateway, sessStore, manager, limiter, sched, consumer, msgBus)
	if err := server.Start(ctx); err != nil {
		slog.Error("admin server failed", "error", err)
		os.Exit(1)
	}
}

func contentPatterns(in []config.ContentPattern) []router.ContentPattern {
	out := make([]router.ContentPattern, 0, len(in))
	for _, p := range in {
		out = append(out, router.ContentPattern{Pattern: p.Pattern, Agent: p.Agent})
	}
	return out
}
