package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kdlabs/queuecore/internal/api"
	"github.com/kdlabs/queuecore/internal/backend"
	"github.com/kdlabs/queuecore/internal/backend/copilotsdk"
	"github.com/kdlabs/queuecore/internal/backend/credentials"
	"github.com/kdlabs/queuecore/internal/backend/pool"
	"github.com/kdlabs/queuecore/internal/common/config"
	"github.com/kdlabs/queuecore/internal/common/logger"
	"github.com/kdlabs/queuecore/internal/events/bus"
	"github.com/kdlabs/queuecore/internal/executor"
	"github.com/kdlabs/queuecore/internal/monitor"
	"github.com/kdlabs/queuecore/internal/queue"
	"github.com/kdlabs/queuecore/internal/registry"
	"github.com/kdlabs/queuecore/internal/serverclient"
	"github.com/kdlabs/queuecore/internal/session"
	"github.com/kdlabs/queuecore/internal/storage"
	v1 "github.com/kdlabs/queuecore/pkg/api/v1"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting queuecore service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Event bus: an optional pub/sub mirror of the in-process OnChange
	// streams, for consumers outside this process.
	eventBus, err := newEventBus(cfg.Events, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer eventBus.Close()
	log.Info("Initialized event bus", zap.String("backend", cfg.Events.Backend))

	// 4. Persistence store shared by queue and registry.
	store, err := newKVStore(ctx, cfg.Persistence)
	if err != nil {
		log.Fatal("Failed to initialize persistence store", zap.Error(err))
	}
	defer store.Close()

	// 5. Task Queue Manager + Queue Persistence.
	taskQueue := queue.New(queue.Config{
		DefaultPriority: v1.Priority(cfg.Queue.DefaultPriority),
		MaxQueueSize:    cfg.Queue.MaxQueueSize,
		KeepHistory:     cfg.Queue.KeepHistory,
		MaxHistorySize:  cfg.Queue.MaxHistorySize,
	}, log)

	queuePersistence := queue.NewPersistence(taskQueue, store, cfg.Persistence.DebounceDuration(), log)
	if err := queuePersistence.Load(ctx); err != nil {
		log.Fatal("Failed to load queue snapshot", zap.Error(err))
	}

	// 6. Process Registry + Registry Persistence.
	processRegistry := registry.New(registry.Config{HistoryLimit: cfg.Registry.HistoryLimit}, log)
	registryPersistence := registry.NewPersistence(processRegistry, store, cfg.Registry.DebounceDuration(), log)
	if err := registryPersistence.Load(ctx); err != nil {
		log.Fatal("Failed to load process registry snapshot", zap.Error(err))
	}

	publishDomainEvents(eventBus, taskQueue, processRegistry, log)

	// 7. Credentials Manager, feeding the CLI backend's subprocess environment.
	credsMgr := credentials.NewManager(log)
	credsMgr.AddProvider(credentials.NewEnvProvider("QUEUECORE_"))

	// 8. Backend Invoker, optionally backed by a pooled SDK Session Pool.
	var sessionPool *pool.Pool
	if cfg.Backend.Type == string(v1.BackendCopilotSDK) && cfg.Queue.MaxConcurrency > 1 {
		sdkCfg := copilotsdk.Config{CLIUrl: cfg.Backend.SDK.CLIUrl}
		sessionPool = pool.New(pool.Config{
			MaxSessions: cfg.Backend.SDK.MaxSessions,
			IdleTimeout: cfg.Backend.SDK.SessionTimeout(),
		}, backend.SessionFactory(sdkCfg, log), backend.SessionDestroyer(), log)
	}

	invoker := backend.New(backend.Config{
		DefaultBackend: v1.BackendType(cfg.Backend.Type),
		SDK:            copilotsdk.Config{CLIUrl: cfg.Backend.SDK.CLIUrl},
	}, sessionPool, credsMgr, log)

	// 9. Queue Executor drives the queue against the Backend Invoker.
	exec := executor.New(taskQueue, processRegistry, invoker, cfg.Queue.MaxConcurrency, log)
	if cfg.Queue.Enabled {
		exec.Start(ctx)
		log.Info("Started queue executor", zap.Int("maxConcurrency", cfg.Queue.MaxConcurrency))
	}

	// 10. Process Monitor, shared by the Interactive Session Manager.
	procMonitor := monitor.New(cfg.Monitor.PollInterval(), log)
	defer procMonitor.Close()

	// 11. Interactive Session Manager.
	sessionMgr := session.New(procMonitor, log)

	// 12. Server Client: best-effort outbound sync to a remote dashboard.
	var serverClient *serverclient.Client
	if cfg.Server.URL != "" {
		serverClient = serverclient.New(serverclient.Config{
			BaseURL:   cfg.Server.URL,
			QueueSize: cfg.Server.MaxQueueSize,
		}, log)
		defer serverClient.Close()
		wireServerClient(serverClient, processRegistry)
		log.Info("Initialized server client", zap.String("baseURL", cfg.Server.URL))
	}

	// 13. Caller-facing HTTP API + websocket events hub.
	apiServer := api.NewServer(api.Config{}, taskQueue, processRegistry, sessionMgr, log)
	unsubHub := apiServer.Run(ctx)
	defer unsubHub()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 14. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down queuecore service...")

	// 15. Graceful shutdown.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	exec.Stop()
	queuePersistence.Flush()
	registryPersistence.Flush()

	log.Info("queuecore service stopped")
}

// newEventBus constructs the configured EventBus implementation.
func newEventBus(cfg config.EventsConfig, log *logger.Logger) (bus.EventBus, error) {
	if cfg.Backend == "nats" {
		return bus.NewNATSEventBus(cfg, log)
	}
	return bus.NewMemoryEventBus(log), nil
}

// newKVStore constructs the configured KVStore implementation.
func newKVStore(ctx context.Context, cfg config.PersistenceConfig) (storage.KVStore, error) {
	if cfg.Backend == "postgres" {
		return storage.NewPostgresKVStore(ctx, cfg.PostgresDSN)
	}
	return storage.NewFileKVStore(cfg.DataDir)
}

// publishDomainEvents mirrors Task Queue and Process Registry OnChange
// events onto the event bus so external consumers can subscribe without
// talking HTTP to this process.
func publishDomainEvents(b bus.EventBus, q *queue.TaskQueueManager, reg *registry.AIProcessManager, log *logger.Logger) {
	q.OnChange(func(evt v1.QueueEvent) {
		publish(b, "queue.events", bus.NewQueueEvent("queue.events", "queue", evt), log)
	})
	reg.OnChange(func(evt v1.ProcessEvent) {
		publish(b, "process.events", bus.NewProcessEvent("process.events", "registry", evt), log)
	})
}

func publish(b bus.EventBus, subject string, evt *bus.Event, log *logger.Logger) {
	if err := b.Publish(context.Background(), subject, evt); err != nil {
		log.Warn("failed to publish domain event", zap.String("subject", subject), zap.Error(err))
	}
}

// wireServerClient pushes process lifecycle changes to the remote dashboard
// through the Server Client's bounded outbound queue.
func wireServerClient(c *serverclient.Client, reg *registry.AIProcessManager) {
	reg.OnChange(func(evt v1.ProcessEvent) {
		switch evt.Type {
		case v1.ProcessEventAdded:
			c.CreateProcess(evt.Process)
		case v1.ProcessEventUpdated:
			if evt.Process != nil {
				c.PatchProcess(evt.Process.ID, evt.Process)
			}
		case v1.ProcessEventRemoved:
			if evt.Process != nil {
				c.DeleteProcess(evt.Process.ID)
			}
		}
	})
}
