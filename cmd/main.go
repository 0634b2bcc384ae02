package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/corewind/durable-orchestrator/internal/config"
	"github.com/corewind/durable-orchestrator/internal/executor"
	"github.com/corewind/durable-orchestrator/internal/lease"
	"github.com/corewind/durable-orchestrator/internal/platform/envutil"
	platformlog "github.com/corewind/durable-orchestrator/internal/platform/logger"
	"github.com/corewind/durable-orchestrator/internal/runtime"
	"github.com/corewind/durable-orchestrator/internal/scheduler"
	"github.com/corewind/durable-orchestrator/internal/store"
	"github.com/corewind/durable-orchestrator/internal/store/gormstore"
	"github.com/corewind/durable-orchestrator/internal/store/memstore"
	"github.com/corewind/durable-orchestrator/internal/telemetry"
	"github.com/corewind/durable-orchestrator/internal/temporalx"
	"github.com/corewind/durable-orchestrator/internal/temporalx/temporalworker"
)

// registerFunctions is the seam a deployment fills in with its own
// orchestrator and activity implementations. The engine ships no built-in
// functions; it is a runtime, not an application.
func registerFunctions(reg *runtime.Registry) {
	_ = reg
}

func main() {
	log, err := platformlog.New(strings.TrimSpace(os.Getenv("LOG_MODE")))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(strings.TrimSpace(os.Getenv("ENGINE_CONFIG_PATH")))
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.Init(ctx, log, telemetry.Config{
		ServiceName: "durable-orchestrator",
		Environment: strings.TrimSpace(os.Getenv("ENGINE_ENVIRONMENT")),
		Version:     strings.TrimSpace(os.Getenv("ENGINE_VERSION")),
	})
	defer func() { _ = shutdownTelemetry(context.Background()) }()
	telemetry.InitMetrics(telemetry.Config{ServiceName: "durable-orchestrator"})
	defer func() { _ = telemetry.ShutdownMetrics(context.Background()) }()

	st, err := buildStore(cfg)
	if err != nil {
		log.Fatal("failed to initialize store", "error", err)
	}

	registry := runtime.NewRegistry()
	registerFunctions(registry)

	leases := lease.NewManager(st, cfg.HostID, cfg.LeaseDuration, cfg.LeaseRenewalInterval, log)
	exec := executor.New(registry, log)

	if envutil.Bool("ENGINE_RUN_TEMPORAL_WORKER", false) {
		runTemporalWorker(ctx, log, st, leases, exec)
		return
	}

	sched := scheduler.New(st, leases, exec, log, cfg.PollingInterval, cfg.MaxConcurrentInstances)
	log.Info("starting scheduler", "host_id", cfg.HostID, "storage_backend", cfg.StorageBackend, "polling_interval", cfg.PollingInterval)
	sched.Run(ctx)
}

func buildStore(cfg config.Config) (store.Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	dsn := strings.TrimSpace(os.Getenv("ENGINE_DATABASE_DSN"))

	switch backend {
	case "memory", "mem":
		return memstore.New(), nil
	case "postgres", "postgresql":
		return gormstore.Open(gormstore.BackendPostgres, dsn)
	case "mysql":
		return gormstore.Open(gormstore.BackendMySQL, dsn)
	case "sqlite", "":
		if dsn == "" {
			dsn = "file:engine.db?cache=shared&_fk=1"
		}
		return gormstore.Open(gormstore.BackendSQLite, dsn)
	default:
		return nil, fmt.Errorf("unknown storage_backend %q", cfg.StorageBackend)
	}
}

func runTemporalWorker(ctx context.Context, log *platformlog.Logger, st store.Store, leases *lease.Manager, exec *executor.Executor) {
	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Fatal("failed to connect to temporal", "error", err)
	}
	if tc == nil {
		log.Fatal("ENGINE_RUN_TEMPORAL_WORKER set but TEMPORAL_ADDRESS is empty")
	}
	defer tc.Close()

	runner, err := temporalworker.NewRunner(log, tc, st, leases, exec)
	if err != nil {
		log.Fatal("failed to build temporal worker", "error", err)
	}
	if err := runner.Start(ctx); err != nil {
		log.Fatal("temporal worker failed to start", "error", err)
	}

	<-ctx.Done()
	log.Info("temporal worker stopped")
}
