// Command pulse-worker runs the data plane: a pool of workers that
// claim jobs from the shared queue, execute registered handlers, and
// report outcomes.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/engine"
	"github.com/imsks/pulse/ext"
	"github.com/imsks/pulse/internal/config"
	"github.com/imsks/pulse/job"
	"github.com/imsks/pulse/middleware"
	"github.com/imsks/pulse/observability"
	redisstore "github.com/imsks/pulse/store/redis"
	"github.com/imsks/pulse/worker"
)

// EchoPayload is the payload for the built-in ECHO job type, useful for
// smoke testing a deployment end to end.
type EchoPayload struct {
	Message string `json:"message"`
}

func main() {
	logger := observability.NewLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	store := redisstore.New(client, redisstore.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Ping(ctx); err != nil {
		logger.Error("redis unreachable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	qCfg := pulse.DefaultConfig()
	qCfg.QueueName = cfg.QueueName
	qCfg.MaxAttempts = cfg.MaxAttempts
	qCfg.Concurrency = cfg.Concurrency

	hooks := ext.NewRegistry(logger)
	hooks.Register(observability.NewMetricsExtension())

	dlqSvc := dlq.NewService(store, store)
	eng := engine.New(store,
		engine.WithConfig(qCfg),
		engine.WithDLQ(dlqSvc),
		engine.WithHooks(hooks),
		engine.WithLogger(logger),
	)

	registry := job.NewRegistry()
	if err := job.RegisterDefinition(registry, job.NewDefinition("ECHO",
		func(_ context.Context, p EchoPayload) (any, error) {
			return p, nil
		})); err != nil {
		logger.Error("failed to register handlers", slog.String("error", err.Error()))
		os.Exit(1)
	}

	exec := worker.NewExecutor(registry, eng, logger,
		middleware.Recover(logger),
		middleware.Logging(logger),
		middleware.Metrics(),
	)

	pool := worker.NewPool(eng, exec, logger)

	observability.StartMetricsServer(cfg.MetricsAddr)

	if err := pool.Start(ctx); err != nil {
		logger.Error("failed to start pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("worker running",
		slog.String("worker_id", pool.ID().String()),
		slog.String("queue", cfg.QueueName),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), qCfg.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Error("pool stop failed", slog.String("error", err.Error()))
	}
	hooks.EmitShutdown(shutdownCtx)
	if err := client.Close(); err != nil {
		logger.Error("redis close failed", slog.String("error", err.Error()))
	}
}
