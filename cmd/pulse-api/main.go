// Command pulse-api runs the HTTP control plane: job submission with
// rate limiting and idempotent dedup, status, cancellation, and DLQ
// management.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/api"
	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/engine"
	"github.com/imsks/pulse/ext"
	"github.com/imsks/pulse/internal/config"
	"github.com/imsks/pulse/observability"
	"github.com/imsks/pulse/ratelimit"
	redisstore "github.com/imsks/pulse/store/redis"
)

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
	qCfg.RateLimitMax = cfg.RateMax
	qCfg.RateLimitWindow = cfg.RateWindow

	hooks := ext.NewRegistry(logger)
	hooks.Register(observability.NewMetricsExtension())
	hooks.Register(observability.NewLoggingExtension(logger))

	dlqSvc := dlq.NewService(store, store)
	eng := engine.New(store,
		engine.WithConfig(qCfg),
		engine.WithIdempotency(store),
		engine.WithDLQ(dlqSvc),
		engine.WithHooks(hooks),
		engine.WithLogger(logger),
	)
	limiter := ratelimit.New(store, ratelimit.WithLogger(logger))

	a := api.New(eng, dlqSvc,
		api.WithLimiter(limiter),
		api.WithPinger(store),
		api.WithLogger(logger),
	)

	observability.StartMetricsServer(cfg.MetricsAddr)
	go eng.RunRetention(ctx, time.Hour)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", slog.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), qCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
	}
	hooks.EmitShutdown(shutdownCtx)
	if err := client.Close(); err != nil {
		logger.Error("redis close failed", slog.String("error", err.Error()))
	}
}
