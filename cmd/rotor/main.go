// Package main is the entry point for rotor — the event-processing worker
// that consumes analytics events off the bus, resolves each connection's
// function chain, and executes it through to the destination.
//
// Dependencies:
//   - Postgres: rotor_connections, rotor_function_definitions, rotor_execution_logs
//   - Redis: the per-connection key-value store binding
//   - NATS JetStream: consumes ANALYTICS_EVENTS.>
//   - Bulker HTTP service: the primary event-warehousing destination
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arc-self/rotor/internal/bulker"
	"github.com/arc-self/rotor/internal/chain"
	"github.com/arc-self/rotor/internal/config"
	"github.com/arc-self/rotor/internal/configstore"
	"github.com/arc-self/rotor/internal/consumer"
	"github.com/arc-self/rotor/internal/dispatcher"
	"github.com/arc-self/rotor/internal/handler"
	"github.com/arc-self/rotor/internal/httpapi"
	"github.com/arc-self/rotor/internal/kvstore"
	"github.com/arc-self/rotor/internal/natsclient"
	"github.com/arc-self/rotor/internal/repository"
	"github.com/arc-self/rotor/internal/scheduler"
	"github.com/arc-self/rotor/internal/telemetry"
	"github.com/arc-self/rotor/internal/udf"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logger, err := newLogger(os.Getenv("LOG_FORMAT"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "rotor", otelEndpoint)
		if err != nil {
			logger.Error("OTel tracer init failed", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}

		mp, err := telemetry.InitMeterProvider(context.Background(), "rotor", otelEndpoint)
		if err != nil {
			logger.Error("OTel meter init failed", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	// ── Vault secret loading ─────────────────────────────────────────────
	vaultAddr := envOr("VAULT_ADDR", "http://localhost:8200")
	vaultToken := envOr("VAULT_TOKEN", "root")
	secretPath := envOr("VAULT_SECRET_PATH", "secret/data/arc/rotor")

	vaultManager, err := config.NewSecretManager(vaultAddr, vaultToken)
	if err != nil {
		logger.Fatal("vault connection failed", zap.Error(err))
	}
	secrets, err := vaultManager.GetKV2(secretPath)
	if err != nil {
		logger.Fatal("failed to load secrets", zap.Error(err))
	}

	pgURL, _ := secrets["PG_URL"].(string)
	natsURL, _ := secrets["NATS_URL"].(string)
	redisURL, _ := secrets["REDIS_URL"].(string)

	// BULKER_URL/BULKER_AUTH_KEY are deployment config, not secrets — and
	// are mandatory: the bulker is the rotor's default terminal destination.
	bulkerURL := os.Getenv("BULKER_URL")
	bulkerAuthKey := os.Getenv("BULKER_AUTH_KEY")
	if bulkerURL == "" || bulkerAuthKey == "" {
		logger.Fatal("BULKER_URL and BULKER_AUTH_KEY must both be set")
	}

	// ── Postgres ─────────────────────────────────────────────────────────
	poolCfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		logger.Fatal("bad PG_URL", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("postgres connected")

	// ── Redis ────────────────────────────────────────────────────────────
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Fatal("bad REDIS_URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// ── NATS JetStream ───────────────────────────────────────────────────
	natsClient, err := natsclient.NewClient(natsURL, logger)
	if err != nil {
		logger.Fatal("NATS connection failed", zap.Error(err))
	}
	defer natsClient.Close()

	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}
	logger.Info("NATS JetStream ready")

	// ── Config store, KV store, UDF registry ────────────────────────────
	configBackend := repository.NewConfigBackend(pool)
	configStore := configstore.New(configBackend, logger)
	defer configStore.Close()

	kvBackend := kvstore.NewRedisBackend(redisClient)

	udfRegistry := udf.NewRegistry(udf.NewGojaCompiler())
	defer udfRegistry.Close()

	// ── Destination clients ──────────────────────────────────────────────
	webhookDsp := dispatcher.NewWebhookDispatcher(logger)
	emailDsp := dispatcher.NewEmailDispatcher(logger)
	bulkerClient := bulker.New(bulkerURL, bulkerAuthKey)

	chainDeps := chain.Deps{
		Functions: configStore,
		UDFs:      udfRegistry,
		Webhook:   webhookDsp,
		Email:     emailDsp,
		Bulker:    bulkerClient,
	}

	// ── Metrics + execution log sink ────────────────────────────────────
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	execLogRepo := repository.NewExecLogRepository(pool)

	msgHandler := handler.New(configStore, chainDeps, kvBackend, nil, metrics, execLogRepo, logger)

	// ── NATS event consumer ──────────────────────────────────────────────
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	eventConsumer := consumer.NewEventConsumer(natsClient, msgHandler, logger)
	if err := eventConsumer.Start(consumerCtx); err != nil {
		logger.Fatal("event consumer start failed", zap.Error(err))
	}

	// ── Cache status reporter ────────────────────────────────────────────
	statusReporter := scheduler.NewCacheStatusReporter(logger, map[string]scheduler.StatusSource{
		"config_store": configStore,
		"udf_registry": udfRegistry,
	})
	if err := statusReporter.Start(); err != nil {
		logger.Fatal("cache status reporter start failed", zap.Error(err))
	}

	// ── HTTP server ──────────────────────────────────────────────────────
	server := httpapi.New(configStore, chainDeps, kvBackend, nil, logger)
	e := server.Echo()

	port := envOr("PORT", envOr("ROTOR_HTTP_PORT", "3401"))
	go func() {
		logger.Info("rotor listening", zap.String("port", port))
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	consumerCancel()
	statusReporter.Stop()
	udfRegistry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	logger.Info("rotor shut down cleanly")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newLogger builds the process logger. LOG_FORMAT=plain selects a
// human-readable console encoder; anything else (including unset) keeps
// the default structured JSON production config.
func newLogger(format string) (*zap.Logger, error) {
	if format == "plain" {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}
