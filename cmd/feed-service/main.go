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

	// Drivers
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	// Instrumentation
	"github.com/exaring/otelpgx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/NoahRocket/X/config"
	"github.com/NoahRocket/X/internal/adapters/primary/events"
	"github.com/NoahRocket/X/internal/adapters/primary/httpapi"
	"github.com/NoahRocket/X/internal/adapters/secondary/ai"
	"github.com/NoahRocket/X/internal/adapters/secondary/eventbroker"
	"github.com/NoahRocket/X/internal/adapters/secondary/repository"
	"github.com/NoahRocket/X/internal/core/services"
)

func main() {
	// 1. Config & Logger
	_ = godotenv.Load()
	cfg := config.Load()
	initLogger(cfg)
	slog.Info("🚀 Starting Intellectus feed service", "env", cfg.Env, "port", cfg.HTTPPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Telemetry
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// 3. Infrastructure: Postgres
	dbConfig, err := pgxpool.ParseConfig(cfg.DBUrl)
	if err != nil {
		slog.Error("Unable to parse DB config", "error", err)
		os.Exit(1)
	}
	dbConfig.ConnConfig.Tracer = otelpgx.NewTracer()

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		slog.Error("Unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	slog.Info("✅ Connected to Postgres")

	// 4. Infrastructure: Redis (feed cache)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		slog.Error("Unable to instrument redis", "error", err)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Unable to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("✅ Connected to Redis")

	// 5. Infrastructure: NATS (realtime insert stream)
	nc, err := nats.Connect(cfg.NatsUrl)
	if err != nil {
		slog.Error("Unable to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	slog.Info("✅ Connected to NATS")

	// 6. Driven adapters
	postgresRepo := repository.NewPostgresRepo(dbPool)
	store := repository.NewCachedPostStore(postgresRepo, rdb, cfg.FeedCacheTTL)
	broker := eventbroker.NewNatsBroker(nc)
	responder := ai.NewClient(cfg.AIBaseURL, cfg.AIKey, cfg.AIModel)

	loc := time.Local
	if cfg.QuotaTZ != "" {
		if l, lerr := time.LoadLocation(cfg.QuotaTZ); lerr == nil {
			loc = l
		} else {
			slog.Warn("invalid QUOTA_TZ, using server local", "tz", cfg.QuotaTZ, "error", lerr)
		}
	}

	// 7. Core
	tracker := services.NewRateTracker(postgresRepo, loc)
	registry := services.NewRegistry(store, tracker, responder, broker)

	// 8. Realtime fan-in: one process-level subscription, torn down on exit.
	insertHandler := events.NewInsertHandler(registry, store.Invalidate)
	unsubscribe, err := broker.SubscribeInserts(insertHandler.OnPostCreated)
	if err != nil {
		slog.Error("Failed to subscribe to insert stream", "error", err)
		os.Exit(1)
	}
	defer unsubscribe()
	slog.Info("👂 Listening for post inserts (NATS)")

	// 9. HTTP + websocket surface
	server := httpapi.NewServer(registry, cfg.JWTSecret)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("📡 HTTP listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("🛑 Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	slog.Info("👋 Server exited")
}

func initLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("feed-service"),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
