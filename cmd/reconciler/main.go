// Standalone timeout reconciler for deployments where the API and the
// background job run as separate processes against a shared store.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/seatlite/internal/booking/domain"
	"github.com/example/seatlite/internal/booking/reconciler"
	"github.com/example/seatlite/internal/booking/repository"
	bookingservice "github.com/example/seatlite/internal/booking/service"
	"github.com/example/seatlite/pkg/events"
	"github.com/example/seatlite/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("reconciler")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "reconciler")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	store, cleanup := buildStore(ctx, logger)
	defer cleanup()

	var natsConn *nats.Conn
	if url := os.Getenv("NATS_URL"); url != "" {
		if conn, err := nats.Connect(url, nats.Name("reconciler")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	svc := bookingservice.New(store, events.NewPublisher(natsConn, events.DefaultSubject),
		domain.SystemClock{}, parseIntEnv("WRITE_RETRY_MAX", 3))

	metricsSrv := &http.Server{
		Addr:              getenv("METRICS_ADDR", ":9090"),
		Handler:           observability.MetricsRouter(nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	defer metricsSrv.Close()

	rec := reconciler.New(store, svc, domain.SystemClock{}, logger, reconciler.Config{
		Interval:   time.Duration(parseIntEnv("RECONCILE_INTERVAL_SEC", 60)) * time.Second,
		Timeout:    time.Duration(parseIntEnv("BOOKING_TIMEOUT_SEC", 120)) * time.Second,
		MaxWorkers: parseIntEnv("RECONCILE_MAX_WORKERS", 0),
	})
	logger.Info("reconciler starting")
	if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("reconciler stopped", zap.Error(err))
	}
}

func buildStore(ctx context.Context, logger *zap.Logger) (domain.Store, func()) {
	switch getenv("STORE_BACKEND", "") {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDR")})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		return repository.NewRedisStore(client, ""), func() { _ = client.Close() }
	case "postgres":
		dsn := firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		store := repository.NewPostgresStore(db)
		if err := store.InitSchema(ctx); err != nil {
			logger.Fatal("postgres schema", zap.Error(err))
		}
		return store, func() { _ = db.Close() }
	default:
		logger.Fatal("STORE_BACKEND must be redis or postgres for a standalone reconciler")
		return nil, nil
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
