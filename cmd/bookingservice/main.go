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

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/seatlite/internal/auth"
	"github.com/example/seatlite/internal/booking/domain"
	"github.com/example/seatlite/internal/booking/handler"
	"github.com/example/seatlite/internal/booking/reconciler"
	"github.com/example/seatlite/internal/booking/repository"
	bookingservice "github.com/example/seatlite/internal/booking/service"
	ratelimitmw "github.com/example/seatlite/internal/http/middleware"
	"github.com/example/seatlite/pkg/events"
	"github.com/example/seatlite/pkg/observability"
)

type appConfig struct {
	HTTPAddr          string
	StoreBackend      string
	RedisAddr         string
	PostgresDSN       string
	NATSURL           string
	JWTSecret         string
	RetryMax          int
	ReconcileInterval time.Duration
	BookingTimeout    time.Duration
	ReconcileWorkers  int
	WriteRateLimit    int
	WriteRateWindow   time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("booking-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "booking-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	store, cleanup := buildStore(ctx, cfg, redisClient, logger)
	defer cleanup()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("bookingservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}
	publisher := events.NewPublisher(natsConn, events.DefaultSubject)

	svc := bookingservice.New(store, publisher, domain.SystemClock{}, cfg.RetryMax)

	var operator func(http.Handler) http.Handler
	if cfg.JWTSecret != "" {
		operator = auth.NewVerifier(cfg.JWTSecret).Require(auth.RoleOperator)
	} else {
		logger.Warn("JWT_SECRET unset, operator endpoints are unauthenticated")
	}
	bookingHTTP := handler.NewHTTP(svc, operator)

	limiter := ratelimitmw.NewWriteLimiter(redisClient, cfg.WriteRateLimit, cfg.WriteRateWindow)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Mount("/", bookingHTTP.Router())
	})
	r.Mount("/observability", observability.MetricsRouter(func(ctx context.Context) error {
		_, err := store.GetTripsByRoute(ctx, "", "", "")
		return err
	}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rec := reconciler.New(store, svc, domain.SystemClock{}, logger.Named("reconciler"), reconciler.Config{
		Interval:   cfg.ReconcileInterval,
		Timeout:    cfg.BookingTimeout,
		MaxWorkers: cfg.ReconcileWorkers,
	})
	go func() {
		if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconciler stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("booking service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, cfg appConfig, redisClient *redis.Client, logger *zap.Logger) (domain.Store, func()) {
	switch cfg.StoreBackend {
	case "redis":
		if redisClient == nil {
			logger.Fatal("STORE_BACKEND=redis requires REDIS_ADDR")
		}
		return repository.NewRedisStore(redisClient, ""), func() {}
	case "postgres":
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		store := repository.NewPostgresStore(db)
		if err := store.InitSchema(ctx); err != nil {
			logger.Fatal("postgres schema", zap.Error(err))
		}
		return store, func() { _ = db.Close() }
	default:
		logger.Warn("using in-memory store, state is not durable")
		return repository.NewMemoryStore(), func() {}
	}
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		StoreBackend:      getenv("STORE_BACKEND", "memory"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		PostgresDSN:       firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		NATSURL:           os.Getenv("NATS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		RetryMax:          parseIntEnv("WRITE_RETRY_MAX", 3),
		ReconcileInterval: time.Duration(parseIntEnv("RECONCILE_INTERVAL_SEC", 60)) * time.Second,
		BookingTimeout:    time.Duration(parseIntEnv("BOOKING_TIMEOUT_SEC", 120)) * time.Second,
		ReconcileWorkers:  parseIntEnv("RECONCILE_MAX_WORKERS", 0),
		WriteRateLimit:    parseIntEnv("WRITE_RATE_LIMIT", 0),
		WriteRateWindow:   time.Duration(parseIntEnv("WRITE_RATE_WINDOW_MS", 1000)) * time.Millisecond,
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
