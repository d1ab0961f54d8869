package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/statetrail/common/id"
	"basegraph.app/statetrail/common/logger"
	"basegraph.app/statetrail/common/otel"
	"basegraph.app/statetrail/core/config"
	"basegraph.app/statetrail/core/db"
	"basegraph.app/statetrail/internal/http/middleware"
	httprouter "basegraph.app/statetrail/internal/http/router"
	"basegraph.app/statetrail/internal/queue"
	"basegraph.app/statetrail/internal/replay"
	"basegraph.app/statetrail/internal/service"
	"basegraph.app/statetrail/internal/signature"
	"basegraph.app/statetrail/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint, "sample_ratio", cfg.OTel.SampleRatio)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "statetrail starting", "env", cfg.Env, "service", cfg.OTel.ServiceName, "store", cfg.Store.Driver)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err, "node_id", cfg.NodeID)
		os.Exit(1)
	}

	issues, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open issue store", "error", err, "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer closeStore()

	producer, guard, closeRedis, err := setupRedis(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer closeRedis()

	services := service.NewServices(issues, producer, cfg.Metrics.TrackedStates, slog.Default())

	verifier := signature.NewVerifier(cfg.Webhook.Secret, signature.Mode(cfg.Webhook.TimestampMode), cfg.Webhook.Tolerance)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, verifier, guard)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// openStore builds the configured issue store and applies its schema.
func openStore(ctx context.Context, cfg config.Config) (store.IssueStore, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("migrating postgres: %w", err)
		}
		slog.InfoContext(ctx, "database connected")
		return store.NewPostgresStore(database), database.Close, nil

	case config.StoreDriverSQLite:
		sqlite, err := store.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.InfoContext(ctx, "sqlite opened", "path", cfg.Store.SQLitePath)
		return sqlite, func() {
			if err := sqlite.Close(); err != nil {
				slog.Error("sqlite close error", "error", err)
			}
		}, nil

	default:
		slog.WarnContext(ctx, "using in-memory issue store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
}

// setupRedis wires the transition stream and the replay guard to redis when a
// URL is configured, and falls back to a no-op producer and a process-local
// guard otherwise.
func setupRedis(ctx context.Context, cfg config.Config) (queue.Producer, replay.Guard, func(), error) {
	if !cfg.Redis.Enabled() {
		slog.InfoContext(ctx, "redis disabled, transitions are not published")
		return queue.NewNoopProducer(), replay.NewMemoryGuard(cfg.Webhook.ReplayTTL), func() {}, nil
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, nil, fmt.Errorf("pinging redis: %w", err)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.TransitionStream)

	producer := queue.NewRedisProducer(redisClient, cfg.Redis.TransitionStream, slog.Default())
	guard := replay.NewRedisGuard(redisClient, cfg.Webhook.ReplayTTL)

	return producer, guard, func() {
		if err := producer.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}, nil
}

func setupRouter(cfg config.Config, services *service.Services, verifier *signature.Verifier, guard replay.Guard) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		APIKey:      cfg.APIKey,
		TraceHeader: cfg.TraceHeaderName,
		Verifier:    verifier,
		ReplayGuard: guard,
	})

	return router
}

const banner = `
  ___ _____ _ _____ ___ _____ ___    _   ___ _
 / __|_   _/_\_   _| __|_   _| _ \  /_\ |_ _| |
 \__ \ | |/ _ \| | | _|  | | |   / / _ \ | || |__
 |___/ |_/_/ \_\_| |___| |_| |_|_\/_/ \_\___|____|
`
