// Command gateway runs the chat gateway: WebSocket front door, Message
// Router, Persistence actor and supporting HTTP endpoints.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/peroxo/gateway/internal/authrpc"
	"github.com/peroxo/gateway/internal/bus"
	"github.com/peroxo/gateway/internal/config"
	"github.com/peroxo/gateway/internal/connmgr"
	"github.com/peroxo/gateway/internal/gateway"
	"github.com/peroxo/gateway/internal/health"
	"github.com/peroxo/gateway/internal/idgen"
	"github.com/peroxo/gateway/internal/logging"
	"github.com/peroxo/gateway/internal/middleware"
	"github.com/peroxo/gateway/internal/persistence"
	"github.com/peroxo/gateway/internal/ratelimit"
	"github.com/peroxo/gateway/internal/router"
	"github.com/peroxo/gateway/internal/tracing"
)

func main() {
	loadDotenv()

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("logger init failed", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	if err := idgen.Init(cfg.NodeMAC); err != nil {
		logging.Fatal(ctx, "id generator init failed", zap.Error(err))
	}

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		if tp, err := tracing.InitTracer(ctx, "chat-gateway", collectorAddr); err == nil {
			defer tp.Shutdown(ctx)
		} else {
			logging.Warn(ctx, "tracing disabled: init failed")
		}
	}

	persistClient, err := persistence.NewClient(cfg.ChatServiceAddr)
	if err != nil {
		logging.Fatal(ctx, "persistence client dial failed", zap.Error(err))
	}
	defer persistClient.Close()

	persistActor := persistence.NewActor(persistClient, cfg.PersistMaxRetries, cfg.PersistRetryBase, 1024)
	persistCtx, cancelPersist := context.WithCancel(ctx)
	defer cancelPersist()
	go persistActor.Run(persistCtx)

	authClient, closeAuth := buildAuthClient(ctx, cfg)
	if closeAuth != nil {
		defer closeAuth()
	}

	rt := router.New(persistActor.Inbox(), cfg.RoomCleanupPeriod, cfg.RoomCleanupPeriod, 1024)
	routerCtx, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()
	go rt.Run(routerCtx)

	var redisClient *redis.Client
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Warn(ctx, "redis bus disabled: connect failed")
		} else {
			redisClient = busService.Client()
			defer busService.Close()
		}
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "rate limiter init failed", zap.Error(err))
	}

	connMgr := connmgr.New(rt, cfg.SessionMailboxCap)
	hub := gateway.New(authClient, connMgr, rateLimiter, splitOrigins(cfg.AllowedOrigins))

	var authPinger health.Pinger
	if p, ok := authClient.(health.Pinger); ok {
		authPinger = p
	}
	healthHandler := health.NewHandler(busService, authPinger, persistClient)

	engine := gin.New()
	engine.Use(gin.Recovery(), otelgin.Middleware("chat-gateway"), middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = splitOrigins(cfg.AllowedOrigins)
	engine.Use(cors.New(corsCfg))

	engine.GET("/ws", hub.ServeWs)
	engine.GET("/health/live", healthHandler.Liveness)
	engine.GET("/health/ready", healthHandler.Readiness)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: engine}

	go func() {
		logging.Info(ctx, "gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced shutdown", zap.Error(err))
	}
}

func loadDotenv() {
	for _, path := range []string{".env", "../../.env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

func buildAuthClient(ctx context.Context, cfg *config.Config) (authrpc.Client, func()) {
	switch cfg.AuthMode {
	case "jwks":
		client, err := authrpc.NewJWKSClient(ctx, os.Getenv("AUTH0_DOMAIN"), os.Getenv("AUTH0_AUDIENCE"))
		if err != nil {
			logging.Fatal(ctx, "jwks client init failed", zap.Error(err))
		}
		return client, nil
	case "dev":
		logging.Warn(ctx, "auth mode is dev: tokens are decoded but never verified")
		return &authrpc.DevClient{}, nil
	default:
		client, err := authrpc.NewRPCClient(cfg.AuthAddr)
		if err != nil {
			logging.Fatal(ctx, "auth client dial failed", zap.Error(err))
		}
		return client, func() { client.Close() }
	}
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}
