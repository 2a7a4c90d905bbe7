package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/bidflow/ai-gateway/config"
	"github.com/bidflow/ai-gateway/internal/api"
	"github.com/bidflow/ai-gateway/internal/auth"
	"github.com/bidflow/ai-gateway/internal/cache"
	"github.com/bidflow/ai-gateway/internal/gateway"
	"github.com/bidflow/ai-gateway/internal/provider/anthropic"
	"github.com/bidflow/ai-gateway/internal/quota"
	"github.com/bidflow/ai-gateway/internal/seeder"
	"github.com/bidflow/ai-gateway/internal/stats"
	"github.com/bidflow/ai-gateway/internal/telemetry"
	"github.com/bidflow/ai-gateway/internal/tier"
	"github.com/bidflow/ai-gateway/internal/usagelog"
	"github.com/bidflow/ai-gateway/internal/validate"
	"github.com/bidflow/ai-gateway/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("ai-gateway", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 6. Init usage log
	usageStore := usagelog.NewPostgresStore(pool)

	// 7. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)

	// 8. Init gateway pipeline
	tracer := otel.GetTracerProvider().Tracer("ai-gateway")
	gw := gateway.New(gateway.Deps{
		Validator:       validate.New(cfg.MaxPayloadBytes, cfg.BlockedPhrases, cfg.BlockedFunctions),
		Selector:        tier.NewDefaultSelector(),
		Cache:           cache.NewRedisStore(rdb),
		Quota:           quota.NewRedisTracker(rdb, cfg.DailyQuotaUSD),
		Stats:           stats.NewRedisRecorder(rdb),
		Provider:        anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL),
		UsageLog:        usageStore,
		Tracer:          tracer,
		ProviderTimeout: cfg.ProviderTimeout,
		CacheTTL:        cfg.CacheTTL,
	})

	// 9. Init handler
	handler := api.NewHandler(gw, usageStore, limiter, tracer)

	// 10. Seed test API key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore)
	}

	// 11. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"ai-gateway"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/ai/process", handler.HandleProcess)
		r.Get("/v1/ai/stats", handler.HandleStats)
		r.Get("/v1/ai/usage", handler.HandleUsage)
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("AI Gateway starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
