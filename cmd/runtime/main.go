package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SAP-F-2025/tryout-runtime/internal/cache"
	"github.com/SAP-F-2025/tryout-runtime/internal/client"
	"github.com/SAP-F-2025/tryout-runtime/internal/config"
	"github.com/SAP-F-2025/tryout-runtime/internal/handlers"
	"github.com/SAP-F-2025/tryout-runtime/internal/session"
	"github.com/SAP-F-2025/tryout-runtime/internal/utils"
	"github.com/SAP-F-2025/tryout-runtime/internal/validator"
	"github.com/SAP-F-2025/tryout-runtime/pkg"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		utils.NewLoggerForEnvironment("production").LogError(err, "Failed to load configuration")
		os.Exit(1)
	}

	logger := utils.NewLoggerForEnvironment(cfg.Environment)
	slogger := utils.ToSlogLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	guard := cache.NewMemoryGuard(clock)
	if cfg.GuardStore == "redis" {
		redisClient, err := pkg.NewRedisClient(ctx, cfg)
		if err != nil {
			logger.LogError(err, "Failed to connect to redis")
			os.Exit(1)
		}
		defer redisClient.Close()
		guard = cache.NewRedisGuard(redisClient, "tryout-runtime:", clock, slogger)
	}

	publisher, err := cfg.Events.CreateEventPublisher(slogger)
	if err != nil {
		logger.LogError(err, "Failed to create event publisher")
		os.Exit(1)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.LogError(err, "Failed to close event publisher")
		}
	}()

	backend := client.New(client.Config{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
		Timeout: cfg.APITimeout,
		Clock:   clock,
	})

	v := validator.New()
	registry := session.NewRegistry(session.Options{
		Backend:           backend,
		Guard:             guard,
		Publisher:         publisher,
		Validator:         v,
		Clock:             clock,
		Logger:            slogger,
		TickInterval:      cfg.TickInterval,
		CriticalThreshold: cfg.CriticalThreshold,
		AnalysisInterval:  cfg.AnalysisInterval,
		GuardTTL:          cfg.GuardTTL,
	})
	defer registry.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), utils.LoggerMiddleware(logger))
	handlers.NewHandlerManager(registry, v, logger).SetupRoutes(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Tryout runtime starting", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError(err, "HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down tryout runtime")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.LogError(err, "HTTP server shutdown error")
	}
}
