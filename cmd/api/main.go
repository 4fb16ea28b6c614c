package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/pharma-scheduling/cmd/mainconfig"
	"github.com/wolfman30/pharma-scheduling/internal/api/router"
	"github.com/wolfman30/pharma-scheduling/internal/app/bootstrap"
	appconfig "github.com/wolfman30/pharma-scheduling/internal/config"
	"github.com/wolfman30/pharma-scheduling/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/pharma-scheduling/internal/http/middleware"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting pharma-scheduling API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"notify_provider", cfg.NotifyProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate && cfg.DatabaseURL != "" {
		if err := bootstrap.MigrateUp(cfg.DatabaseURL, logger); err != nil {
			logger.Error("auto migration failed", "error", err)
			os.Exit(1)
		}
	}

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	registry := newRegistry()
	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{AWS: awsCfg, Registerer: registry}, logger)
	if err != nil {
		logger.Error("failed to wire application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := newServer(cfg, app, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logger)

	if cfg.RunSweepsInProcess {
		go app.Sweeper.Run(ctx)
	} else {
		logger.Info("in-process sweeps disabled; expecting an external trigger")
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func newServer(cfg *appconfig.Config, app *bootstrap.App, metricsHandler http.Handler, logger *logging.Logger) *http.Server {
	if cfg.ApproverJWTSecret == "" {
		logger.Warn("APPROVER_JWT_SECRET is not set; approval decisions will be rejected")
	}
	r := router.New(&router.Config{
		Logger:             logger,
		Availability:       handlers.NewAvailabilityHandler(app.Availability, logger),
		Bookings:           handlers.NewBookingHandler(app.Booking, logger),
		Approvals:          handlers.NewApprovalHandler(app.Approval, logger),
		Sweeps:             handlers.NewSweepHandler(app.Sweeper, logger),
		MetricsHandler:     metricsHandler,
		ApproverAuthSecret: cfg.ApproverJWTSecret,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: httpmiddleware.ParseOrigins(cfg.CORSAllowedOrigins),
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
