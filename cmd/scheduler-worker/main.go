package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"

	"github.com/wolfman30/pharma-scheduling/cmd/mainconfig"
	"github.com/wolfman30/pharma-scheduling/internal/app/bootstrap"
	appconfig "github.com/wolfman30/pharma-scheduling/internal/config"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

// scheduler-worker runs the escalation and notification sweeps without serving HTTP. Pair it
// with RUN_SWEEPS_IN_PROCESS=false on the API.
func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("scheduler worker requires DATABASE_URL")
		os.Exit(1)
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

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{AWS: awsCfg}, logger)
	if err != nil {
		logger.Error("failed to wire scheduler worker", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	app.Sweeper.Run(ctx)
	logger.Info("scheduler worker shutting down")
}
