package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/wolfman30/pharma-scheduling/cmd/mainconfig"
	"github.com/wolfman30/pharma-scheduling/internal/app/bootstrap"
	appconfig "github.com/wolfman30/pharma-scheduling/internal/config"
	"github.com/wolfman30/pharma-scheduling/internal/worker/sweeper"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

type sweepRunner interface {
	RunOnce(ctx context.Context, kind sweeper.Kind) (*sweeper.Result, error)
}

// sweepDetail is the EventBridge rule input. An empty kind runs both sweeps.
type sweepDetail struct {
	Kind string `json:"kind"`
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			panic(err)
		}
		awsCfg = &loaded
	}

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{AWS: awsCfg}, logger)
	if err != nil {
		panic(err)
	}
	defer app.Close()

	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) ([]*sweeper.Result, error) {
		return handle(ctx, app.Sweeper, evt, logger)
	})
}

func handle(ctx context.Context, runner sweepRunner, evt events.CloudWatchEvent, logger *logging.Logger) ([]*sweeper.Result, error) {
	kinds, err := kindsFor(evt)
	if err != nil {
		return nil, err
	}

	results := make([]*sweeper.Result, 0, len(kinds))
	var failures []string
	for _, kind := range kinds {
		result, err := runner.RunOnce(ctx, kind)
		if err != nil {
			logger.Error("scheduled sweep failed", "sweep", string(kind), "event_id", evt.ID, "error", err)
			failures = append(failures, err.Error())
			continue
		}
		results = append(results, result)
	}
	if len(failures) > 0 {
		return results, fmt.Errorf("sweep-lambda: %s", strings.Join(failures, "; "))
	}
	return results, nil
}

func kindsFor(evt events.CloudWatchEvent) ([]sweeper.Kind, error) {
	var detail sweepDetail
	if len(evt.Detail) > 0 {
		if err := json.Unmarshal(evt.Detail, &detail); err != nil {
			return nil, fmt.Errorf("sweep-lambda: invalid event detail: %w", err)
		}
	}
	if strings.TrimSpace(detail.Kind) == "" {
		return []sweeper.Kind{sweeper.KindEscalations, sweeper.KindNotifications}, nil
	}
	kind, err := sweeper.ParseKind(detail.Kind)
	if err != nil {
		return nil, err
	}
	return []sweeper.Kind{kind}, nil
}
