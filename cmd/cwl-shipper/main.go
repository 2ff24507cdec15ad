package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"

	"github.com/Nao-Mk2/cwl-shipper/internal/config"
	"github.com/Nao-Mk2/cwl-shipper/internal/logging"
	"github.com/Nao-Mk2/cwl-shipper/internal/shipper"
)

func main() {
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	shp, err := shipper.NewFromConfig(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build shipper", zap.Error(err))
	}
	lambda.Start(handler(shp, logger))
}

type shipFunc func(ctx context.Context, data string) (*shipper.Report, error)

// handler adapts the shipper to a CloudWatch Logs subscription event.
func handler(shp *shipper.Shipper, logger *zap.Logger) func(context.Context, events.CloudwatchLogsEvent) (*shipper.Report, error) {
	return newHandler(shp.Ship, logger)
}

func newHandler(ship shipFunc, logger *zap.Logger) func(context.Context, events.CloudwatchLogsEvent) (*shipper.Report, error) {
	return func(ctx context.Context, ev events.CloudwatchLogsEvent) (*shipper.Report, error) {
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			ctx = shipper.ContextWithInvocationID(ctx, lc.AwsRequestID)
		}
		report, err := ship(ctx, ev.AWSLogs.Data)
		if err != nil {
			logger.Error("Batch not shipped", shipper.FailureFields(shipper.Describe(err))...)
			return nil, err
		}
		return report, nil
	}
}
