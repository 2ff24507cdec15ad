package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/Nao-Mk2/cwl-shipper/cmd"
	"github.com/Nao-Mk2/cwl-shipper/internal/client"
	"github.com/Nao-Mk2/cwl-shipper/internal/config"
	"github.com/Nao-Mk2/cwl-shipper/internal/logging"
	"github.com/Nao-Mk2/cwl-shipper/internal/model"
	"github.com/Nao-Mk2/cwl-shipper/internal/replay"
	"github.com/Nao-Mk2/cwl-shipper/internal/shipper"
	"github.com/Nao-Mk2/cwl-shipper/internal/transform"
	"github.com/Nao-Mk2/cwl-shipper/internal/util"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:      "cwl-replay",
		Usage:     "Replay CloudWatch Logs events into Elasticsearch through the bulk shipper",
		UsageText: "cwl-replay --groups g1,g2 [--filter-pattern p] [--start RFC3339] [--end RFC3339] [--dry-run]",
		Flags:     cmd.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			return runReplay(ctx, cmd.OptionsFromCommand(c), os.Stdout)
		},
	}
	return app.Run(context.Background(), os.Args)
}

func runReplay(ctx context.Context, opts *cmd.Options, out io.Writer) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	start, end, err := cmd.ResolveTimeWindow(opts.StartRFC3339, opts.EndRFC3339, time.Now())
	if err != nil {
		return fmt.Errorf("invalid time window: %w", err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg.Extract = append(cfg.Extract, opts.Extract...)
	if opts.Region != "" {
		cfg.Region = opts.Region
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	awsCfg, err := client.LoadAWSConfig(ctx, client.AuthOptions{Region: cfg.Region, Profile: opts.Profile})
	if err != nil {
		return err
	}

	groups := cmd.ParseGroupsCSV(opts.GroupsCSV)
	src := replay.New(client.NewCloudWatchClient(awsCfg), groups, start, end)
	src.SetWorkers(min(opts.Concurrency, len(groups)))
	src.SetBatchSize(opts.BatchSize)

	envs, err := src.Collect(ctx, opts.FilterPattern, opts.Owner)
	if err != nil {
		return fmt.Errorf("collect events: %w", err)
	}
	if len(envs) == 0 {
		logger.Info("No events found",
			zap.Strings("groups", groups),
			zap.Time("start", start),
			zap.Time("end", end))
		return nil
	}
	logger.Info("Collected envelopes", zap.Int("envelopes", len(envs)))

	if opts.DryRun {
		return writeBulkBodies(out, cfg, envs, logger)
	}

	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		creds, err := client.ResolveCredentials(ctx, awsCfg)
		if err != nil {
			return err
		}
		cfg = cfg.WithCredentials(creds)
	}
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}
	if err := config.ValidateDestination(cfg); err != nil {
		return err
	}

	shp, err := shipper.NewFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	return shipAll(ctx, shp, envs, out)
}

// writeBulkBodies prints the NDJSON bulk body of every envelope. Without a
// configured prefix the default one is shown.
func writeBulkBodies(out io.Writer, cfg config.Config, envs []*model.Envelope, logger *zap.Logger) error {
	projections, err := util.ParseProjections(cfg.Extract)
	if err != nil {
		return err
	}
	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = transform.DefaultIndexPrefix
	}
	engine := transform.New(prefix,
		transform.WithProjections(projections...),
		transform.WithWarningHook(shipper.WarningLogger(logger)),
	)
	w := bufio.NewWriter(out)
	for _, env := range envs {
		if _, err := w.Write(engine.Transform(env)); err != nil {
			return err
		}
	}
	return w.Flush()
}

// shipAll sends every envelope and prints one JSON report or failure per
// line. It stops at the first failed request.
func shipAll(ctx context.Context, shp *shipper.Shipper, envs []*model.Envelope, out io.Writer) error {
	enc := json.NewEncoder(out)
	for _, env := range envs {
		report, err := shp.ShipEnvelope(ctx, env)
		if err != nil {
			if encErr := enc.Encode(shipper.Describe(err)); encErr != nil {
				return encErr
			}
			return err
		}
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	}
	return nil
}
