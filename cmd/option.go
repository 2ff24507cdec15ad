package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Nao-Mk2/cwl-shipper/internal/config"
	"github.com/Nao-Mk2/cwl-shipper/internal/replay"
	"github.com/Nao-Mk2/cwl-shipper/internal/util"
)

// Flag names of the replay command.
const (
	FlagGroups        = "groups"
	FlagRegion        = "region"
	FlagProfile       = "profile"
	FlagFilterPattern = "filter-pattern"
	FlagExtract       = "extract"
	FlagOwner         = "owner"
	FlagStart         = "start"
	FlagEnd           = "end"
	FlagConcurrency   = "concurrency"
	FlagBatchSize     = "batch-size"
	FlagDryRun        = "dry-run"
	FlagConfig        = "config"
)

// DefaultOwner stamps replayed envelopes when no account id is given.
const DefaultOwner = "replay"

// Options holds CLI options after parsing flags and env defaults.
type Options struct {
	GroupsCSV     string
	Region        string
	Profile       string
	FilterPattern string
	Extract       []string
	Owner         string
	StartRFC3339  string
	EndRFC3339    string
	Concurrency   int
	BatchSize     int
	DryRun        bool
	ConfigPath    string
}

// Flags returns the replay command flags with environment-backed defaults.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  FlagGroups,
			Value: os.Getenv("LOG_GROUP_NAMES"),
			Usage: "Comma-separated CloudWatch log group names (or set LOG_GROUP_NAMES)",
		},
		&cli.StringFlag{
			Name:  FlagRegion,
			Value: os.Getenv("AWS_REGION"),
			Usage: "AWS region (optional; falls back to AWS defaults)",
		},
		&cli.StringFlag{
			Name:  FlagProfile,
			Usage: "AWS shared config profile (or set AWS_PROFILE)",
		},
		&cli.StringFlag{
			Name:  FlagFilterPattern,
			Usage: "CloudWatch Logs filter pattern; empty replays every event",
		},
		&cli.StringSliceFlag{
			Name:  FlagExtract,
			Usage: "JMESPath projection in name=path form; may be repeated",
		},
		&cli.StringFlag{
			Name:  FlagOwner,
			Value: DefaultOwner,
			Usage: "Account id recorded as @owner on replayed documents",
		},
		&cli.StringFlag{
			Name:  FlagStart,
			Usage: "Start time RFC3339 (e.g., 2025-08-30T15:04:05Z)",
		},
		&cli.StringFlag{
			Name:  FlagEnd,
			Usage: "End time RFC3339 (e.g., 2025-08-31T15:04:05Z)",
		},
		&cli.IntFlag{
			Name:  FlagConcurrency,
			Value: replay.DefaultWorkers,
			Usage: "Number of log groups fetched concurrently",
		},
		&cli.IntFlag{
			Name:  FlagBatchSize,
			Value: replay.DefaultBatchSize,
			Usage: "Maximum events per bulk request",
		},
		&cli.BoolFlag{
			Name:  FlagDryRun,
			Usage: "Print the bulk body instead of sending it",
		},
		&cli.StringFlag{
			Name:  FlagConfig,
			Value: os.Getenv(config.EnvConfigPath),
			Usage: "Optional TOML config file (or set " + config.EnvConfigPath + ")",
		},
	}
}

// OptionsFromCommand reads Options from a parsed command.
func OptionsFromCommand(c *cli.Command) *Options {
	return &Options{
		GroupsCSV:     c.String(FlagGroups),
		Region:        c.String(FlagRegion),
		Profile:       ResolveProfile(c.String(FlagProfile)),
		FilterPattern: c.String(FlagFilterPattern),
		Extract:       c.StringSlice(FlagExtract),
		Owner:         c.String(FlagOwner),
		StartRFC3339:  c.String(FlagStart),
		EndRFC3339:    c.String(FlagEnd),
		Concurrency:   int(c.Int(FlagConcurrency)),
		BatchSize:     int(c.Int(FlagBatchSize)),
		DryRun:        c.Bool(FlagDryRun),
		ConfigPath:    c.String(FlagConfig),
	}
}

// Validate checks relationships and required flags, reporting every
// problem at once.
func (o *Options) Validate() error {
	var errs []error
	if len(ParseGroupsCSV(o.GroupsCSV)) == 0 {
		errs = append(errs, errors.New("no log groups provided (use --groups or LOG_GROUP_NAMES)"))
	}
	if o.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("--%s must be at least 1", FlagConcurrency))
	}
	if o.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("--%s must be at least 1", FlagBatchSize))
	}
	if strings.TrimSpace(o.Owner) == "" {
		errs = append(errs, fmt.Errorf("--%s must not be empty", FlagOwner))
	}
	for _, spec := range o.Extract {
		if _, _, err := util.ParseExtractSpec(spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseGroupsCSV turns a comma-separated groups string into slice, trimming empties.
func ParseGroupsCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	var groups []string
	for _, g := range strings.Split(csv, ",") {
		g = strings.TrimSpace(g)
		if g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// ResolveProfile returns the profile from flag or AWS_PROFILE env, or empty.
func ResolveProfile(flagProfile string) string {
	if flagProfile != "" {
		return flagProfile
	}
	return os.Getenv("AWS_PROFILE")
}

// ResolveTimeWindow computes the [start,end] from optional RFC3339 strings.
// Rules:
// - both empty: last 24h ending at now
// - only start: end = now
// - only end: start = end - 24h
// - both set: validate start <= end
func ResolveTimeWindow(startStr, endStr string, now time.Time) (time.Time, time.Time, error) {
	if startStr == "" && endStr == "" {
		return now.Add(-24 * time.Hour), now, nil
	}
	var start, end time.Time
	var err error
	if startStr != "" {
		start, err = time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse --%s: %w", FlagStart, err)
		}
	}
	if endStr != "" {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse --%s: %w", FlagEnd, err)
		}
	}
	if startStr != "" && endStr == "" {
		end = now
	} else if startStr == "" && endStr != "" {
		start = end.Add(-24 * time.Hour)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, ErrStartAfterEnd
	}
	return start, end, nil
}

// ErrStartAfterEnd represents an invalid time window where start > end.
var ErrStartAfterEnd = errors.New("start is after end")
