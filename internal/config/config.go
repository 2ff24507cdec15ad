// Package config loads shipper settings from the environment and an optional
// TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/Nao-Mk2/cwl-shipper/internal/bulk"
	"github.com/Nao-Mk2/cwl-shipper/internal/util"
)

// EnvConfigPath names the variable pointing at an optional TOML file.
const EnvConfigPath = "SHIPPER_CONFIG"

// envKeys maps recognised environment variables to config keys. Anything
// else in the environment is ignored.
var envKeys = map[string]string{
	"ES_ENDPOINT":           "endpoint",
	"INDEX_PREFIX":          "index_prefix",
	"AWS_REGION":            "region",
	"AWS_ACCESS_KEY_ID":     "access_key_id",
	"AWS_SECRET_ACCESS_KEY": "secret_access_key",
	"AWS_SESSION_TOKEN":     "session_token",
	"SHIPPER_EXTRACT":       "extract",
	"LOG_LEVEL":             "log_level",
	"LOG_FORMAT":            "log_format",
	"REQUEST_TIMEOUT":       "request_timeout",
}

// Config holds the read-only settings of one shipper process.
type Config struct {
	Endpoint        string   `koanf:"endpoint"`
	IndexPrefix     string   `koanf:"index_prefix"`
	Region          string   `koanf:"region"`
	AccessKeyID     string   `koanf:"access_key_id"`
	SecretAccessKey string   `koanf:"secret_access_key"`
	SessionToken    string   `koanf:"session_token"`
	Extract         []string `koanf:"-"`
	LogLevel        string   `koanf:"log_level"`
	LogFormat       string   `koanf:"log_format"`
	// RequestTimeout is in seconds.
	RequestTimeout int `koanf:"request_timeout"`
}

// Default returns a Config with everything optional filled in. Endpoint,
// index prefix and credentials have no default.
func Default() Config {
	return Config{
		LogLevel:       "info",
		LogFormat:      "json",
		RequestTimeout: 30,
	}
}

// Load layers Default, the TOML file at path (if non-empty) and the
// environment, in that order.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", func(name string) string {
		return envKeys[name]
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Extract = extractSpecs(k.Get("extract"))
	return cfg, nil
}

// extractSpecs accepts a TOML array or a ';'-separated string.
func extractSpecs(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ";")
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Credentials returns the static credentials carried by the config.
func (c Config) Credentials() aws.Credentials {
	return aws.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Source:          "ShipperConfig",
	}
}

// WithCredentials returns a copy of c using creds.
func (c Config) WithCredentials(creds aws.Credentials) Config {
	c.AccessKeyID = creds.AccessKeyID
	c.SecretAccessKey = creds.SecretAccessKey
	c.SessionToken = creds.SessionToken
	return c
}

// Timeout returns RequestTimeout as a duration. Zero means the bulk client
// default, never an unbounded request.
func (c Config) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return bulk.DefaultTimeout
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks everything a Lambda invocation needs, including the full
// credential set, and reports all problems at once.
func Validate(cfg Config) error {
	errs := checkDestination(cfg)
	if cfg.AccessKeyID == "" {
		errs = append(errs, "access_key_id (AWS_ACCESS_KEY_ID) is required")
	}
	if cfg.SecretAccessKey == "" {
		errs = append(errs, "secret_access_key (AWS_SECRET_ACCESS_KEY) is required")
	}
	if cfg.SessionToken == "" {
		errs = append(errs, "session_token (AWS_SESSION_TOKEN) is required")
	}
	return joinErrors(errs)
}

// ValidateDestination checks the settings that do not involve credentials.
func ValidateDestination(cfg Config) error {
	return joinErrors(checkDestination(cfg))
}

func checkDestination(cfg Config) []string {
	var errs []string
	if cfg.Endpoint == "" {
		errs = append(errs, "endpoint (ES_ENDPOINT) is required")
	}
	if cfg.IndexPrefix == "" {
		errs = append(errs, "index_prefix (INDEX_PREFIX) is required")
	}
	if cfg.RequestTimeout < 0 {
		errs = append(errs, fmt.Sprintf("request_timeout cannot be negative: %d", cfg.RequestTimeout))
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.LogLevel != "" && !validLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, fmt.Sprintf("invalid log_level %q: must be debug, info, warn, or error", cfg.LogLevel))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if cfg.LogFormat != "" && !validFormats[strings.ToLower(cfg.LogFormat)] {
		errs = append(errs, fmt.Sprintf("invalid log_format %q: must be json or console", cfg.LogFormat))
	}
	if _, err := util.ParseProjections(cfg.Extract); err != nil {
		errs = append(errs, err.Error())
	}
	return errs
}

func joinErrors(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(errs, "\n  - "))
}
