package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

// AuthOptions selects where AWS configuration is resolved from. Both fields
// may be empty to use the SDK's default resolution.
type AuthOptions struct {
	Region  string
	Profile string
}

// NewCloudWatchOptions returns the SDK load options implied by o.
func NewCloudWatchOptions(o AuthOptions) []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if o.Region != "" {
		opts = append(opts, config.WithRegion(o.Region))
	}
	if o.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(o.Profile))
	}
	return opts
}

// LoadAWSConfig loads the shared AWS configuration for o.
func LoadAWSConfig(ctx context.Context, o AuthOptions) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, NewCloudWatchOptions(o)...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// NewCloudWatchClient returns a CloudWatch Logs client for cfg.
func NewCloudWatchClient(cfg aws.Config) *cloudwatchlogs.Client {
	return cloudwatchlogs.NewFromConfig(cfg)
}

// ErrNoCredentials is returned when the provider chain yields no usable keys.
var ErrNoCredentials = errors.New("no aws credentials resolved")

// ResolveCredentials retrieves static credentials from cfg's provider chain,
// so they can be handed to the bulk request signer.
func ResolveCredentials(ctx context.Context, cfg aws.Config) (aws.Credentials, error) {
	if cfg.Credentials == nil {
		return aws.Credentials{}, ErrNoCredentials
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("retrieve aws credentials: %w", err)
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return aws.Credentials{}, ErrNoCredentials
	}
	return creds, nil
}
