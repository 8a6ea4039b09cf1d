// Package awsutil builds AWS sessions for the S3 and SQS backends.
package awsutil

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

// Options selects the region, endpoint and credentials. An empty endpoint
// means the AWS default; set it (with PathStyle) for MinIO or other
// S3-compatible stores.
type Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Config returns an AWS config using the provided static credentials if set,
// otherwise the SDK's default chain (environment, shared config, instance role).
func Config(opts Options) *aws.Config {
	cfg := aws.NewConfig()
	if opts.AccessKey != "" && opts.SecretKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, ""))
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	cfg = cfg.WithRegion(region)
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint)
	}
	if opts.PathStyle {
		cfg = cfg.WithS3ForcePathStyle(true)
	}
	return cfg
}

// Session returns a new session for opts.
func Session(opts Options) (*session.Session, error) {
	sess, err := session.NewSession(Config(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return sess, nil
}
