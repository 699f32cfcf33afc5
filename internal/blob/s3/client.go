// Package s3blob stores day exports of settled positions in S3 or any
// S3-compatible object store. Production points at AWS; local development
// runs against MinIO, which is what the endpoint override and path-style
// flag exist for.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config selects the object store holding the archive tree. Bucket and
// Region are mandatory; everything else only matters for non-AWS backends.
type Config struct {
	// Endpoint overrides the AWS endpoint for compatible stores such as
	// MinIO. Empty means standard AWS S3. A bare host gets a scheme
	// prepended according to UseSSL.
	Endpoint string

	// Region is the bucket's region, or the placeholder the compatible
	// store expects.
	Region string

	// Bucket holds the archive tree (see the writer for the key scheme).
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL picks https when Endpoint carries no scheme.
	UseSSL bool

	// ForcePathStyle addresses the bucket in the path instead of the
	// subdomain. MinIO needs this.
	ForcePathStyle bool
}

// Client owns the SDK connection and the archive bucket name. The writer and
// reader in this package are views over it.
type Client struct {
	api    *s3.Client
	bucket string
}

// New connects to the configured object store with static credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{api: api, bucket: cfg.Bucket}, nil
}

// Health verifies the archive bucket is reachable and the credentials can
// see it.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close satisfies the closer convention of the wiring layer. The SDK client
// holds no connection state that needs teardown.
func (c *Client) Close() error {
	return nil
}

// API exposes the SDK client to the writer and reader.
func (c *Client) API() *s3.Client {
	return c.api
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// withScheme returns the endpoint with a scheme, preferring whatever the
// endpoint already carries.
func withScheme(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
