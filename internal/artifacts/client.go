// Package artifacts uploads failure diagnostics to S3-compatible object storage.
// In production point it at any S3 endpoint; tests and --no-s3 runs use gofakes3.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("artifacts: object not found")

// Client wraps an S3 client bound to one bucket.
type Client struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string
}

// Config holds the configuration for creating a Client.
type Config struct {
	// Endpoint is the S3 endpoint URL. Leave empty to use AWS S3.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// PublicURL is the base URL that artifact links are built on. Defaults to
	// Endpoint/BucketName.
	PublicURL string
	// UsePathStyle enables path-style addressing (required for gofakes3).
	UsePathStyle bool
}

// New creates a Client with the given configuration.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("artifacts: bucket name is required")
	}
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	publicURL := cfg.PublicURL
	if publicURL == "" && cfg.Endpoint != "" {
		publicURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.BucketName
	}
	return NewFromS3Client(s3Client, cfg.BucketName, publicURL), nil
}

// NewFromS3Client creates a Client from an existing S3 client.
func NewFromS3Client(s3Client *s3.Client, bucketName, publicURL string) *Client {
	return &Client{
		s3Client:   s3Client,
		bucketName: bucketName,
		publicURL:  strings.TrimSuffix(publicURL, "/"),
	}
}

// PutObject stores content under key.
func (c *Client) PutObject(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("artifacts: failed to put object %q: %w", key, err)
	}
	return nil
}

// GetObject retrieves the content stored under key.
// Returns ErrObjectNotFound if the key does not exist.
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("artifacts: failed to get object %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("artifacts: failed to read object body %q: %w", key, err)
	}
	return data, nil
}

// ListRun returns the keys stored for one run, sorted.
func (c *Client) ListRun(ctx context.Context, runID string) ([]string, error) {
	out, err := c.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucketName),
		Prefix: aws.String(RunPrefix(runID)),
	})
	if err != nil {
		return nil, fmt.Errorf("artifacts: failed to list run %q: %w", runID, err)
	}
	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys, nil
}

// PublicURL returns the URL of key under the configured public base.
func (c *Client) PublicURL(key string) string {
	if c.publicURL == "" {
		return "s3://" + c.bucketName + "/" + strings.TrimPrefix(key, "/")
	}
	return c.publicURL + "/" + strings.TrimPrefix(key, "/")
}

// BucketName returns the configured bucket name.
func (c *Client) BucketName() string {
	return c.bucketName
}
