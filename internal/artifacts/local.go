package artifacts

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// Local is an in-process S3 server with an in-memory backend.
type Local struct {
	*Client
	server *httptest.Server
}

// Close stops the server; stored objects are lost.
func (l *Local) Close() {
	l.server.Close()
}

// NewLocal starts an in-memory S3 server and creates bucketName on it.
func NewLocal(ctx context.Context, bucketName string) (*Local, error) {
	faker := gofakes3.New(s3mem.New())
	ts := httptest.NewServer(faker.Server())

	sdkConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local-key", "local-secret", ""),
		),
	)
	if err != nil {
		ts.Close()
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(ts.URL)
		o.UsePathStyle = true
	})
	if _, err := s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		ts.Close()
		return nil, fmt.Errorf("failed to create bucket %q: %w", bucketName, err)
	}
	return &Local{
		Client: NewFromS3Client(s3Client, bucketName, ts.URL+"/"+bucketName),
		server: ts,
	}, nil
}

// TestClient creates a Client backed by gofakes3. The server is closed when
// the test completes.
func TestClient(t testing.TB, bucketName string) *Client {
	t.Helper()
	local, err := NewLocal(context.Background(), bucketName)
	if err != nil {
		t.Fatalf("failed to start local S3: %v", err)
	}
	t.Cleanup(local.Close)
	return local.Client
}
