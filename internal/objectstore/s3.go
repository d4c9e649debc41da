package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/onnwee/viewchat/internal/message"
)

// S3Config holds configuration for the S3-compatible backend.
type S3Config struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint is the S3-compatible service endpoint (R2, MinIO, ...).
	Endpoint string

	// PublicBaseURL is the read-side root from which public URLs are
	// derived: <public base>/<key>.
	PublicBaseURL string

	Timeout time.Duration
}

// S3Client uploads blobs to any S3-compatible object store.
type S3Client struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
	timeout       time.Duration
}

// NewS3Client creates an S3-compatible object-store client with static
// credentials and path-style addressing.
func NewS3Client(cfg S3Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("public base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultUploadTimeout
	}

	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3Client{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		timeout:       cfg.Timeout,
	}, nil
}

// Upload performs a single PutObject. On failure the descriptor keeps
// its metadata and the URL stays empty.
func (c *S3Client) Upload(ctx context.Context, data []byte, originalName, contentType string) (*message.AttachmentDescriptor, error) {
	key := GenerateKey(originalName)
	desc := &message.AttachmentDescriptor{
		Name:        originalName,
		ContentType: contentType,
		Key:         key,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return desc, &UploadError{Key: key, Err: err}
	}

	desc.URL = fmt.Sprintf("%s/%s", c.publicBaseURL, key)
	return desc, nil
}
