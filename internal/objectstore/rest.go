package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/viewchat/internal/message"
)

// RESTConfig holds configuration for the REST object-store backend.
type RESTConfig struct {
	// BaseURL is the object API root, without a trailing slash.
	BaseURL string

	// Token is the bearer token for writes.
	Token string

	// Bucket names the target bucket.
	Bucket string

	Timeout time.Duration

	Logger *slog.Logger

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// RESTClient uploads blobs via the store's object API:
// PUT <base>/objects/<bucket>/<key> with a bearer token, public reads
// at <base>/objects/public/<bucket>/<key>.
type RESTClient struct {
	baseURL    string
	token      string
	bucket     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRESTClient creates a REST object-store client.
func NewRESTClient(cfg RESTConfig) (*RESTClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("object store base URL is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("object store token is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultUploadTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RESTClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		bucket:     cfg.Bucket,
		timeout:    cfg.Timeout,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "object_store")),
	}, nil
}

// Upload performs a single PUT. 200 and 201 count as success; any
// other status or transport failure yields an UploadError and a
// descriptor without a URL, which callers persist anyway.
func (c *RESTClient) Upload(ctx context.Context, data []byte, originalName, contentType string) (*message.AttachmentDescriptor, error) {
	key := GenerateKey(originalName)
	desc := &message.AttachmentDescriptor{
		Name:        originalName,
		ContentType: contentType,
		Key:         key,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/objects/%s/%s", c.baseURL, c.bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(data))
	if err != nil {
		return desc, &UploadError{Key: key, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return desc, &UploadError{Key: key, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return desc, &UploadError{
			Key:        key,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	desc.URL = fmt.Sprintf("%s/objects/public/%s/%s", c.baseURL, c.bucket, key)
	return desc, nil
}
