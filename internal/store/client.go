// Package store is the HTTP client for the remote authoritative log
// store: append and list for messages, append for visit events. The
// remote table is the sole order authority; this client never sorts.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/viewchat/internal/message"
)

// Default request timeouts.
const (
	DefaultListTimeout   = 10 * time.Second
	DefaultAppendTimeout = 10 * time.Second
)

// APIKeyHeader carries the store API key on every request.
const APIKeyHeader = "apikey"

// maxErrorBody caps how much of an error response body is retained in
// error messages.
const maxErrorBody = 4 << 10

// WriteError reports a failed append. The submission is not lost on
// the client side; callers keep the message visible and surface the
// warning.
type WriteError struct {
	Table      string
	StatusCode int
	Message    string
	Err        error
}

func (e *WriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("append to %s failed: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("append to %s failed: status %d: %s", e.Table, e.StatusCode, e.Message)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports a failed list. Callers degrade to their previous
// view; the next scheduled tick retries naturally.
type ReadError struct {
	Table      string
	StatusCode int
	Message    string
	Err        error
}

func (e *ReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("list from %s failed: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("list from %s failed: status %d: %s", e.Table, e.StatusCode, e.Message)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Config holds configuration for the store client.
type Config struct {
	// BaseURL is the store's REST root, without a trailing slash.
	BaseURL string

	// APIKey authenticates every request via the apikey header.
	APIKey string

	// MessagesTable and VisitsTable name the two remote tables.
	// Defaults: "messages" and "visits".
	MessagesTable string
	VisitsTable   string

	ListTimeout   time.Duration
	AppendTimeout time.Duration

	Logger *slog.Logger

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the remote log store.
type Client struct {
	baseURL       string
	apiKey        string
	messagesTable string
	visitsTable   string
	listTimeout   time.Duration
	appendTimeout time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewClient creates a store client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("store base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("store API key is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid store base URL: %w", err)
	}

	if cfg.MessagesTable == "" {
		cfg.MessagesTable = "messages"
	}
	if cfg.VisitsTable == "" {
		cfg.VisitsTable = "visits"
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = DefaultAppendTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		messagesTable: cfg.MessagesTable,
		visitsTable:   cfg.VisitsTable,
		listTimeout:   cfg.ListTimeout,
		appendTimeout: cfg.AppendTimeout,
		httpClient:    httpClient,
		logger:        logger.With(slog.String("component", "store_client")),
	}, nil
}

// AppendMessage inserts one message row. Fire-and-forget once it
// returns nil: no read-after-write verification is performed.
func (c *Client) AppendMessage(ctx context.Context, msg *message.Message) error {
	return c.append(ctx, c.messagesTable, msg)
}

// AppendVisit inserts one visit event into the visit table.
func (c *Client) AppendVisit(ctx context.Context, visit *message.VisitEvent) error {
	return c.append(ctx, c.visitsTable, visit)
}

// ListMessages fetches all message rows ordered by creation timestamp
// ascending. Ordering is delegated entirely to the store; remote clock
// skew and insertion races are reflected as-is.
func (c *Client) ListMessages(ctx context.Context) ([]message.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/%s?order=created_at.asc", c.baseURL, c.messagesTable)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, &ReadError{Table: c.messagesTable, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ReadError{Table: c.messagesTable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ReadError{
			Table:      c.messagesTable,
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
	}

	var msgs []message.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, &ReadError{Table: c.messagesTable, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return msgs, nil
}

// append POSTs one JSON row to the named table.
func (c *Client) append(ctx context.Context, table string, row any) error {
	ctx, cancel := context.WithTimeout(ctx, c.appendTimeout)
	defer cancel()

	body, err := json.Marshal(row)
	if err != nil {
		return &WriteError{Table: table, Err: fmt.Errorf("encoding row: %w", err)}
	}

	reqURL := fmt.Sprintf("%s/%s", c.baseURL, table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return &WriteError{Table: table, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &WriteError{Table: table, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &WriteError{
			Table:      table,
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
	}
	return nil
}

// readErrorBody drains a bounded amount of an error response for
// diagnostics.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
