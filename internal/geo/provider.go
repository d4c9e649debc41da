package geo

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultProviderTimeout bounds a single IP provider lookup.
const DefaultProviderTimeout = 10 * time.Second

// maxProviderBody caps how much of a provider response is read.
const maxProviderBody = 1 << 20

// Provider lookup errors.
var (
	ErrEmptyProviderBody = errors.New("provider returned an empty body")
)

// ProviderSpec describes one IP-geolocation endpoint. Providers are
// independent: one failing or timing out never affects the others.
type ProviderSpec struct {
	// Name keys the provider's entry in the acquired record.
	Name string

	// URL is the GET endpoint returning a JSON location payload.
	URL string

	// Timeout bounds the lookup; DefaultProviderTimeout if zero.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification for
	// this provider only. Off by default; enabling it trades transport
	// security for tolerance of the provider's certificate problems.
	InsecureSkipVerify bool
}

// ipProvider is a ProviderSpec with its own HTTP client, built once so
// the TLS configuration and connection pool are per provider.
type ipProvider struct {
	spec   ProviderSpec
	client *http.Client
}

func newIPProvider(spec ProviderSpec) *ipProvider {
	if spec.Timeout <= 0 {
		spec.Timeout = DefaultProviderTimeout
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 2,
	}
	if spec.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &ipProvider{
		spec: spec,
		client: &http.Client{
			Timeout:   spec.Timeout,
			Transport: transport,
		},
	}
}

// lookup performs one GET against the provider and returns its JSON
// payload. Network failures, non-2xx statuses, empty bodies, and
// non-JSON bodies are all errors.
func (p *ipProvider) lookup(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.spec.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.spec.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, fmt.Errorf("reading provider response: %w", err)
	}
	if len(body) == 0 {
		return nil, ErrEmptyProviderBody
	}
	if !json.Valid(body) {
		return nil, errors.New("provider returned invalid JSON")
	}
	return body, nil
}
