package geo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultPreciseTimeout bounds one device-locator attempt.
const DefaultPreciseTimeout = 10 * time.Second

// AggregatorConfig holds configuration for the aggregator.
type AggregatorConfig struct {
	// Providers are the IP-geolocation endpoints to fan out to.
	Providers []ProviderSpec

	// Locator is the precise geolocation capability. Nil means the
	// environment is treated as unsupported.
	Locator Locator

	// PreciseTimeout bounds the locator call; DefaultPreciseTimeout if
	// zero.
	PreciseTimeout time.Duration

	// CacheTTL and CacheSize tune the provider payload cache.
	// DisableCache turns it off entirely.
	CacheTTL     time.Duration
	CacheSize    int
	DisableCache bool

	Logger  *slog.Logger
	Metrics *Metrics
}

// Aggregator queries all configured providers and, when asked, the
// device locator, and merges the outcomes into a single Record.
type Aggregator struct {
	providers      []*ipProvider
	locator        Locator
	preciseTimeout time.Duration
	cache          *providerCache
	logger         *slog.Logger
	metrics        *Metrics
}

// NewAggregator creates an aggregator from the given configuration.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("at least one IP provider is required")
	}
	seen := make(map[string]bool, len(cfg.Providers))
	providers := make([]*ipProvider, 0, len(cfg.Providers))
	for _, spec := range cfg.Providers {
		if spec.Name == "" || spec.URL == "" {
			return nil, errors.New("provider name and URL are required")
		}
		if seen[spec.Name] {
			return nil, errors.New("duplicate provider name: " + spec.Name)
		}
		seen[spec.Name] = true
		providers = append(providers, newIPProvider(spec))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.PreciseTimeout
	if timeout <= 0 {
		timeout = DefaultPreciseTimeout
	}

	var cache *providerCache
	if !cfg.DisableCache {
		cache = newProviderCache(cfg.CacheSize, cfg.CacheTTL)
	}

	return &Aggregator{
		providers:      providers,
		locator:        cfg.Locator,
		preciseTimeout: timeout,
		cache:          cache,
		logger:         logger.With(slog.String("component", "geo_aggregator")),
		metrics:        cfg.Metrics,
	}, nil
}

// Acquire queries every IP provider and, if wantPrecise is true, the
// device locator, all concurrently. It blocks until each source has
// responded or timed out and never returns an error: per-source
// failures are encoded in the record.
func (a *Aggregator) Acquire(ctx context.Context, wantPrecise bool) *Record {
	record := &Record{
		Providers:  make(map[string]ProviderResult, len(a.providers)),
		Status:     StatusNotRequested,
		ServerTime: time.Now().UTC(),
	}

	results := make([]ProviderResult, len(a.providers))

	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p *ipProvider) {
			defer wg.Done()
			results[i] = a.lookupProvider(ctx, p)
		}(i, p)
	}

	if wantPrecise {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.acquirePrecise(ctx, record)
		}()
	}

	wg.Wait()

	for i, p := range a.providers {
		record.Providers[p.spec.Name] = results[i]
	}
	return record
}

// lookupProvider resolves one provider entry, consulting the cache
// first. Failures become {error} entries, never propagated.
func (a *Aggregator) lookupProvider(ctx context.Context, p *ipProvider) ProviderResult {
	name := p.spec.Name

	if a.cache != nil {
		if payload, ok := a.cache.get(name); ok {
			if a.metrics != nil {
				a.metrics.RecordCacheHit(name)
			}
			return ProviderResult{Payload: payload}
		}
	}

	start := time.Now()
	payload, err := p.lookup(ctx)
	elapsed := time.Since(start)
	if a.metrics != nil {
		a.metrics.RecordProviderLookup(name, err == nil, elapsed)
	}
	if err != nil {
		a.logger.Warn("ip provider lookup failed",
			slog.String("provider", name),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed))
		return ProviderResult{Err: lookupErrorMessage(err)}
	}

	if a.cache != nil {
		a.cache.set(name, payload)
	}
	return ProviderResult{Payload: payload}
}

// acquirePrecise runs the locator once and writes the precise fields
// of the record. Only this goroutine touches those fields during the
// fan-out.
func (a *Aggregator) acquirePrecise(ctx context.Context, record *Record) {
	locator := a.locator
	if locator == nil {
		locator = NopLocator{}
	}

	ctx, cancel := context.WithTimeout(ctx, a.preciseTimeout)
	defer cancel()

	coords, err := locator.Current(ctx)
	switch {
	case errors.Is(err, ErrUnsupported):
		record.Status = StatusUnsupported
	case errors.Is(err, ErrPermissionDenied):
		record.Status = StatusNoDataOrDenied
	case errors.Is(err, context.DeadlineExceeded):
		record.Status = StatusError
		record.Error = "timeout"
	case err != nil:
		record.Status = StatusError
		record.Error = err.Error()
	case coords == nil:
		record.Status = StatusNoDataOrDenied
	default:
		record.Status = StatusSuccess
		record.Coords = coords
		record.Geohash = encodeGeohash(coords.Latitude, coords.Longitude, GeohashPrecision)
	}

	if a.metrics != nil {
		a.metrics.RecordPreciseLookup(record.Status)
	}
	if record.Status != StatusSuccess {
		a.logger.Info("precise geolocation unavailable",
			slog.String("status", string(record.Status)),
			slog.String("error", record.Error))
	}
}

// lookupErrorMessage flattens a lookup failure into the message stored
// under the provider's key.
func lookupErrorMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return err.Error()
}
