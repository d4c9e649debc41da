// Package config provides configuration loading and validation for the
// viewchat daemon. It uses koanf to merge environment variables with
// optional file overrides; environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ProviderConfig describes one IP-geolocation provider.
type ProviderConfig struct {
	Name               string `koanf:"name"`
	URL                string `koanf:"url"`
	TimeoutSeconds     int    `koanf:"timeout_seconds"`
	InsecureSkipVerify bool   `koanf:"insecure_skip_verify"`
}

// Config holds all configuration values for the daemon.
type Config struct {
	// Server settings for the bridge.
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Log store.
	StoreBaseURL  string `koanf:"store_base_url"`
	StoreAPIKey   string `koanf:"store_api_key"`
	MessagesTable string `koanf:"messages_table"`
	VisitsTable   string `koanf:"visits_table"`

	// Object store. Backend selects "rest" (the store's object API)
	// or "s3" (any S3-compatible service).
	ObjectBackend   string `koanf:"object_backend"`
	ObjectBaseURL   string `koanf:"object_base_url"`
	ObjectToken     string `koanf:"object_token"`
	Bucket          string `koanf:"bucket"`
	S3AccessKeyID   string `koanf:"s3_access_key_id"`
	S3SecretKey     string `koanf:"s3_secret_access_key"`
	S3Endpoint      string `koanf:"s3_endpoint"`
	S3PublicBaseURL string `koanf:"s3_public_base_url"`

	// Geo acquisition.
	Providers             []ProviderConfig `koanf:"providers"`
	PreciseTimeoutSeconds int              `koanf:"precise_timeout_seconds"`
	GeoCacheTTLSeconds    int              `koanf:"geo_cache_ttl_seconds"`
	RequireConsentForIP   bool             `koanf:"require_consent_for_ip"`

	// Sync loop.
	SyncIntervalSeconds int `koanf:"sync_interval_seconds"`
}

// Configuration validation errors.
var (
	ErrMissingStoreBaseURL = errors.New("STORE_BASE_URL is required")
	ErrMissingStoreAPIKey  = errors.New("STORE_API_KEY is required")
	ErrMissingBucket       = errors.New("BUCKET is required when an object backend is configured")
	ErrMissingObjectToken  = errors.New("OBJECT_TOKEN is required for the rest object backend")
	ErrIncompleteS3        = errors.New("S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY, S3_ENDPOINT, and S3_PUBLIC_BASE_URL are all required for the s3 object backend")
	ErrUnknownBackend      = errors.New("OBJECT_BACKEND must be \"rest\", \"s3\", or empty")
	ErrInvalidInteger      = errors.New("must be a valid integer")
)

// Object store backends.
const (
	BackendREST = "rest"
	BackendS3   = "s3"
)

// Default values for non-secret configuration.
const (
	DefaultPort                  = 8080
	DefaultEnv                   = "development"
	DefaultMessagesTable         = "messages"
	DefaultVisitsTable           = "visits"
	DefaultSyncIntervalSeconds   = 5
	DefaultPreciseTimeoutSeconds = 10
	DefaultGeoCacheTTLSeconds    = 300
)

// DefaultProviders is the shipped IP provider set. Both use verified
// transport; per-provider insecure_skip_verify exists for operators
// who must tolerate a provider's certificate problems.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Name: "ipapi.co", URL: "https://ipapi.co/json/", TimeoutSeconds: 10},
		{Name: "ip-api.com", URL: "http://ip-api.com/json/", TimeoutSeconds: 10},
	}
}

// Load reads configuration from environment variables and an optional
// YAML file. Returns the loaded config and a slice of validation
// errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	interval, intervalErr := getEnvIntOrDefault("SYNC_INTERVAL_SECONDS", k.Int("sync_interval_seconds"), DefaultSyncIntervalSeconds)
	if intervalErr != nil {
		loadErrs = append(loadErrs, intervalErr)
	}

	preciseTimeout, ptErr := getEnvIntOrDefault("PRECISE_TIMEOUT_SECONDS", k.Int("precise_timeout_seconds"), DefaultPreciseTimeoutSeconds)
	if ptErr != nil {
		loadErrs = append(loadErrs, ptErr)
	}

	cacheTTL, ttlErr := getEnvIntOrDefault("GEO_CACHE_TTL_SECONDS", k.Int("geo_cache_ttl_seconds"), DefaultGeoCacheTTLSeconds)
	if ttlErr != nil {
		loadErrs = append(loadErrs, ttlErr)
	}

	var providers []ProviderConfig
	if err := k.Unmarshal("providers", &providers); err != nil {
		loadErrs = append(loadErrs, fmt.Errorf("invalid providers configuration: %w", err))
	}
	if len(providers) == 0 {
		providers = DefaultProviders()
	}

	cfg := &Config{
		Port:                  port,
		Env:                   getEnvOrDefault("ENV", k.String("env"), DefaultEnv),
		StoreBaseURL:          getEnvOrKoanf("STORE_BASE_URL", k, "store_base_url"),
		StoreAPIKey:           getEnvOrKoanf("STORE_API_KEY", k, "store_api_key"),
		MessagesTable:         getEnvOrDefault("MESSAGES_TABLE", k.String("messages_table"), DefaultMessagesTable),
		VisitsTable:           getEnvOrDefault("VISITS_TABLE", k.String("visits_table"), DefaultVisitsTable),
		ObjectBackend:         getEnvOrKoanf("OBJECT_BACKEND", k, "object_backend"),
		ObjectBaseURL:         getEnvOrKoanf("OBJECT_BASE_URL", k, "object_base_url"),
		ObjectToken:           getEnvOrKoanf("OBJECT_TOKEN", k, "object_token"),
		Bucket:                getEnvOrKoanf("BUCKET", k, "bucket"),
		S3AccessKeyID:         getEnvOrKoanf("S3_ACCESS_KEY_ID", k, "s3_access_key_id"),
		S3SecretKey:           getEnvOrKoanf("S3_SECRET_ACCESS_KEY", k, "s3_secret_access_key"),
		S3Endpoint:            getEnvOrKoanf("S3_ENDPOINT", k, "s3_endpoint"),
		S3PublicBaseURL:       getEnvOrKoanf("S3_PUBLIC_BASE_URL", k, "s3_public_base_url"),
		Providers:             providers,
		PreciseTimeoutSeconds: preciseTimeout,
		GeoCacheTTLSeconds:    cacheTTL,
		RequireConsentForIP:   getEnvBool("REQUIRE_CONSENT_FOR_IP", k.Bool("require_consent_for_ip")),
		SyncIntervalSeconds:   interval,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// SyncInterval returns the poll cadence as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// PreciseTimeout returns the precise-geolocation timeout as a duration.
func (c *Config) PreciseTimeout() time.Duration {
	return time.Duration(c.PreciseTimeoutSeconds) * time.Second
}

// GeoCacheTTL returns the provider cache TTL as a duration.
func (c *Config) GeoCacheTTL() time.Duration {
	return time.Duration(c.GeoCacheTTLSeconds) * time.Second
}

// getEnvOrKoanf returns the environment variable value if set,
// otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error if the
// environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidInteger)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBool returns the environment variable as bool if set,
// otherwise the koanf value.
func getEnvBool(envKey string, koanfVal bool) bool {
	val := os.Getenv(envKey)
	if val == "" {
		return koanfVal
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return koanfVal
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.StoreBaseURL == "" {
		errs = append(errs, ErrMissingStoreBaseURL)
	}
	if c.StoreAPIKey == "" {
		errs = append(errs, ErrMissingStoreAPIKey)
	}

	switch c.ObjectBackend {
	case "":
		// Attachments disabled; nothing to validate.
	case BackendREST:
		if c.Bucket == "" {
			errs = append(errs, ErrMissingBucket)
		}
		if c.ObjectToken == "" {
			errs = append(errs, ErrMissingObjectToken)
		}
	case BackendS3:
		if c.Bucket == "" {
			errs = append(errs, ErrMissingBucket)
		}
		if c.S3AccessKeyID == "" || c.S3SecretKey == "" || c.S3Endpoint == "" || c.S3PublicBaseURL == "" {
			errs = append(errs, ErrIncompleteS3)
		}
	default:
		errs = append(errs, ErrUnknownBackend)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for
// logging. All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	providers := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		providers = append(providers, p.Name)
	}
	return map[string]string{
		"port":                   fmt.Sprintf("%d", c.Port),
		"env":                    c.Env,
		"store_base_url":         c.StoreBaseURL,
		"store_api_key":          maskSecret(c.StoreAPIKey),
		"messages_table":         c.MessagesTable,
		"visits_table":           c.VisitsTable,
		"object_backend":         c.ObjectBackend,
		"object_base_url":        c.ObjectBaseURL,
		"object_token":           maskSecret(c.ObjectToken),
		"bucket":                 c.Bucket,
		"s3_access_key_id":       maskSecret(c.S3AccessKeyID),
		"s3_secret_access_key":   maskSecret(c.S3SecretKey),
		"s3_endpoint":            c.S3Endpoint,
		"s3_public_base_url":     c.S3PublicBaseURL,
		"providers":              strings.Join(providers, ","),
		"require_consent_for_ip": fmt.Sprintf("%t", c.RequireConsentForIP),
		"sync_interval_seconds":  fmt.Sprintf("%d", c.SyncIntervalSeconds),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters
// followed by ****. Secrets shorter than 8 characters are fully
// masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}
