package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv pins every config-relevant variable to empty so tests are
// not affected by the ambient environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENV",
		"STORE_BASE_URL", "STORE_API_KEY", "MESSAGES_TABLE", "VISITS_TABLE",
		"OBJECT_BACKEND", "OBJECT_BASE_URL", "OBJECT_TOKEN", "BUCKET",
		"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_ENDPOINT", "S3_PUBLIC_BASE_URL",
		"PRECISE_TIMEOUT_SECONDS", "GEO_CACHE_TTL_SECONDS", "REQUIRE_CONSENT_FOR_IP",
		"SYNC_INTERVAL_SECONDS",
	} {
		t.Setenv(key, "")
	}
}

// TestLoadDefaults tests that a minimal environment yields a valid
// config with the shipped defaults.
func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BASE_URL", "https://store.example.com")
	t.Setenv("STORE_API_KEY", "key-1234567890")

	cfg, errs := Load("")
	if len(errs) != 0 {
		t.Fatalf("Load() errors: %v", errs)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.Env != DefaultEnv {
		t.Errorf("env = %q, want %q", cfg.Env, DefaultEnv)
	}
	if cfg.MessagesTable != DefaultMessagesTable || cfg.VisitsTable != DefaultVisitsTable {
		t.Errorf("tables = %q, %q", cfg.MessagesTable, cfg.VisitsTable)
	}
	if cfg.SyncInterval() != time.Duration(DefaultSyncIntervalSeconds)*time.Second {
		t.Errorf("sync interval = %v", cfg.SyncInterval())
	}
	if cfg.PreciseTimeout() != time.Duration(DefaultPreciseTimeoutSeconds)*time.Second {
		t.Errorf("precise timeout = %v", cfg.PreciseTimeout())
	}
	if cfg.GeoCacheTTL() != time.Duration(DefaultGeoCacheTTLSeconds)*time.Second {
		t.Errorf("cache TTL = %v", cfg.GeoCacheTTL())
	}
	if cfg.RequireConsentForIP {
		t.Error("require_consent_for_ip should default off")
	}
	if cfg.ObjectBackend != "" {
		t.Errorf("object backend = %q, want disabled", cfg.ObjectBackend)
	}
}

// TestLoadDefaultProviders tests the shipped provider set.
func TestLoadDefaultProviders(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BASE_URL", "https://store.example.com")
	t.Setenv("STORE_API_KEY", "key-1234567890")

	cfg, errs := Load("")
	if len(errs) != 0 {
		t.Fatalf("Load() errors: %v", errs)
	}

	if len(cfg.Providers) != 2 {
		t.Fatalf("got %d providers, want 2", len(cfg.Providers))
	}
	for _, p := range cfg.Providers {
		if p.TimeoutSeconds != 10 {
			t.Errorf("provider %s timeout = %d, want 10", p.Name, p.TimeoutSeconds)
		}
		if p.InsecureSkipVerify {
			t.Errorf("provider %s ships with TLS verification disabled", p.Name)
		}
	}
}

// TestEnvOverridesFile tests precedence: environment beats the YAML
// file, the file beats defaults.
func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"port: 9000",
		"store_base_url: https://file.example.com",
		"store_api_key: file-key-123456",
		"messages_table: file_messages",
		"providers:",
		"  - name: custom",
		"    url: https://geo.example.com/json/",
		"    timeout_seconds: 3",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("PORT", "7070")
	t.Setenv("STORE_BASE_URL", "https://env.example.com")

	cfg, errs := Load(path)
	if len(errs) != 0 {
		t.Fatalf("Load() errors: %v", errs)
	}

	if cfg.Port != 7070 {
		t.Errorf("port = %d, want env value 7070", cfg.Port)
	}
	if cfg.StoreBaseURL != "https://env.example.com" {
		t.Errorf("store base URL = %q, want env value", cfg.StoreBaseURL)
	}
	if cfg.StoreAPIKey != "file-key-123456" {
		t.Errorf("store API key = %q, want file value", cfg.StoreAPIKey)
	}
	if cfg.MessagesTable != "file_messages" {
		t.Errorf("messages table = %q, want file value", cfg.MessagesTable)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "custom" || cfg.Providers[0].TimeoutSeconds != 3 {
		t.Errorf("providers = %+v, want the file's custom provider", cfg.Providers)
	}
}

// TestLoadInvalidInteger tests that a malformed integer variable
// surfaces as a load error naming that variable, not some other one.
func TestLoadInvalidInteger(t *testing.T) {
	for _, envKey := range []string{"PORT", "SYNC_INTERVAL_SECONDS", "PRECISE_TIMEOUT_SECONDS", "GEO_CACHE_TTL_SECONDS"} {
		t.Run(envKey, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("STORE_BASE_URL", "https://store.example.com")
			t.Setenv("STORE_API_KEY", "key-1234567890")
			t.Setenv(envKey, "not-a-number")

			_, errs := Load("")
			found := false
			for _, err := range errs {
				if errors.Is(err, ErrInvalidInteger) {
					found = true
					if !strings.Contains(err.Error(), envKey) {
						t.Errorf("error %q does not name %s", err, envKey)
					}
				}
			}
			if !found {
				t.Errorf("errors = %v, want ErrInvalidInteger", errs)
			}
		})
	}
}

// TestValidate tests the required-field and backend rules.
func TestValidate(t *testing.T) {
	valid := Config{
		StoreBaseURL: "https://store.example.com",
		StoreAPIKey:  "key-1234567890",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "minimal valid", mutate: func(c *Config) {}},
		{
			name:    "missing store base URL",
			mutate:  func(c *Config) { c.StoreBaseURL = "" },
			wantErr: ErrMissingStoreBaseURL,
		},
		{
			name:    "missing store API key",
			mutate:  func(c *Config) { c.StoreAPIKey = "" },
			wantErr: ErrMissingStoreAPIKey,
		},
		{
			name:    "rest backend without token",
			mutate:  func(c *Config) { c.ObjectBackend = BackendREST; c.Bucket = "b" },
			wantErr: ErrMissingObjectToken,
		},
		{
			name:    "rest backend without bucket",
			mutate:  func(c *Config) { c.ObjectBackend = BackendREST; c.ObjectToken = "t" },
			wantErr: ErrMissingBucket,
		},
		{
			name: "s3 backend incomplete",
			mutate: func(c *Config) {
				c.ObjectBackend = BackendS3
				c.Bucket = "b"
				c.S3AccessKeyID = "AKIA"
			},
			wantErr: ErrIncompleteS3,
		},
		{
			name: "s3 backend complete",
			mutate: func(c *Config) {
				c.ObjectBackend = BackendS3
				c.Bucket = "b"
				c.S3AccessKeyID = "AKIA"
				c.S3SecretKey = "secret"
				c.S3Endpoint = "https://s3.example.com"
				c.S3PublicBaseURL = "https://cdn.example.com"
			},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.ObjectBackend = "ftp" },
			wantErr: ErrUnknownBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			errs := cfg.Validate()
			if tt.wantErr == nil {
				if len(errs) != 0 {
					t.Errorf("unexpected errors: %v", errs)
				}
				return
			}
			found := false
			for _, err := range errs {
				if errors.Is(err, tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors = %v, want %v", errs, tt.wantErr)
			}
		})
	}
}

// TestRequireConsentForIPEnv tests boolean parsing from the
// environment.
func TestRequireConsentForIPEnv(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{value: "true", want: true},
		{value: "1", want: true},
		{value: "YES", want: true},
		{value: "false", want: false},
		{value: "0", want: false},
		{value: "garbage", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("STORE_BASE_URL", "https://store.example.com")
			t.Setenv("STORE_API_KEY", "key-1234567890")
			t.Setenv("REQUIRE_CONSENT_FOR_IP", tt.value)

			cfg, errs := Load("")
			if len(errs) != 0 {
				t.Fatalf("Load() errors: %v", errs)
			}
			if cfg.RequireConsentForIP != tt.want {
				t.Errorf("require_consent_for_ip = %t, want %t", cfg.RequireConsentForIP, tt.want)
			}
		})
	}
}

// TestLogSummaryMasksSecrets tests that secrets never appear in the
// loggable summary.
func TestLogSummaryMasksSecrets(t *testing.T) {
	cfg := Config{
		StoreBaseURL:  "https://store.example.com",
		StoreAPIKey:   "supersecretkey123",
		ObjectToken:   "tok",
		S3AccessKeyID: "AKIAEXAMPLE123456",
		S3SecretKey:   "verysecretvalue",
		Providers:     DefaultProviders(),
	}

	summary := cfg.LogSummary()

	if summary["store_api_key"] != "supe****" {
		t.Errorf("store_api_key = %q", summary["store_api_key"])
	}
	if summary["object_token"] != "****" {
		t.Errorf("short secret not fully masked: %q", summary["object_token"])
	}
	if summary["s3_secret_access_key"] != "very****" {
		t.Errorf("s3_secret_access_key = %q", summary["s3_secret_access_key"])
	}
	for key, val := range summary {
		if strings.Contains(val, "supersecretkey123") || strings.Contains(val, "verysecretvalue") {
			t.Errorf("secret leaked through %q: %q", key, val)
		}
	}
	if summary["providers"] != "ipapi.co,ip-api.com" {
		t.Errorf("providers = %q", summary["providers"])
	}
}

// TestMaskSecret tests the masking edge cases.
func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "<not set>"},
		{in: "short", want: "****"},
		{in: "exactly8", want: "exac****"},
		{in: "a-long-secret-value", want: "a-lo****"},
	}

	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
