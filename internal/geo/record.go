// Package geo acquires client location data from multiple unreliable
// sources: IP-geolocation providers queried in parallel and a precise
// device locator gated behind user consent. Every failure is captured
// in the resulting record; acquisition itself never fails.
package geo

import (
	"encoding/json"
	"time"
)

// Status classifies the outcome of one precise-geolocation attempt.
type Status string

const (
	// StatusSuccess means coordinates were obtained.
	StatusSuccess Status = "success"

	// StatusNoDataOrDenied means the locator returned without
	// coordinates, typically because the user denied permission.
	StatusNoDataOrDenied Status = "no_data_or_denied"

	// StatusUnsupported means the client environment has no
	// geolocation capability.
	StatusUnsupported Status = "unsupported"

	// StatusError means the locator call failed or timed out.
	StatusError Status = "error"

	// StatusNotRequested means no precise lookup was attempted,
	// either because consent was not granted or the caller did not
	// ask for one.
	StatusNotRequested Status = "not_requested"
)

// Coordinates is the precise position payload returned by the device
// locator. Nullable fields mirror what browsers report: altitude,
// heading, and speed are frequently absent.
type Coordinates struct {
	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
	AccuracyM         float64  `json:"accuracy_m"`
	Altitude          *float64 `json:"altitude,omitempty"`
	AltitudeAccuracyM *float64 `json:"altitude_accuracy_m,omitempty"`
	Heading           *float64 `json:"heading,omitempty"`
	Speed             *float64 `json:"speed,omitempty"`

	// CapturedAt is the client-clock capture time in epoch milliseconds.
	CapturedAt int64 `json:"timestamp,omitempty"`
}

// ProviderResult holds one IP provider's response: either the raw JSON
// payload the provider returned, or an error message. Exactly one of
// the two is set.
type ProviderResult struct {
	Payload json.RawMessage
	Err     string
}

// providerError is the serialized form of a failed provider lookup.
type providerError struct {
	Error string `json:"error"`
}

// MarshalJSON emits either the provider payload verbatim or an
// {"error": ...} object, so failures survive the round trip through
// the store instead of being dropped.
func (r ProviderResult) MarshalJSON() ([]byte, error) {
	if r.Err != "" {
		return json.Marshal(providerError{Error: r.Err})
	}
	if len(r.Payload) == 0 {
		return []byte("null"), nil
	}
	return r.Payload, nil
}

// UnmarshalJSON restores a ProviderResult, recognizing the error form
// by its single "error" key.
func (r *ProviderResult) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err == nil && len(fields) == 1 {
		if raw, ok := fields["error"]; ok {
			var msg string
			if err := json.Unmarshal(raw, &msg); err == nil {
				r.Err = msg
				return nil
			}
		}
	}
	r.Payload = append(json.RawMessage(nil), data...)
	return nil
}

// Record is the result of one acquisition: every configured provider
// appears under Providers, successfully or not, and the precise fields
// describe the single device-locator attempt.
type Record struct {
	Providers map[string]ProviderResult `json:"providers,omitempty"`
	Status    Status                    `json:"status"`
	Coords    *Coordinates              `json:"coords,omitempty"`

	// Geohash is a precision-6 coarsening of Coords for logging.
	Geohash string `json:"geohash,omitempty"`

	// Error carries the locator failure message when Status is
	// StatusError.
	Error string `json:"error,omitempty"`

	ServerTime time.Time `json:"server_time_utc"`
}
