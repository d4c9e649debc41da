package geo

import (
	"context"
	"errors"
)

// Locator abstracts the client-side precise geolocation capability.
// The production implementation waits for a payload pushed by the
// rendering surface through the bridge; tests inject fakes with canned
// outcomes.
type Locator interface {
	// Current returns the device position. A nil Coordinates with a
	// nil error means the call completed without data (for example the
	// user dismissed the permission prompt). Implementations must
	// honor ctx cancellation and deadlines.
	Current(ctx context.Context) (*Coordinates, error)
}

// Locator outcome errors, mapped onto record statuses by the
// aggregator.
var (
	// ErrUnsupported means the client environment has no geolocation
	// capability at all.
	ErrUnsupported = errors.New("geolocation is not supported")

	// ErrPermissionDenied means the user explicitly refused the
	// geolocation permission prompt.
	ErrPermissionDenied = errors.New("geolocation permission denied")
)

// NopLocator is a Locator for environments with no geolocation
// capability; every call reports ErrUnsupported.
type NopLocator struct{}

// Current implements Locator.
func (NopLocator) Current(context.Context) (*Coordinates, error) {
	return nil, ErrUnsupported
}
