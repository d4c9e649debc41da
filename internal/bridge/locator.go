package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/onnwee/viewchat/internal/geo"
)

// PositionUpdate is the geolocation outcome pushed by the rendering
// surface. Status uses the same taxonomy as geo records.
type PositionUpdate struct {
	Status string           `json:"status"`
	Coords *geo.Coordinates `json:"coords,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Locator implements geo.Locator on top of payloads pushed through the
// bridge: the UI invokes the browser capability and POSTs the outcome;
// acquisitions block until a payload arrives or their deadline passes.
type Locator struct {
	mu      sync.Mutex
	latest  *PositionUpdate
	waiters []chan *PositionUpdate
}

// NewLocator creates a bridge-backed locator.
func NewLocator() *Locator {
	return &Locator{}
}

// Deliver records a pushed geolocation outcome and wakes every waiting
// acquisition. The payload is retained so later acquisitions in the
// same session reuse it without another round trip to the client.
func (l *Locator) Deliver(update *PositionUpdate) {
	l.mu.Lock()
	l.latest = update
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	for _, ch := range waiters {
		ch <- update
	}
}

// Current implements geo.Locator. It returns the most recent pushed
// payload, or waits for one until ctx expires.
func (l *Locator) Current(ctx context.Context) (*geo.Coordinates, error) {
	l.mu.Lock()
	if l.latest != nil {
		update := l.latest
		l.mu.Unlock()
		return translate(update)
	}
	ch := make(chan *PositionUpdate, 1)
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case update := <-ch:
		return translate(update)
	}
}

// translate maps a pushed payload onto the geo.Locator contract.
func translate(update *PositionUpdate) (*geo.Coordinates, error) {
	switch update.Status {
	case string(geo.StatusSuccess):
		if update.Coords == nil {
			return nil, nil
		}
		return update.Coords, nil
	case string(geo.StatusNoDataOrDenied):
		return nil, geo.ErrPermissionDenied
	case string(geo.StatusUnsupported):
		return nil, geo.ErrUnsupported
	case string(geo.StatusError):
		if update.Error == "" {
			return nil, errors.New("geolocation failed")
		}
		return nil, errors.New(update.Error)
	default:
		return nil, errors.New("unknown geolocation status: " + update.Status)
	}
}
