// Package session holds the per-session context object: the consent
// latch and the visit-logged flag. Both are set-once and read-many;
// atomics are the only synchronization they need.
package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is created once per client session and passed into each
// component call; nothing here is shared across sessions.
type Session struct {
	id        string
	startedAt time.Time

	consent     atomic.Bool
	visitLogged atomic.Bool
}

// New creates a fresh session with consent ungranted and no visit
// logged.
func New() *Session {
	return &Session{
		id:        uuid.New().String(),
		startedAt: time.Now().UTC(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// GrantConsent flips the consent latch. The transition is monotonic:
// once granted, a session never reverts.
func (s *Session) GrantConsent() {
	s.consent.Store(true)
}

// ConsentGranted reports whether the user has granted consent for
// precise geolocation.
func (s *Session) ConsentGranted() bool {
	return s.consent.Load()
}

// MarkVisitLogged sets the visit flag and reports whether this call
// was the one that set it. Exactly one caller per session wins.
func (s *Session) MarkVisitLogged() bool {
	return s.visitLogged.CompareAndSwap(false, true)
}

// VisitLogged reports whether a visit event was already recorded for
// this session.
func (s *Session) VisitLogged() bool {
	return s.visitLogged.Load()
}
