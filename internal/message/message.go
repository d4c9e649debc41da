// Package message defines the wire model for the shared chat log:
// messages, attachment descriptors, visit events, and submission
// validation. Records are immutable once appended to the store.
package message

import (
	"errors"
	"strings"
	"time"

	"github.com/onnwee/viewchat/internal/geo"
)

// Validation errors for submissions.
var (
	ErrMissingAuthor   = errors.New("author name is required")
	ErrEmptySubmission = errors.New("message needs text or an attachment")
)

// DeliveryState describes the local fate of an optimistic append.
// It is never serialized; the remote store only sees delivered rows.
type DeliveryState string

const (
	// DeliveryDelivered means the store acknowledged the append.
	DeliveryDelivered DeliveryState = "delivered"

	// DeliveryFailed means the append failed; the message stays in the
	// local view so the submitter can see the attempt.
	DeliveryFailed DeliveryState = "failed"
)

// AttachmentDescriptor describes a binary blob stored alongside a
// message in the object store. URL is empty when the upload failed;
// the message is persisted anyway with the metadata it has.
type AttachmentDescriptor struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Key         string `json:"key"`
	URL         string `json:"url,omitempty"`
}

// Message is one row of the append-only chat log.
type Message struct {
	// ID is assigned by the store and echoed back on list. Empty for
	// rows the store has not confirmed yet.
	ID string `json:"id,omitempty"`

	// ClientID is generated at submission time and used to de-duplicate
	// an optimistic local copy against the polled authoritative copy.
	ClientID string `json:"client_id,omitempty"`

	Author     string                `json:"user"`
	Body       string                `json:"message"`
	Attachment *AttachmentDescriptor `json:"attachment,omitempty"`
	Geo        *geo.Record           `json:"geo,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`

	// Delivery is local bookkeeping only.
	Delivery DeliveryState `json:"-"`
}

// Validate checks the submission invariant: a non-blank author and at
// least one of body text or an attachment. Called before any I/O so an
// invalid submission has no side effects.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Author) == "" {
		return ErrMissingAuthor
	}
	if m.Body == "" && m.Attachment == nil {
		return ErrEmptySubmission
	}
	return nil
}

// SameAs reports whether other is the same logical message, preferring
// the store-assigned ID and falling back to the client-generated one
// for stores that do not echo ids.
func (m *Message) SameAs(other *Message) bool {
	if m.ID != "" && other.ID != "" {
		return m.ID == other.ID
	}
	if m.ClientID != "" && other.ClientID != "" {
		return m.ClientID == other.ClientID
	}
	return m.Author == other.Author && m.Body == other.Body && m.CreatedAt.Equal(other.CreatedAt)
}

// VisitEvent records one page visit with the geo data available at the
// time. At most one is written per session.
type VisitEvent struct {
	CreatedAt time.Time   `json:"created_at"`
	Geo       *geo.Record `json:"geo"`
}
