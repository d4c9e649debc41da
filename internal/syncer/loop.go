// Package syncer runs the orchestrating loop: it polls the remote log
// store on a fixed cadence, wholesale-replaces the local view, and
// drives the submission pipeline (validation, geo acquisition,
// attachment upload, append, optimistic insert).
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/viewchat/internal/geo"
	"github.com/onnwee/viewchat/internal/message"
	"github.com/onnwee/viewchat/internal/objectstore"
	"github.com/onnwee/viewchat/internal/session"
)

// DefaultInterval is the poll cadence.
const DefaultInterval = 5 * time.Second

// ErrAttachmentsDisabled rejects attachment submissions when no
// uploader backend is configured; the bytes would have nowhere to go.
var ErrAttachmentsDisabled = errors.New("attachments are not enabled")

// State of the loop for one session.
type State string

const (
	// StateAwaitingConsent means the session has not granted consent
	// yet; the view is not refreshed.
	StateAwaitingConsent State = "awaiting_consent"

	// StateActive is the terminal steady state: the view refreshes on
	// every tick.
	StateActive State = "active"
)

// Store is the slice of the log-store client the loop needs.
type Store interface {
	AppendMessage(ctx context.Context, msg *message.Message) error
	ListMessages(ctx context.Context) ([]message.Message, error)
}

// Acquirer produces one geo record per acquisition.
type Acquirer interface {
	Acquire(ctx context.Context, wantPrecise bool) *geo.Record
}

// GatedAcquirer wraps an Acquirer with the session's consent gate.
// Precise lookups require consent; IP lookups are gated only when
// RequireConsentForIP is set, which makes the historical asymmetry an
// explicit operator decision.
type GatedAcquirer struct {
	Geo                 Acquirer
	Session             *session.Session
	RequireConsentForIP bool
}

// Acquire implements Acquirer.
func (g *GatedAcquirer) Acquire(ctx context.Context, wantPrecise bool) *geo.Record {
	granted := g.Session.ConsentGranted()
	if g.RequireConsentForIP && !granted {
		return &geo.Record{
			Status:     geo.StatusNotRequested,
			ServerTime: time.Now().UTC(),
		}
	}
	return g.Geo.Acquire(ctx, wantPrecise && granted)
}

// SubmitRequest is one user submission from the rendering surface.
type SubmitRequest struct {
	Author string
	Body   string

	// Attachment fields; Data nil means no attachment.
	AttachmentName string
	AttachmentType string
	AttachmentData []byte
}

// Config holds configuration for the loop.
type Config struct {
	Store    Store
	Geo      Acquirer
	Uploader objectstore.Uploader // optional; attachment submissions are rejected when nil
	Session  *session.Session

	Interval time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// Loop owns the local view. The view is replaced wholesale on every
// successful refresh, never patched, so it cannot diverge from the
// remote order. Optimistic entries live in a separate overlay until a
// poll confirms them.
type Loop struct {
	store    Store
	geo      Acquirer
	uploader objectstore.Uploader
	sess     *session.Session
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics

	mu      sync.Mutex
	view    []message.Message
	pending []message.Message
}

// NewLoop creates a sync loop.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Geo == nil {
		return nil, errors.New("geo acquirer is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		store:    cfg.Store,
		geo:      cfg.Geo,
		uploader: cfg.Uploader,
		sess:     cfg.Session,
		interval: cfg.Interval,
		logger:   logger.With(slog.String("component", "sync_loop")),
		metrics:  cfg.Metrics,
	}, nil
}

// State reports the loop state, derived from the session's consent
// gate. The transition to StateActive is monotonic.
func (l *Loop) State() State {
	if l.sess.ConsentGranted() {
		return StateActive
	}
	return StateAwaitingConsent
}

// Run ticks until the context is cancelled. Each tick refreshes the
// view when the loop is active; a failed refresh keeps the previous
// view and the next tick retries naturally.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("sync loop started",
		slog.Duration("interval", l.interval),
		slog.String("state", string(l.State())))

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("sync loop stopping")
			return ctx.Err()
		case <-ticker.C:
			if l.State() != StateActive {
				continue
			}
			if err := l.Refresh(ctx); err != nil {
				l.logger.Warn("view refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Refresh lists the remote table and wholesale-replaces the view. On
// failure the prior view is kept and the error returned; nothing
// propagates past the loop.
func (l *Loop) Refresh(ctx context.Context) error {
	start := time.Now()
	msgs, err := l.store.ListMessages(ctx)
	elapsed := time.Since(start)

	if err != nil {
		if l.metrics != nil {
			l.metrics.RecordRefresh(false, elapsed, 0)
		}
		return err
	}

	l.mu.Lock()
	l.view = msgs
	l.prunePendingLocked()
	size := len(l.view)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordRefresh(true, elapsed, size)
	}
	return nil
}

// Submit validates and runs one submission through the pipeline. An
// invalid submission is rejected before any I/O and returns a nil
// message. Otherwise the returned message is always non-nil and
// already in the local overlay; a non-nil error alongside it means the
// attachment upload or the append failed and should be surfaced as a
// warning, not treated as a dropped submission.
func (l *Loop) Submit(ctx context.Context, req SubmitRequest) (*message.Message, error) {
	msg := &message.Message{
		ClientID:  uuid.New().String(),
		Author:    req.Author,
		Body:      req.Body,
		CreatedAt: time.Now().UTC(),
	}
	if req.AttachmentData != nil {
		// Placeholder so validation sees the attachment; replaced by
		// the uploaded descriptor below.
		msg.Attachment = &message.AttachmentDescriptor{
			Name:        req.AttachmentName,
			ContentType: req.AttachmentType,
		}
	}

	if err := msg.Validate(); err != nil {
		if l.metrics != nil {
			l.metrics.RecordSubmission(StatusRejected)
		}
		return nil, err
	}
	if req.AttachmentData != nil && l.uploader == nil {
		if l.metrics != nil {
			l.metrics.RecordSubmission(StatusRejected)
		}
		return nil, ErrAttachmentsDisabled
	}

	var warnings []error

	msg.Geo = l.geo.Acquire(ctx, true)

	if req.AttachmentData != nil {
		desc, err := l.uploader.Upload(ctx, req.AttachmentData, req.AttachmentName, req.AttachmentType)
		msg.Attachment = desc
		if l.metrics != nil {
			l.metrics.RecordUpload(err == nil)
		}
		if err != nil {
			// The message is persisted anyway, with the metadata it
			// has and no URL.
			l.logger.Warn("attachment upload failed",
				slog.String("name", req.AttachmentName),
				slog.String("error", err.Error()))
			warnings = append(warnings, err)
		}
	}

	appendErr := l.store.AppendMessage(ctx, msg)
	if appendErr != nil {
		msg.Delivery = message.DeliveryFailed
		l.logger.Warn("message append failed",
			slog.String("author", msg.Author),
			slog.String("error", appendErr.Error()))
		warnings = append(warnings, appendErr)
	} else {
		msg.Delivery = message.DeliveryDelivered
	}

	l.mu.Lock()
	l.pending = append(l.pending, *msg)
	l.mu.Unlock()

	if l.metrics != nil {
		if appendErr != nil {
			l.metrics.RecordSubmission(StatusFailure)
		} else {
			l.metrics.RecordSubmission(StatusSuccess)
		}
	}

	return msg, errors.Join(warnings...)
}

// Snapshot returns a copy of the merged view: the authoritative rows
// in store order, followed by optimistic entries not yet confirmed by
// a poll.
func (l *Loop) Snapshot() []message.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]message.Message, 0, len(l.view)+len(l.pending))
	out = append(out, l.view...)
	for i := range l.pending {
		if !l.inViewLocked(&l.pending[i]) {
			out = append(out, l.pending[i])
		}
	}
	return out
}

// prunePendingLocked drops pending entries that the latest poll
// confirmed. Failed entries stay visible until the store reflects them
// or the session ends.
func (l *Loop) prunePendingLocked() {
	kept := l.pending[:0]
	for i := range l.pending {
		if !l.inViewLocked(&l.pending[i]) {
			kept = append(kept, l.pending[i])
		}
	}
	l.pending = kept
}

func (l *Loop) inViewLocked(msg *message.Message) bool {
	for i := range l.view {
		if l.view[i].SameAs(msg) {
			return true
		}
	}
	return false
}
