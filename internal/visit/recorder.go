// Package visit records one visit event per session, carrying whatever
// geo data is available at the time.
package visit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/viewchat/internal/geo"
	"github.com/onnwee/viewchat/internal/message"
	"github.com/onnwee/viewchat/internal/session"
)

// Appender is the slice of the store client the recorder needs.
type Appender interface {
	AppendVisit(ctx context.Context, visit *message.VisitEvent) error
}

// Acquirer is the slice of the geo aggregator the recorder needs.
type Acquirer interface {
	Acquire(ctx context.Context, wantPrecise bool) *geo.Record
}

// RecorderConfig holds configuration for the visit recorder.
type RecorderConfig struct {
	Store Appender
	Geo   Acquirer

	Logger *slog.Logger
}

// Recorder writes at most one visit event per session.
type Recorder struct {
	store  Appender
	geo    Acquirer
	logger *slog.Logger
}

// NewRecorder creates a visit recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Store == nil {
		return nil, errors.New("store appender is required")
	}
	if cfg.Geo == nil {
		return nil, errors.New("geo acquirer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  cfg.Store,
		geo:    cfg.Geo,
		logger: logger.With(slog.String("component", "visit_recorder")),
	}, nil
}

// RecordOnce records the session's visit event if it has not been
// recorded yet. The flag is set before the append and stays set even
// when the append fails: a lost visit event is reported to the
// operator, never retried.
func (r *Recorder) RecordOnce(ctx context.Context, sess *session.Session) {
	if !sess.MarkVisitLogged() {
		return
	}

	record := r.geo.Acquire(ctx, sess.ConsentGranted())
	event := &message.VisitEvent{
		CreatedAt: time.Now().UTC(),
		Geo:       record,
	}

	if err := r.store.AppendVisit(ctx, event); err != nil {
		r.logger.Warn("failed to record visit event",
			slog.String("session_id", sess.ID()),
			slog.String("error", err.Error()))
		return
	}

	r.logger.Info("visit recorded",
		slog.String("session_id", sess.ID()),
		slog.String("geo_status", string(record.Status)))
}
