// Package bridge is the HTTP boundary between the core and the
// out-of-scope rendering surface: consent grants, pushed geolocation
// payloads, message submission and retrieval, plus health and metrics.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/viewchat/internal/message"
	"github.com/onnwee/viewchat/internal/session"
	"github.com/onnwee/viewchat/internal/syncer"
)

// maxSubmitBody caps a submission request body (attachment included).
const maxSubmitBody = 16 << 20

// ServerConfig holds configuration for the bridge server.
type ServerConfig struct {
	Loop    *syncer.Loop
	Session *session.Session
	Locator *Locator

	// Registry, when set, is exposed at /metrics.
	Registry *prometheus.Registry

	Logger *slog.Logger
}

// Server wires the bridge handlers onto a mux.
type Server struct {
	loop     *syncer.Loop
	sess     *session.Session
	locator  *Locator
	registry *prometheus.Registry
	logger   *slog.Logger
}

// NewServer creates a bridge server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Loop == nil {
		return nil, errors.New("sync loop is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Locator == nil {
		return nil, errors.New("locator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		loop:     cfg.Loop,
		sess:     cfg.Session,
		locator:  cfg.Locator,
		registry: cfg.Registry,
		logger:   logger.With(slog.String("component", "bridge")),
	}, nil
}

// Handler returns the full handler chain: RequestID -> Logging -> mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/consent", s.handleConsent)
	mux.HandleFunc("POST /api/geolocation", s.handleGeolocation)
	mux.HandleFunc("POST /api/messages", s.handleSubmit)
	mux.HandleFunc("GET /api/messages", s.handleList)

	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return RequestID(Logging(s.logger)(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, map[string]string{"status": "healthy"})
}

// handleConsent flips the session's consent gate and kicks an
// immediate refresh so the first view does not wait for the next tick.
func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	s.sess.GrantConsent()

	go func() {
		if err := s.loop.Refresh(context.Background()); err != nil {
			s.logger.Warn("refresh after consent failed", slog.String("error", err.Error()))
		}
	}()

	writeJSON(w, r.Context(), http.StatusOK, map[string]string{
		"state": string(s.loop.State()),
	})
}

// handleGeolocation accepts a pushed geolocation outcome from the
// rendering surface.
func (s *Server) handleGeolocation(w http.ResponseWriter, r *http.Request) {
	var update PositionUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&update); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "invalid geolocation payload")
		return
	}
	if update.Status == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "status is required")
		return
	}

	s.locator.Deliver(&update)
	w.WriteHeader(http.StatusNoContent)
}

// submitPayload is the submission request body. AttachmentData is
// base64 in JSON per encoding/json []byte handling.
type submitPayload struct {
	Author         string `json:"author"`
	Body           string `json:"body"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
	AttachmentData []byte `json:"attachment_data,omitempty"`
}

// submitResponse wraps the retained message and, when part of the
// pipeline failed, the warning the submitter should see. Code is set
// to ErrCodeStoreWrite when the store rejected the append so the
// rendering surface can badge the message.
type submitResponse struct {
	Message *message.Message `json:"message"`
	Warning string           `json:"warning,omitempty"`
	Code    string           `json:"code,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&payload); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "invalid submission payload")
		return
	}

	msg, err := s.loop.Submit(r.Context(), syncer.SubmitRequest{
		Author:         payload.Author,
		Body:           payload.Body,
		AttachmentName: payload.AttachmentName,
		AttachmentType: payload.AttachmentType,
		AttachmentData: payload.AttachmentData,
	})
	if msg == nil {
		// Rejected before any I/O.
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if err != nil {
		// The message is retained locally; the submitter sees it with
		// a warning rather than losing the submission.
		resp := submitResponse{Message: msg, Warning: err.Error()}
		if msg.Delivery == message.DeliveryFailed {
			resp.Code = ErrCodeStoreWrite
		}
		writeJSON(w, r.Context(), http.StatusAccepted, resp)
		return
	}

	writeJSON(w, r.Context(), http.StatusCreated, submitResponse{Message: msg})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, s.loop.Snapshot())
}
