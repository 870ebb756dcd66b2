package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/mediverify/internal/api/middleware"
	"github.com/drfirst/mediverify/internal/domain/verification"
)

// SessionGauge exports the number of open sessions
type SessionGauge interface {
	SetActiveSessions(n int)
}

// SessionHandler drives scan sessions over HTTP
type SessionHandler struct {
	sessions *verification.Sessions
	gauge    SessionGauge
	logger   *zap.Logger
}

// NewSessionHandler creates a session handler. gauge may be nil.
func NewSessionHandler(sessions *verification.Sessions, gauge SessionGauge, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{sessions: sessions, gauge: gauge, logger: logger}
}

// Routes returns the handler routes
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Close)
	r.Post("/{id}/start", h.Start)
	r.Post("/{id}/decode", h.Decode)
	r.Post("/{id}/stop", h.Stop)
	r.Post("/{id}/reset", h.Reset)
	return r
}

// DecodeRequest carries one decoded identifier
type DecodeRequest struct {
	Identifier string              `json:"identifier"`
	Source     verification.Source `json:"source,omitempty"`
}

// DecodeResponse reports whether the decode drove the session
type DecodeResponse struct {
	Accepted bool                  `json:"accepted"`
	Session  verification.Snapshot `json:"session"`
}

// Create handles POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	h.updateGauge()
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// Close handles DELETE /sessions/{id}
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(chi.URLParam(r, "id")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.updateGauge()
	w.WriteHeader(http.StatusNoContent)
}

// Start handles POST /sessions/{id}/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap, err := s.Start()
	if errors.Is(err, verification.ErrInvalidTransition) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   "session can only start from idle",
			"session": snap,
		})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Decode handles POST /sessions/{id}/decode. Decodes outside capturing are
// dropped and reported with accepted=false rather than as errors.
func (h *SessionHandler) Decode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req DecodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = verification.SourceCamera
	}
	if req.Source != verification.SourceCamera && req.Source != verification.SourceUpload {
		jsonError(w, "source must be camera or upload", http.StatusBadRequest)
		return
	}

	snap, accepted := s.Decode(r.Context(), req.Identifier, req.Source)
	if accepted {
		h.logger.Info("scan classified",
			zap.String("session_id", snap.ID),
			zap.String("status", string(snap.Verdict.Status)),
			zap.String("source", string(req.Source)),
			zap.String("request_id", middleware.GetRequestID(r.Context())))
	}
	writeJSON(w, http.StatusOK, DecodeResponse{Accepted: accepted, Session: snap})
}

// Stop handles POST /sessions/{id}/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap, _ := s.Stop()
	writeJSON(w, http.StatusOK, snap)
}

// Reset handles POST /sessions/{id}/reset
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Reset())
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*verification.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) updateGauge() {
	if h.gauge != nil {
		h.gauge.SetActiveSessions(h.sessions.Len())
	}
}

// PruneIdle closes sessions idle longer than maxIdle and refreshes the gauge
func (h *SessionHandler) PruneIdle(maxIdle time.Duration) int {
	n := h.sessions.Prune(maxIdle)
	h.updateGauge()
	return n
}
