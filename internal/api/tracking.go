package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/intent-sensor/internal/client"
	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/identity"
	"github.com/go-chi/chi/v5"
)

var validSignalTypes = map[domain.SignalType]bool{
	domain.SignalScroll:     true,
	domain.SignalTimeOnPage: true,
	domain.SignalClick:      true,
}

// RegisterTrackingRoutes registers the tracking endpoints.
func (h *Handler) RegisterTrackingRoutes(r chi.Router) {
	r.Route("/tracking", func(r chi.Router) {
		r.Post("/init", h.InitSession)
		r.Post("/signal", h.RecordSignal)
		r.Get("/status/{sessionID}", h.Status)
	})
}

// InitSession registers a session for a page load.
func (h *Handler) InitSession(w http.ResponseWriter, r *http.Request) {
	var req client.InitRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !identity.IsValidSessionID(req.SessionID) {
		Error(w, http.StatusBadRequest, "invalid sessionId")
		return
	}
	if req.PageType == "" {
		req.PageType = domain.PageOther
	}

	if err := h.repo.UpsertSession(r.Context(), req.SessionID, req.PageType, h.parseTimestamp(req.Timestamp)); err != nil {
		h.logger.Error("Failed to init session", "error", err, "session_id", req.SessionID)
		Error(w, http.StatusInternalServerError, "failed to init session")
		return
	}

	h.logger.Info("Session initialized", "session_id", req.SessionID, "page_type", req.PageType)
	JSON(w, http.StatusOK, client.Ack{Status: "ok"})
}

// RecordSignal stores one behavioral signal.
func (h *Handler) RecordSignal(w http.ResponseWriter, r *http.Request) {
	var req client.SignalRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !identity.IsValidSessionID(req.SessionID) {
		Error(w, http.StatusBadRequest, "invalid sessionId")
		return
	}
	if !validSignalTypes[req.SignalType] {
		Error(w, http.StatusBadRequest, "invalid signalType")
		return
	}

	sig := domain.Signal{
		SessionID: req.SessionID,
		Type:      req.SignalType,
		Data:      req.Data,
		PageType:  req.PageType,
		Timestamp: h.parseTimestamp(req.Timestamp),
	}
	if err := h.repo.RecordSignal(r.Context(), sig); err != nil {
		h.logger.Error("Failed to record signal", "error", err, "session_id", req.SessionID)
		Error(w, http.StatusInternalServerError, "failed to record signal")
		return
	}

	h.logger.Debug("Signal recorded", "session_id", req.SessionID, "signal_type", req.SignalType)
	JSON(w, http.StatusOK, client.Ack{Status: "ok"})
}

// Status returns the current intent status of a session. Unknown sessions
// report no intent.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !identity.IsValidSessionID(sessionID) {
		Error(w, http.StatusBadRequest, "invalid sessionId")
		return
	}

	sess, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to load session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	var status domain.IntentStatus
	if sess != nil {
		status = sess.Status
	}
	if h.logger.Enabled(r.Context(), slog.LevelDebug) {
		h.logger.Debug("Status served", "session_id", sessionID, "threshold_crossed", status.ThresholdCrossed)
	}
	JSON(w, http.StatusOK, client.StatusResponse{
		ThresholdCrossed: status.ThresholdCrossed,
		IntentType:       status.IntentType,
		Confidence:       status.Confidence,
	})
}
