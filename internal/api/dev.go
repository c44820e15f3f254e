package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/identity"
	"github.com/go-chi/chi/v5"
)

// SetIntentRequest is the body of POST /dev/intent/{sessionID}.
type SetIntentRequest struct {
	ThresholdCrossed bool              `json:"thresholdCrossed"`
	IntentType       domain.IntentType `json:"intentType"`
	Confidence       float64           `json:"confidence"`
}

// RegisterDevRoutes registers the routes that stand in for the scorer.
func (h *Handler) RegisterDevRoutes(r chi.Router) {
	r.Post("/dev/intent/{sessionID}", h.SetIntent)
}

// SetIntent stores the intent status the next status poll will report.
func (h *Handler) SetIntent(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !identity.IsValidSessionID(sessionID) {
		Error(w, http.StatusBadRequest, "invalid sessionId")
		return
	}
	var req SetIntentRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	status := domain.IntentStatus{
		ThresholdCrossed: req.ThresholdCrossed,
		IntentType:       req.IntentType,
		Confidence:       req.Confidence,
	}.Normalize()
	if err := h.repo.SetIntent(r.Context(), sessionID, status); err != nil {
		h.logger.Error("Failed to set intent", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to set intent")
		return
	}

	h.logger.Info("Intent set", "session_id", sessionID,
		"threshold_crossed", status.ThresholdCrossed,
		"intent_type", status.IntentType,
		"confidence", status.Confidence)
	JSON(w, http.StatusOK, status)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	pinger  interface{ Ping(ctx context.Context) error }
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(pinger interface{ Ping(ctx context.Context) error }) *HealthHandler {
	return &HealthHandler{pinger: pinger, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.pinger.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
