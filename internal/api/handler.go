// Package api provides the HTTP handlers of the stub intent backend. It
// implements the sensor's wire contract for local development; intent is
// set by hand through the dev routes instead of being scored.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/intent-sensor/internal/store"
	"github.com/google/uuid"
)

const maxBodyBytes = 64 << 10

// Handler serves the intent API from a repository.
type Handler struct {
	repo   store.Repository
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewHandler creates a new Handler backed by repo.
func NewHandler(repo store.Repository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:   repo,
		logger: logger.With("component", "api"),
		now:    time.Now,
		newID:  func() string { return "conv_" + uuid.NewString() },
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v, rejecting unknown trailing data.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// parseTimestamp parses an RFC 3339 timestamp, falling back to now.
func (h *Handler) parseTimestamp(ts string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t
	}
	return h.now()
}
