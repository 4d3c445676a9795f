package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	provider StatsProvider
	logger   *slog.Logger
}

// NewHandlers creates a handlers instance.
func NewHandlers(provider StatsProvider, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		logger:   logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a simple liveness response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleStats returns the current bot state snapshot.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.provider.Stats()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.Error("failed to encode stats", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
