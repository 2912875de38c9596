package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":   "healthy",
		"checks":   checks,
		"states":   h.cache.Len(),
		"chats":    h.conns.Count(),
		"provider": h.provider.GetStats(),
	}
	statusCode := http.StatusOK

	if err := h.journal.Ping(ctx); err != nil {
		slog.Error("Journal health check failed", "error", err)
		status["status"] = "degraded"
		checks["journal"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["journal"] = "ok"
	}

	if err := h.provider.Ping(ctx); err != nil {
		slog.Warn("Provider health check failed", "provider", h.provider.Name(), "error", err)
		status["status"] = "degraded"
		checks["provider"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["provider"] = "ok"
	}

	JSON(w, statusCode, status)
}
