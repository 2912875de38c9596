package api

import (
	"net/http"

	"github.com/ashureev/myaa/internal/pipeline"
)

// Dump lists every live session and its state. It is only served when debug
// mode is enabled; ?format=text returns the truncated plain-text rendering.
func (h *Handler) Dump(w http.ResponseWriter, r *http.Request) {
	if !h.debug {
		Error(w, http.StatusForbidden, "debug mode is disabled")
		return
	}

	sessions := pipeline.Dump(h.cache)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(pipeline.FormatDump(sessions)))
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}
