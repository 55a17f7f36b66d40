package handlers

import (
	"net/http"

	"github.com/shoebox-app/shoebox/internal/ingest"
)

// StatusHandler reports service liveness and whether a session is active.
type StatusHandler struct {
	Manager *ingest.Manager
	Version string
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": h.Version,
	}
	if active := h.Manager.Active(); active != nil {
		body["active_session"] = activeBody(active)
	}
	writeJSON(w, http.StatusOK, body)
}
