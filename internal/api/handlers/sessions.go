package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shoebox-app/shoebox/internal/ingest"
	"github.com/shoebox-app/shoebox/internal/store"
)

// SessionsHandler handles the ingestion-session lifecycle endpoints.
type SessionsHandler struct {
	Store         *store.Store
	Manager       *ingest.Manager
	IntakeWorkers int
}

type activeSessionBody struct {
	ID        int64           `json:"id"`
	Scope     string          `json:"scope"`
	State     string          `json:"state"`
	StartedAt string          `json:"started_at"`
	Stats     ingest.Snapshot `json:"stats"`
}

func activeBody(a *ingest.ActiveSession) activeSessionBody {
	return activeSessionBody{
		ID:        a.ID,
		Scope:     a.Scope,
		State:     string(a.State),
		StartedAt: a.StartedAt.UTC().Format(time.RFC3339),
		Stats:     a.Stats,
	}
}

// Create handles POST /api/sessions — commits a candidate set and starts
// ingesting.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req IntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if len(req.Paths) == 0 && len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "paths or files required")
		return
	}

	candidates, err := collectCandidates(r.Context(), req, h.IntakeWorkers)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INTAKE_FAILED", err.Error())
		return
	}
	if len(candidates) == 0 {
		writeError(w, http.StatusBadRequest, "NO_CANDIDATES", "no ingestible files found")
		return
	}

	// The session must outlive this request: it is owned by the manager, not
	// by the HTTP connection.
	active, err := h.Manager.Start(context.Background(), scopeOf(r), candidates, req.Options.toIngest())
	if err != nil {
		if errors.Is(err, ingest.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "SESSION_ALREADY_RUNNING", "An ingestion session is already in progress")
			return
		}
		slog.Error("sessions: start", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start session")
		return
	}
	writeJSON(w, http.StatusAccepted, activeBody(active))
}

// Active handles GET /api/sessions/active.
func (h *SessionsHandler) Active(w http.ResponseWriter, r *http.Request) {
	active := h.Manager.Active()
	if active == nil {
		writeError(w, http.StatusNotFound, "NO_ACTIVE_SESSION", "No ingestion session is currently running")
		return
	}
	writeJSON(w, http.StatusOK, activeBody(active))
}

// Pause handles POST /api/sessions/active/pause.
func (h *SessionsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, h.Manager.Pause, "paused")
}

// Resume handles POST /api/sessions/active/resume.
func (h *SessionsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, h.Manager.Resume, "running")
}

func (h *SessionsHandler) lifecycle(w http.ResponseWriter, fn func() error, state string) {
	if err := fn(); err != nil {
		if errors.Is(err, ingest.ErrNoActiveSession) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SESSION", "No ingestion session is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state})
}

// Cancel handles DELETE /api/sessions/active. Cancellation is cooperative:
// the in-flight batch finishes before the session reaches its terminal
// state.
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Cancel()
	if err != nil {
		if errors.Is(err, ingest.ErrNoActiveSession) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SESSION", "No ingestion session is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, activeBody(snap))
}

// Events handles GET /api/sessions/active/events — a server-sent-event
// stream of stats snapshots. Closing the stream detaches the observer
// ("minimize"); the session keeps running.
func (h *SessionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ch, err := h.Manager.Subscribe()
	if err != nil {
		if errors.Is(err, ingest.ErrNoActiveSession) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SESSION", "No ingestion session is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	defer h.Manager.Unsubscribe(id)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return // session finished
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// List handles GET /api/sessions — session history newest first.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	rows, err := h.Store.ListSessions(r.Context(), limit, offset)
	if err != nil {
		slog.Error("sessions list: query", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	type sessionItem struct {
		ID              int64   `json:"id"`
		Scope           string  `json:"scope"`
		StartedAt       string  `json:"started_at"`
		FinishedAt      *string `json:"finished_at"`
		Status          string  `json:"status"`
		Total           int     `json:"total"`
		Processed       int     `json:"processed"`
		Successful      int     `json:"successful"`
		Failed          int     `json:"failed"`
		Skipped         int     `json:"skipped"`
		TopTier         int     `json:"top_tier"`
		HighTier        int     `json:"high_tier"`
		ArchiveTier     int     `json:"archive_tier"`
		DurationSeconds *int64  `json:"duration_seconds"`
	}

	items := make([]sessionItem, 0, len(rows))
	for _, row := range rows {
		it := sessionItem{
			ID:              row.ID,
			Scope:           row.Scope,
			StartedAt:       row.StartedAt.UTC().Format(time.RFC3339),
			Status:          row.Status,
			Total:           row.Total,
			Processed:       row.Processed,
			Successful:      row.Successful,
			Failed:          row.Failed,
			Skipped:         row.Skipped,
			TopTier:         row.TopTier,
			HighTier:        row.HighTier,
			ArchiveTier:     row.ArchiveTier,
			DurationSeconds: row.DurationSeconds,
		}
		if row.FinishedAt != nil {
			s := row.FinishedAt.UTC().Format(time.RFC3339)
			it.FinishedAt = &s
		}
		items = append(items, it)
	}
	writeJSON(w, http.StatusOK, ListResponse[sessionItem]{Items: items, Limit: limit, Offset: offset})
}

// Errors handles GET /api/sessions/{id}/errors — the ordered per-file error
// list, available even after the session completed.
func (h *SessionsHandler) Errors(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid session id")
		return
	}
	items, err := h.Store.SessionErrors(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	type errItem struct {
		Filename string `json:"filename"`
		Message  string `json:"message"`
	}
	out := make([]errItem, 0, len(items))
	for _, it := range items {
		out = append(out, errItem{Filename: it.Filename, Message: it.Message})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
