package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shoebox-app/shoebox/internal/ingest"
)

// IntakeRequest names the files a scan or session should cover: directories
// walked recursively and/or explicit file paths, plus optional filter
// overrides.
type IntakeRequest struct {
	Paths   []string       `json:"paths"`
	Files   []string       `json:"files"`
	Options *FilterOptions `json:"options"`
}

// FilterOptions is the wire shape of ingest.Options.
type FilterOptions struct {
	SkipSmall       bool `json:"skip_small"`
	MinSizeKB       int  `json:"min_size_kb"`
	SkipScreenshots bool `json:"skip_screenshots"`
	SkipExisting    bool `json:"skip_existing"`
}

func (o *FilterOptions) toIngest() *ingest.Options {
	if o == nil {
		return nil
	}
	return &ingest.Options{
		SkipSmall:       o.SkipSmall,
		MinSizeKB:       o.MinSizeKB,
		SkipScreenshots: o.SkipScreenshots,
		SkipExisting:    o.SkipExisting,
	}
}

// ScanHandler serves the dry-run scan endpoint.
type ScanHandler struct {
	Manager       *ingest.Manager
	IntakeWorkers int
}

// collectCandidates resolves an IntakeRequest into an ordered candidate set.
func collectCandidates(ctx context.Context, req IntakeRequest, workers int) ([]ingest.Candidate, error) {
	var candidates []ingest.Candidate
	if len(req.Paths) > 0 {
		found, err := ingest.Collect(ctx, req.Paths, workers)
		if err != nil {
			return nil, err
		}
		candidates = found
	}
	for _, f := range req.Files {
		cand, err := ingest.CandidateFromFile(f)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// Create handles POST /api/scan — classifies the candidate set without
// mutating anything and returns the report.
func (h *ScanHandler) Create(w http.ResponseWriter, r *http.Request) {
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

	report, err := h.Manager.Scan(r.Context(), scopeOf(r), candidates, req.Options.toIngest())
	if err != nil {
		slog.Error("scan: classify", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "scan failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
