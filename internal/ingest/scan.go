package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Report is the aggregate result of a dry-run pass over a candidate set.
// Purely derived, never persisted, recomputed on demand. The duplicate
// counts are an estimate: the live per-file gate re-checks against the
// index, which is authoritative.
type Report struct {
	TotalFiles        int           `json:"total_files"`
	TotalBytes        int64         `json:"total_bytes"`
	TotalSize         string        `json:"total_size"`
	Duplicates        int           `json:"duplicates"`
	Screenshots       int           `json:"screenshots"`
	TooSmall          int           `json:"too_small"`
	Eligible          int           `json:"eligible"`
	EstimatedCost     float64       `json:"estimated_cost"`
	EstimatedDuration time.Duration `json:"estimated_duration_ns"`
}

// Estimates drives the report's cost and time projections.
type Estimates struct {
	CostPerImage    float64
	SecondsPerBatch float64
	BatchSize       int
}

// Scan classifies every candidate without mutating anything, producing the
// aggregate report. Safely re-runnable: two scans over the same set and
// options with no intervening ingestion yield identical reports.
func Scan(ctx context.Context, f *Filter, candidates []Candidate, opts Options, est Estimates) (Report, error) {
	var rep Report
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		rep.TotalFiles++
		rep.TotalBytes += cand.Size

		cls, err := f.Classify(ctx, cand, opts)
		if err != nil {
			// Unreadable files surface as per-file failures at ingest time;
			// for the estimate they count as eligible.
			slog.Warn("scan: classify failed", "file", cand.Name, "error", err)
			rep.Eligible++
			continue
		}
		switch cls.Decision {
		case DecisionSkipSmall:
			rep.TooSmall++
		case DecisionSkipScreenshot:
			rep.Screenshots++
		case DecisionSkipDuplicate:
			rep.Duplicates++
		default:
			rep.Eligible++
		}
	}

	rep.TotalSize = humanize.Bytes(uint64(rep.TotalBytes))
	if est.BatchSize > 0 && rep.Eligible > 0 {
		batches := (rep.Eligible + est.BatchSize - 1) / est.BatchSize
		rep.EstimatedDuration = time.Duration(float64(batches) * est.SecondsPerBatch * float64(time.Second))
	}
	rep.EstimatedCost = float64(rep.Eligible) * est.CostPerImage
	return rep, nil
}
