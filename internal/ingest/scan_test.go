package ingest

import (
	"context"
	"reflect"
	"testing"
)

// TestScanCounts builds a mixed candidate set and verifies the per-reason
// counts and eligibility.
func TestScanCounts(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	f := NewFilter(fs, "u1")

	big := make([]byte, 8192)
	copy(big, "eligible")
	dup := make([]byte, 8192)
	copy(dup, "already stored")

	cands := []Candidate{
		writeCandidate(t, dir, "a.jpg", big),
		writeCandidate(t, dir, "b.jpg", []byte("tiny")),
		writeCandidate(t, dir, "Screenshot_c.jpg", big),
		writeCandidate(t, dir, "d.jpg", dup),
	}

	fp, err := FingerprintFile(cands[3].Path)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	fs.seed("u1", fp)

	est := Estimates{CostPerImage: 0.01, SecondsPerBatch: 4, BatchSize: 10}
	rep, err := Scan(context.Background(), f, cands, allOptions(), est)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if rep.TotalFiles != 4 {
		t.Errorf("total files: got %d, want 4", rep.TotalFiles)
	}
	if rep.TooSmall != 1 || rep.Screenshots != 1 || rep.Duplicates != 1 || rep.Eligible != 1 {
		t.Errorf("counts: small=%d screenshots=%d dups=%d eligible=%d, want 1/1/1/1",
			rep.TooSmall, rep.Screenshots, rep.Duplicates, rep.Eligible)
	}
	if rep.EstimatedCost != 0.01 {
		t.Errorf("estimated cost: got %v, want 0.01", rep.EstimatedCost)
	}
	if rep.EstimatedDuration <= 0 {
		t.Error("estimated duration should be positive with eligible files")
	}
}

// TestScanIdempotent verifies two scans with no intervening ingestion yield
// identical reports.
func TestScanIdempotent(t *testing.T) {
	dir := t.TempDir()
	f := NewFilter(newFakeStore(), "u1")
	cands := makeCandidates(t, dir, 7)
	est := Estimates{CostPerImage: 0.0025, SecondsPerBatch: 4, BatchSize: 10}

	first, err := Scan(context.Background(), f, cands, allOptions(), est)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second, err := Scan(context.Background(), f, cands, allOptions(), est)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("scan not idempotent:\n first=%+v\nsecond=%+v", first, second)
	}
}
