package ingest

import (
	"context"
	"testing"
)

func allOptions() Options {
	return Options{SkipSmall: true, MinSizeKB: 1, SkipScreenshots: true, SkipExisting: true}
}

// TestClassifyOrdering verifies checks run cheapest-first with first match
// winning: a tiny screenshot is SkipSmall, not SkipScreenshot.
func TestClassifyOrdering(t *testing.T) {
	dir := t.TempDir()
	f := NewFilter(newFakeStore(), "u1")

	tiny := writeCandidate(t, dir, "Screenshot 2024-01-01.jpg", []byte("x"))
	cls, err := f.Classify(context.Background(), tiny, allOptions())
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if cls.Decision != DecisionSkipSmall {
		t.Errorf("tiny screenshot: got %s, want %s", cls.Decision, DecisionSkipSmall)
	}
}

func TestClassifyScreenshotHeuristics(t *testing.T) {
	dir := t.TempDir()
	f := NewFilter(newFakeStore(), "u1")
	opts := Options{SkipScreenshots: true}

	padding := make([]byte, 4096)
	cases := []struct {
		name string
		want Decision
	}{
		{"Screenshot 2024-03-01 at 10.00.00.png", DecisionSkipScreenshot},
		{"my Screen Shot.jpg", DecisionSkipScreenshot},
		{"SCREEN_SHOT_001.jpg", DecisionSkipScreenshot},
		{"sunset.jpg", DecisionAccept},
	}
	for _, tc := range cases {
		cand := writeCandidate(t, dir, tc.name, padding)
		cls, err := f.Classify(context.Background(), cand, opts)
		if err != nil {
			t.Fatalf("classify %q: %v", tc.name, err)
		}
		if cls.Decision != tc.want {
			t.Errorf("%q: got %s, want %s", tc.name, cls.Decision, tc.want)
		}
	}
}

// TestClassifyDuplicateByContent verifies dedup identity is content, not
// filename: same bytes under a new name is a duplicate, same name with new
// bytes is not.
func TestClassifyDuplicateByContent(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	f := NewFilter(fs, "u1")
	opts := Options{SkipExisting: true}

	original := make([]byte, 8192)
	copy(original, "original pixels")
	existing := writeCandidate(t, dir, "existing.jpg", original)
	fp, err := FingerprintFile(existing.Path)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	fs.seed("u1", fp)

	sameBytes := writeCandidate(t, dir, "renamed_copy.jpg", original)
	cls, err := f.Classify(context.Background(), sameBytes, opts)
	if err != nil {
		t.Fatalf("classify same bytes: %v", err)
	}
	if cls.Decision != DecisionSkipDuplicate {
		t.Errorf("same bytes, new name: got %s, want %s", cls.Decision, DecisionSkipDuplicate)
	}
	if cls.Existing == nil {
		t.Error("duplicate classification should carry the existing record")
	}

	other := make([]byte, 8192)
	copy(other, "different pixels")
	sub := t.TempDir()
	sameName := writeCandidate(t, sub, "existing.jpg", other)
	cls, err = f.Classify(context.Background(), sameName, opts)
	if err != nil {
		t.Fatalf("classify same name: %v", err)
	}
	if cls.Decision != DecisionAccept {
		t.Errorf("same name, new bytes: got %s, want %s", cls.Decision, DecisionAccept)
	}
	if cls.Fingerprint == "" {
		t.Error("accept with SkipExisting should carry the computed fingerprint")
	}

	// No duplicate check at all when the toggle is off.
	cls, err = f.Classify(context.Background(), sameBytes, Options{})
	if err != nil {
		t.Fatalf("classify without skipExisting: %v", err)
	}
	if cls.Decision != DecisionAccept || cls.Fingerprint != "" {
		t.Errorf("skipExisting off: got %s (fp=%q), want accept with no fingerprint",
			cls.Decision, cls.Fingerprint)
	}
}
