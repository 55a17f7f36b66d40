package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/shoebox-app/shoebox/internal/store"
)

// Options configures the pre-flight filter for one session. Supplied at
// session start and immutable for the session's lifetime.
type Options struct {
	SkipSmall       bool
	MinSizeKB       int
	SkipScreenshots bool
	SkipExisting    bool
}

// Decision is the outcome of classifying one candidate.
type Decision string

const (
	DecisionAccept         Decision = "accept"
	DecisionSkipSmall      Decision = "skip_small"
	DecisionSkipScreenshot Decision = "skip_screenshot"
	DecisionSkipDuplicate  Decision = "skip_duplicate"
)

// DuplicateIndex answers whether a record with the given fingerprint already
// exists in a user scope. Read-only.
type DuplicateIndex interface {
	QueryByFingerprint(ctx context.Context, scope, fingerprint string) (*store.PhotoRecord, error)
}

// Classification is a classify result. Fingerprint is set whenever the
// duplicate check ran, so callers can reuse it instead of hashing twice.
type Classification struct {
	Decision    Decision
	Fingerprint string
	Existing    *store.PhotoRecord
}

// Filter classifies candidates ahead of upload. The same Classify call backs
// both the dry-run scan pass and the live per-file gate, so the two cannot
// diverge.
type Filter struct {
	index DuplicateIndex
	scope string
}

// NewFilter creates a Filter checking duplicates within scope.
func NewFilter(index DuplicateIndex, scope string) *Filter {
	return &Filter{index: index, scope: scope}
}

var screenshotPatterns = []string{"screenshot", "screen shot", "screen_shot"}

// looksLikeScreenshot applies the case-insensitive filename heuristics.
func looksLikeScreenshot(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range screenshotPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Classify runs the pre-flight checks in order, cheapest first; the first
// match wins. The duplicate check hashes the candidate's bytes, so it only
// runs when enabled.
func (f *Filter) Classify(ctx context.Context, cand Candidate, opts Options) (Classification, error) {
	if opts.SkipSmall && cand.Size < int64(opts.MinSizeKB)*1024 {
		return Classification{Decision: DecisionSkipSmall}, nil
	}
	if opts.SkipScreenshots && looksLikeScreenshot(cand.Name) {
		return Classification{Decision: DecisionSkipScreenshot}, nil
	}
	if !opts.SkipExisting {
		return Classification{Decision: DecisionAccept}, nil
	}

	fp, err := FingerprintFile(cand.Path)
	if err != nil {
		return Classification{}, fmt.Errorf("fingerprint %s: %w", cand.Name, err)
	}
	existing, err := f.index.QueryByFingerprint(ctx, f.scope, fp)
	if err != nil {
		return Classification{Fingerprint: fp}, fmt.Errorf("duplicate lookup %s: %w", cand.Name, err)
	}
	if existing != nil {
		return Classification{Decision: DecisionSkipDuplicate, Fingerprint: fp, Existing: existing}, nil
	}
	return Classification{Decision: DecisionAccept, Fingerprint: fp}, nil
}
