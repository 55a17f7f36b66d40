package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shoebox-app/shoebox/internal/analyzer"
	"github.com/shoebox-app/shoebox/internal/store"
)

// fastConfig returns a Config with millisecond-scale delays for tests.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchDelay = time.Millisecond
	cfg.RetryBase = time.Millisecond
	cfg.RateLimitCooldown = time.Millisecond
	return cfg
}

// writeCandidate creates a file with the given name and content under dir
// and returns its Candidate.
func writeCandidate(tb testing.TB, dir, name string, content []byte) Candidate {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		tb.Fatalf("write %q: %v", path, err)
	}
	cand, err := CandidateFromFile(path)
	if err != nil {
		tb.Fatalf("candidate %q: %v", path, err)
	}
	return cand
}

// makeCandidates creates n distinct ~2 KB .jpg files and returns them in
// name order.
func makeCandidates(tb testing.TB, dir string, n int) []Candidate {
	tb.Helper()
	cands := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		content := []byte(fmt.Sprintf("%-2048d", i))
		cands = append(cands, writeCandidate(tb, dir, fmt.Sprintf("img%04d.jpg", i), content))
	}
	return cands
}

// fakeStore is an in-memory RecordStore safe for concurrent use.
type fakeStore struct {
	mu        sync.Mutex
	records   map[string]*store.PhotoRecord // scope+"/"+fingerprint
	blobs     int
	queryErr  error
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*store.PhotoRecord)}
}

func (f *fakeStore) key(scope, fp string) string { return scope + "/" + fp }

func (f *fakeStore) seed(scope, fp string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[f.key(scope, fp)] = &store.PhotoRecord{Scope: scope, Fingerprint: fp}
}

func (f *fakeStore) QueryByFingerprint(ctx context.Context, scope, fp string) (*store.PhotoRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.records[f.key(scope, fp)], nil
}

func (f *fakeStore) PutBlob(ctx context.Context, scope string, data []byte, ext string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs++
	return fmt.Sprintf("%s/blob-%d%s", scope, f.blobs, ext), nil
}

func (f *fakeStore) InsertRecord(ctx context.Context, rec *store.PhotoRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.records[f.key(rec.Scope, rec.Fingerprint)] = rec
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeAnalyzer scripts per-call outcomes. errs holds errors keyed by
// filename; each call pops the next error for that filename, returning
// success once the list is exhausted. onCall, when set, is invoked with the
// 1-based global call number before any other logic.
type fakeAnalyzer struct {
	mu       sync.Mutex
	errs     map[string][]error
	calls    int
	inFlight int
	peak     int
	score    float64
	onCall   func(n int)
}

func newFakeAnalyzer(score float64) *fakeAnalyzer {
	return &fakeAnalyzer{errs: map[string][]error{}, score: score}
}

func (f *fakeAnalyzer) failNext(filename string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[filename] = append(f.errs[filename], errs...)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, data []byte, filename string) (analyzer.Result, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	var next error
	if q := f.errs[filename]; len(q) > 0 {
		next = q[0]
		f.errs[filename] = q[1:]
	}
	cb := f.onCall
	f.mu.Unlock()

	if cb != nil {
		cb(n)
	}

	// Small delay so intra-batch calls overlap and peak is meaningful.
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if next != nil {
		return analyzer.Result{}, next
	}
	return analyzer.Result{
		Overall:     f.score,
		Scores:      map[string]float64{"composition": f.score},
		Description: "a photo",
	}, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAnalyzer) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// runSession runs sess.Run to completion with a timeout and returns its
// error.
func runSession(tb testing.TB, sess *Session) error {
	tb.Helper()
	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		tb.Fatal("session did not finish in time")
		return nil
	}
}
