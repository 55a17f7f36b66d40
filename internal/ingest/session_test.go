package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shoebox-app/shoebox/internal/analyzer"
)

// TestSessionEndToEnd runs the reference scenario: 12 candidates, batch size
// 10, one pre-existing duplicate, one candidate whose analyzer call fails
// twice and succeeds on the third attempt.
func TestSessionEndToEnd(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	an := newFakeAnalyzer(7.0)

	cands := makeCandidates(t, dir, 12)

	fp, err := FingerprintFile(cands[3].Path)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	fs.seed("u1", fp)

	an.failNext(cands[7].Name, errors.New("503"), errors.New("503"))

	opts := Options{SkipExisting: true}
	sess := NewSession("u1", cands, opts, fastConfig(), fs, an)

	if err := runSession(t, sess); err != nil {
		t.Fatalf("run: %v", err)
	}

	snap := sess.Stats().Snapshot()
	if snap.Total != 12 || snap.Skipped != 1 || snap.Successful != 11 || snap.Failed != 0 {
		t.Errorf("stats: total=%d skipped=%d successful=%d failed=%d, want 12/1/11/0",
			snap.Total, snap.Skipped, snap.Successful, snap.Failed)
	}
	if snap.Processed != 12 {
		t.Errorf("processed: got %d, want 12", snap.Processed)
	}
	if sess.State() != StateComplete {
		t.Errorf("state: got %s, want %s", sess.State(), StateComplete)
	}

	// 11 accepted candidates, two extra attempts for the flaky one.
	if got := an.callCount(); got != 13 {
		t.Errorf("analyzer calls: got %d, want 13", got)
	}
	// Intra-batch concurrency never exceeds the batch size.
	if peak := an.peakConcurrency(); peak > 10 {
		t.Errorf("peak concurrency %d exceeds batch size 10", peak)
	}
	// 1 seeded + 11 ingested records.
	if got := fs.count(); got != 12 {
		t.Errorf("persisted records: got %d, want 12", got)
	}
	// All scored 7.0 with default thresholds (top 8, high 6) → high tier.
	if snap.HighTier != 11 || snap.TopTier != 0 || snap.ArchiveTier != 0 {
		t.Errorf("tiers: top=%d high=%d archive=%d, want 0/11/0",
			snap.TopTier, snap.HighTier, snap.ArchiveTier)
	}
}

// TestSessionCancelAtBatchBoundary cancels during batch 2 of 25 candidates:
// candidates 1-20 must reach a terminal outcome, 21-25 must never start.
func TestSessionCancelAtBatchBoundary(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	an := newFakeAnalyzer(7.0)

	cands := makeCandidates(t, dir, 25)
	sess := NewSession("u1", cands, Options{}, fastConfig(), fs, an)

	// First analyzer call of batch 2 is global call 11.
	an.onCall = func(n int) {
		if n == 11 {
			sess.Cancel()
		}
	}

	err := runSession(t, sess)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if sess.State() != StateCancelled {
		t.Errorf("state: got %s, want %s", sess.State(), StateCancelled)
	}

	snap := sess.Stats().Snapshot()
	if snap.Processed != 20 {
		t.Errorf("processed: got %d, want exactly 20 (batch 2 drains, batch 3 never starts)", snap.Processed)
	}
	if got := an.callCount(); got != 20 {
		t.Errorf("analyzer calls: got %d, want 20", got)
	}
	// Conservation at cancellation.
	if snap.Successful+snap.Failed+snap.Skipped != snap.Processed {
		t.Errorf("conservation violated: %d+%d+%d != %d",
			snap.Successful, snap.Failed, snap.Skipped, snap.Processed)
	}
}

// TestSessionRetryCeiling verifies an always-transiently-failing analyzer
// call is attempted exactly MaxAttempts times and yields one failed outcome.
func TestSessionRetryCeiling(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	an := newFakeAnalyzer(7.0)

	cands := makeCandidates(t, dir, 1)
	an.failNext(cands[0].Name,
		errors.New("503"), errors.New("503"), errors.New("503"), errors.New("503"))

	cfg := fastConfig()
	cfg.MaxAttempts = 3
	sess := NewSession("u1", cands, Options{}, cfg, fs, an)

	if err := runSession(t, sess); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := an.callCount(); got != 3 {
		t.Errorf("analyzer calls: got %d, want 3", got)
	}
	snap := sess.Stats().Snapshot()
	if snap.Failed != 1 || snap.Successful != 0 {
		t.Errorf("stats: failed=%d successful=%d, want 1/0", snap.Failed, snap.Successful)
	}
	if len(snap.Errors) != 1 || snap.Errors[0].Filename != cands[0].Name {
		t.Errorf("error list: got %+v, want one entry for %s", snap.Errors, cands[0].Name)
	}
}

// TestSessionRateLimitCooldown verifies a rate-limit signal triggers exactly
// one cooldown and one extra attempt, outside the exponential schedule.
func TestSessionRateLimitCooldown(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	an := newFakeAnalyzer(9.0)

	cands := makeCandidates(t, dir, 1)
	an.failNext(cands[0].Name, analyzer.ErrRateLimited)

	sess := NewSession("u1", cands, Options{}, fastConfig(), fs, an)
	if err := runSession(t, sess); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Initial call + single post-cooldown attempt; no exponential retries.
	if got := an.callCount(); got != 2 {
		t.Errorf("analyzer calls: got %d, want 2", got)
	}
	snap := sess.Stats().Snapshot()
	if snap.Successful != 1 || snap.Failed != 0 {
		t.Errorf("stats: successful=%d failed=%d, want 1/0", snap.Successful, snap.Failed)
	}
	if snap.TopTier != 1 {
		t.Errorf("top tier: got %d, want 1 (score 9.0 >= threshold 8.0)", snap.TopTier)
	}
}

// TestSessionQuotaExceeded verifies quota exhaustion drains the current
// batch, then stops the session with a distinct session-level error.
func TestSessionQuotaExceeded(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	an := newFakeAnalyzer(7.0)

	cands := makeCandidates(t, dir, 12)
	an.failNext(cands[0].Name, analyzer.ErrQuotaExceeded)

	sess := NewSession("u1", cands, Options{}, fastConfig(), fs, an)
	err := runSession(t, sess)
	if !errors.Is(err, analyzer.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if sess.State() != StateFailed {
		t.Errorf("state: got %s, want %s", sess.State(), StateFailed)
	}

	snap := sess.Stats().Snapshot()
	// The batch that hit the quota still drains; the next batch never starts.
	if snap.Processed != 10 || snap.Failed != 1 || snap.Successful != 9 {
		t.Errorf("stats: processed=%d failed=%d successful=%d, want 10/1/9",
			snap.Processed, snap.Failed, snap.Successful)
	}
}

// TestSessionPauseResume pauses after the first batch, verifies no further
// progress while paused, then resumes to completion.
func TestSessionPauseResume(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	an := newFakeAnalyzer(7.0)

	cands := makeCandidates(t, dir, 25)
	sess := NewSession("u1", cands, Options{}, fastConfig(), fs, an)
	an.onCall = func(n int) {
		if n == 1 {
			sess.Pause()
		}
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	deadline := time.After(10 * time.Second)
	for sess.State() != StatePaused {
		select {
		case <-deadline:
			t.Fatal("session never paused")
		case err := <-done:
			t.Fatalf("session finished while it should be paused: %v", err)
		case <-time.After(time.Millisecond):
		}
	}

	snap := sess.Stats().Snapshot()
	if snap.Processed != 10 {
		t.Errorf("processed while paused: got %d, want 10 (in-flight batch drains, no new batch)", snap.Processed)
	}

	sess.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run after resume: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("session did not finish after resume")
	}

	snap = sess.Stats().Snapshot()
	if snap.Processed != 25 || snap.Successful != 25 {
		t.Errorf("after resume: processed=%d successful=%d, want 25/25", snap.Processed, snap.Successful)
	}
	if sess.State() != StateComplete {
		t.Errorf("state: got %s, want %s", sess.State(), StateComplete)
	}
}

// TestSessionUnsupportedFormat verifies an unconvertible candidate fails
// without aborting the batch or session.
func TestSessionUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	an := newFakeAnalyzer(7.0)

	cands := makeCandidates(t, dir, 3)
	cands = append(cands, writeCandidate(t, dir, "weird.heic", []byte("not really an image, and not decodable")))

	sess := NewSession("u1", cands, Options{}, fastConfig(), fs, an)
	if err := runSession(t, sess); err != nil {
		t.Fatalf("run: %v", err)
	}

	snap := sess.Stats().Snapshot()
	if snap.Failed != 1 || snap.Successful != 3 {
		t.Errorf("stats: failed=%d successful=%d, want 1/3", snap.Failed, snap.Successful)
	}
	if len(snap.Errors) != 1 || snap.Errors[0].Filename != "weird.heic" {
		t.Errorf("error list: %+v", snap.Errors)
	}
}

// TestSessionObserverDetach verifies observers attach with an immediate
// snapshot and detach without affecting the session.
func TestSessionObserverDetach(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	an := newFakeAnalyzer(7.0)

	cands := makeCandidates(t, dir, 12)
	sess := NewSession("u1", cands, Options{}, fastConfig(), fs, an)

	id, ch := sess.Stats().Subscribe()
	select {
	case snap := <-ch:
		if snap.Total != 12 || snap.Processed != 0 {
			t.Errorf("initial snapshot: total=%d processed=%d, want 12/0", snap.Total, snap.Processed)
		}
	default:
		t.Fatal("subscriber did not receive the current snapshot immediately")
	}

	// Minimize: detach mid-flight; the session keeps running.
	sess.Stats().Unsubscribe(id)

	if err := runSession(t, sess); err != nil {
		t.Fatalf("run with no observers: %v", err)
	}

	// Restore: a late observer immediately sees the final state.
	id2, ch2 := sess.Stats().Subscribe()
	defer sess.Stats().Unsubscribe(id2)
	select {
	case snap := <-ch2:
		if snap.Processed != 12 {
			t.Errorf("late snapshot: processed=%d, want 12", snap.Processed)
		}
	default:
		t.Fatal("late subscriber did not receive a snapshot")
	}
}

// TestSessionScanStates walks the Idle → Scanning → Scanned → Running →
// Complete path.
func TestSessionScanStates(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeStore()
	an := newFakeAnalyzer(7.0)

	cands := makeCandidates(t, dir, 2)
	sess := NewSession("u1", cands, Options{SkipExisting: true}, fastConfig(), fs, an)

	if sess.State() != StateIdle {
		t.Fatalf("initial state: got %s, want %s", sess.State(), StateIdle)
	}
	rep, err := sess.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if sess.State() != StateScanned {
		t.Errorf("post-scan state: got %s, want %s", sess.State(), StateScanned)
	}
	if rep.Eligible != 2 {
		t.Errorf("eligible: got %d, want 2", rep.Eligible)
	}
	if err := runSession(t, sess); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sess.State() != StateComplete {
		t.Errorf("final state: got %s, want %s", sess.State(), StateComplete)
	}
}
