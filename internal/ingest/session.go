package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/shoebox-app/shoebox/internal/analyzer"
	"github.com/shoebox-app/shoebox/internal/media"
	"github.com/shoebox-app/shoebox/internal/metrics"
	"github.com/shoebox-app/shoebox/internal/store"
)

// State is the lifecycle state of an ingestion session.
type State string

const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StateScanned   State = "scanned"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCancelled State = "cancelled"
	StateComplete  State = "complete"
	// StateFailed is reached only through session-level quota exhaustion;
	// per-file failures never end a session.
	StateFailed State = "failed"
)

// ErrCancelled is returned by Run when the session was cancelled
// cooperatively at a batch boundary.
var ErrCancelled = errors.New("ingestion session cancelled")

// Analyzer scores image bytes remotely. Failure kinds are the sentinel
// errors of the analyzer package.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte, filename string) (analyzer.Result, error)
}

// RecordStore is the persistence collaborator the session writes through.
type RecordStore interface {
	DuplicateIndex
	PutBlob(ctx context.Context, scope string, data []byte, ext string) (string, error)
	InsertRecord(ctx context.Context, rec *store.PhotoRecord) error
}

// Config tunes a session's batch pipeline.
type Config struct {
	BatchSize         int
	BatchDelay        time.Duration
	MaxAttempts       int
	RetryBase         time.Duration
	RateLimitCooldown time.Duration
	MaxDimension      int
	JPEGQuality       int
	ThumbWidth        int
	ThumbHeight       int
	TopThreshold      float64
	HighThreshold     float64
	CostPerImage      float64
	SecondsPerBatch   float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         10,
		BatchDelay:        500 * time.Millisecond,
		MaxAttempts:       3,
		RetryBase:         2 * time.Second,
		RateLimitCooldown: 60 * time.Second,
		MaxDimension:      2048,
		JPEGQuality:       80,
		ThumbWidth:        512,
		ThumbHeight:       512,
		TopThreshold:      8.0,
		HighThreshold:     6.0,
		CostPerImage:      0.0025,
		SecondsPerBatch:   4.0,
	}
}

// Session drives one committed candidate set through the pipeline: fixed-size
// batches with intra-batch concurrency, a pacing delay between batches, and
// pause/cancel observed only at batch boundaries. Its lifetime is decoupled
// from any observer; minimising the UI just detaches a stats subscriber.
type Session struct {
	scope      string
	candidates []Candidate
	opts       Options
	cfg        Config
	filter     *Filter
	store      RecordStore
	analyzer   Analyzer
	stats      *Stats

	// onError, when set, is invoked for every fatal-per-file failure so the
	// owner can persist it.
	onError func(filename, message string)

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	paused    bool
	cancelled bool
	cursor    int
	quotaErr  error
}

// NewSession creates a Session in Idle state. opts and cfg are fixed for the
// session's lifetime.
func NewSession(scope string, candidates []Candidate, opts Options, cfg Config, rs RecordStore, an Analyzer) *Session {
	s := &Session{
		scope:      scope,
		candidates: candidates,
		opts:       opts,
		cfg:        cfg,
		filter:     NewFilter(rs, scope),
		store:      rs,
		analyzer:   an,
		stats:      newStats(len(candidates)),
		state:      StateIdle,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Stats returns the session's live statistics.
func (s *Session) Stats() *Stats { return s.stats }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Scan produces the dry-run report for this session's candidate set.
// Side-effect-free and re-runnable from Scanned.
func (s *Session) Scan(ctx context.Context) (Report, error) {
	s.setState(StateScanning)
	rep, err := Scan(ctx, s.filter, s.candidates, s.opts, Estimates{
		CostPerImage:    s.cfg.CostPerImage,
		SecondsPerBatch: s.cfg.SecondsPerBatch,
		BatchSize:       s.cfg.BatchSize,
	})
	if err != nil {
		s.setState(StateIdle)
		return Report{}, err
	}
	s.setState(StateScanned)
	return rep, nil
}

// Pause asks the scheduler to stop pulling new batches once the in-flight
// batch finishes. Completed statistics are retained.
func (s *Session) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts a paused session. Candidates that already reached a
// terminal outcome stay excluded from the remaining queue.
func (s *Session) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Cancel requests cooperative cancellation: the in-flight batch finishes its
// already-started per-file operations, no new batch starts, and statistics
// up to that point are preserved.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Run drives the batch loop until the queue is exhausted, the session is
// cancelled, or quota runs out. ctx is the hard abort (process shutdown);
// cooperative Cancel is checked only at batch boundaries so started files
// always run to completion.
func (s *Session) Run(ctx context.Context) error {
	// Wake the batch-boundary wait if the process is shutting down.
	go func() {
		<-ctx.Done()
		s.cond.Broadcast()
	}()

	s.setState(StateRunning)
	for {
		if !s.awaitRunnable(ctx) {
			return ErrCancelled
		}

		batch := s.nextBatch()
		if len(batch) == 0 {
			s.setState(StateComplete)
			return nil
		}

		s.runBatch(ctx, batch)
		s.advance(len(batch))

		// Quota exhaustion is a session-level condition: the batch that hit
		// it has drained, further processing is pointless.
		if err := s.quota(); err != nil {
			s.setState(StateFailed)
			return err
		}

		if s.remaining() == 0 {
			s.setState(StateComplete)
			return nil
		}

		// Pacing only — smooths load on the analyzer and storage backend.
		select {
		case <-time.After(s.cfg.BatchDelay):
		case <-ctx.Done():
		}
	}
}

// awaitRunnable blocks while paused and reports false when the session must
// stop. Called only at batch boundaries.
func (s *Session) awaitRunnable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.paused && !s.cancelled && ctx.Err() == nil {
		s.state = StatePaused
		s.cond.Wait()
	}
	if s.cancelled || ctx.Err() != nil {
		s.state = StateCancelled
		return false
	}
	s.state = StateRunning
	return true
}

// nextBatch returns the next fixed-size slice of unprocessed candidates.
func (s *Session) nextBatch() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.cursor + s.cfg.BatchSize
	if end > len(s.candidates) {
		end = len(s.candidates)
	}
	return s.candidates[s.cursor:end]
}

func (s *Session) advance(n int) {
	s.mu.Lock()
	s.cursor += n
	s.mu.Unlock()
}

func (s *Session) remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candidates) - s.cursor
}

func (s *Session) setQuota(err error) {
	s.mu.Lock()
	if s.quotaErr == nil {
		s.quotaErr = err
	}
	s.mu.Unlock()
}

func (s *Session) quota() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotaErr
}

// runBatch processes every candidate in the batch concurrently and returns
// once each has reached a terminal per-file outcome. Per-file failures are
// recorded in statistics, never returned.
func (s *Session) runBatch(ctx context.Context, batch []Candidate) {
	var g errgroup.Group
	for _, cand := range batch {
		cand := cand
		g.Go(func() error {
			s.processCandidate(ctx, cand)
			return nil
		})
	}
	_ = g.Wait()
}

// processCandidate runs the per-file pipeline: filter gate, normalisation,
// fingerprint, authoritative duplicate check, compression, retried analyzer
// call, persistence. Every exit records exactly one terminal outcome.
func (s *Session) processCandidate(ctx context.Context, cand Candidate) {
	s.stats.SetCurrent(cand.Name)

	cls, err := s.filter.Classify(ctx, cand, s.opts)
	if err != nil {
		s.fail(cand, err)
		return
	}
	if cls.Decision != DecisionAccept {
		slog.Debug("candidate skipped", "file", cand.Name, "reason", string(cls.Decision))
		s.stats.Skip()
		metrics.FileProcessed("skipped")
		return
	}

	data, err := os.ReadFile(cand.Path)
	if err != nil {
		s.fail(cand, err)
		return
	}

	img, err := media.Normalize(media.Image{Data: data, Name: cand.Name, MIME: cand.MIME}, s.cfg.JPEGQuality)
	if err != nil {
		s.fail(cand, err)
		return
	}

	// Identity is the original byte content, not the normalised encoding.
	fp := cls.Fingerprint
	if fp == "" {
		fp = FingerprintBytes(data)
	}

	// The scan-time duplicate answer may be stale (another session may have
	// ingested in between); this lookup is authoritative.
	if s.opts.SkipExisting {
		existing, err := s.store.QueryByFingerprint(ctx, s.scope, fp)
		if err != nil {
			s.fail(cand, err)
			return
		}
		if existing != nil {
			s.stats.Skip()
			metrics.FileProcessed("skipped")
			return
		}
	}

	img = media.Recompress(img, s.cfg.MaxDimension, s.cfg.JPEGQuality)

	res, err := s.analyze(ctx, img.Data, cand.Name)
	if err != nil {
		if errors.Is(err, analyzer.ErrQuotaExceeded) {
			s.setQuota(err)
		}
		s.fail(cand, err)
		return
	}

	meta := media.ExtractMeta(data)

	blobLoc, err := s.store.PutBlob(ctx, s.scope, img.Data, filepath.Ext(img.Name))
	if err != nil {
		s.fail(cand, err)
		return
	}
	var thumbLoc string
	if thumb, terr := media.Thumbnail(img, s.cfg.ThumbWidth, s.cfg.ThumbHeight); terr == nil && thumb != nil {
		if loc, perr := s.store.PutBlob(ctx, s.scope, thumb, ".jpg"); perr == nil {
			thumbLoc = loc
		}
	}

	tier := s.tierFor(res.Overall)
	rec := &store.PhotoRecord{
		Scope:        s.scope,
		Fingerprint:  fp,
		BlobLocator:  blobLoc,
		ThumbLocator: thumbLoc,
		Filename:     cand.Name,
		Width:        meta.Width,
		Height:       meta.Height,
		Orientation:  meta.Orientation,
		TakenAt:      meta.TakenAt,
		OverallScore: res.Overall,
		Scores:       res.Scores,
		Description:  res.Description,
		Tier:         string(tier),
	}
	if err := s.store.InsertRecord(ctx, rec); err != nil {
		s.fail(cand, err)
		return
	}

	s.stats.Success(tier)
	metrics.FileProcessed("success")
}

// analyze wraps the analyzer call in the bounded exponential retry schedule,
// with one specialisation: a rate-limit signal gets a single long cooldown
// and one extra attempt outside the schedule, because rate limits are
// time-bounded rather than load-bounded. Quota exhaustion is never retried.
func (s *Session) analyze(ctx context.Context, data []byte, filename string) (analyzer.Result, error) {
	var res analyzer.Result
	attempt := 0
	err := WithRetry(ctx, s.cfg.MaxAttempts, s.cfg.RetryBase, func(ctx context.Context) error {
		if attempt++; attempt > 1 {
			metrics.AnalyzerRetry()
		}
		r, err := s.analyzer.Analyze(ctx, data, filename)
		if err != nil {
			if errors.Is(err, analyzer.ErrQuotaExceeded) || errors.Is(err, analyzer.ErrRateLimited) {
				return err // leave the schedule; handled below
			}
			return retry.RetryableError(err)
		}
		res = r
		return nil
	})

	if errors.Is(err, analyzer.ErrRateLimited) {
		slog.Info("analyzer rate limited, cooling down",
			"file", filename, "cooldown", s.cfg.RateLimitCooldown)
		select {
		case <-time.After(s.cfg.RateLimitCooldown):
		case <-ctx.Done():
			return res, ctx.Err()
		}
		return s.analyzer.Analyze(ctx, data, filename)
	}
	return res, err
}

// tierFor maps an overall analyzer score onto a quality tier using the
// configured thresholds.
func (s *Session) tierFor(overall float64) Tier {
	switch {
	case overall >= s.cfg.TopThreshold:
		return TierTop
	case overall >= s.cfg.HighThreshold:
		return TierHigh
	default:
		return TierArchive
	}
}

func (s *Session) fail(cand Candidate, err error) {
	slog.Warn("candidate failed", "file", cand.Name, "error", err)
	s.stats.Fail(cand.Name, err.Error())
	metrics.FileProcessed("failed")
	if s.onError != nil {
		s.onError(cand.Name, err.Error())
	}
}
