package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shoebox-app/shoebox/internal/analyzer"
	"github.com/shoebox-app/shoebox/internal/metrics"
	"github.com/shoebox-app/shoebox/internal/store"
)

// ErrAlreadyRunning is returned when a session is started while one is in
// progress.
var ErrAlreadyRunning = errors.New("an ingestion session is already in progress")

// ErrNoActiveSession is returned when a lifecycle call arrives with no
// session running.
var ErrNoActiveSession = errors.New("no ingestion session is currently running")

// ActiveSession holds live information about the running session.
type ActiveSession struct {
	ID        int64
	Scope     string
	StartedAt time.Time
	State     State
	Stats     Snapshot
}

// Manager enforces a single-active-session invariant and exposes the
// session lifecycle: scan, start, pause, resume, cancel and observer
// attachment. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	store    *store.Store
	analyzer Analyzer
	cfg      Config
	defaults Options

	session   *Session
	id        int64
	scope     string
	startedAt time.Time
	cancelCtx context.CancelFunc
}

// NewManager creates a Manager. defaults are the filter options applied when
// a caller supplies none.
func NewManager(st *store.Store, an Analyzer, cfg Config, defaults Options) *Manager {
	return &Manager{store: st, analyzer: an, cfg: cfg, defaults: defaults}
}

func (m *Manager) options(opts *Options) Options {
	if opts == nil {
		return m.defaults
	}
	return *opts
}

// Scan runs the side-effect-free dry-run pass over candidates and returns
// the report. Re-runnable at will; does not require (or block) an active
// session.
func (m *Manager) Scan(ctx context.Context, scope string, candidates []Candidate, opts *Options) (Report, error) {
	f := NewFilter(m.store, scope)
	return Scan(ctx, f, candidates, m.options(opts), Estimates{
		CostPerImage:    m.cfg.CostPerImage,
		SecondsPerBatch: m.cfg.SecondsPerBatch,
		BatchSize:       m.cfg.BatchSize,
	})
}

// Start commits candidates to an asynchronous ingestion session. The session
// history row is created before the goroutine begins so the ID is available
// immediately. Returns ErrAlreadyRunning if a session is in progress.
func (m *Manager) Start(parentCtx context.Context, scope string, candidates []Candidate, opts *Options) (*ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return nil, ErrAlreadyRunning
	}

	startedAt := time.Now()
	id, err := m.store.CreateSession(parentCtx, scope, startedAt, len(candidates))
	if err != nil {
		return nil, fmt.Errorf("create session record: %w", err)
	}

	sess := NewSession(scope, candidates, m.options(opts), m.cfg, m.store, m.analyzer)
	sess.onError = func(filename, message string) {
		// Background so late failures are still recorded during shutdown.
		if err := m.store.InsertSessionError(context.Background(), id, filename, message); err != nil {
			slog.Warn("persist session error", "session", id, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(parentCtx)
	m.session = sess
	m.id = id
	m.scope = scope
	m.startedAt = startedAt
	m.cancelCtx = cancel

	slog.Info("ingestion session started", "id", id, "scope", scope, "candidates", len(candidates))

	go func() {
		defer cancel()

		err := sess.Run(ctx)
		switch {
		case err == nil:
		case errors.Is(err, analyzer.ErrQuotaExceeded):
			slog.Error("ingestion session stopped: analyzer quota exhausted", "id", id, "error", err)
		case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
			slog.Info("ingestion session cancelled", "id", id)
		default:
			slog.Error("ingestion session error", "id", id, "error", err)
		}

		snap := sess.Stats().Snapshot()
		status := dbStatus(sess.State())
		if ferr := m.store.FinalizeSession(context.Background(), id, status, startedAt, store.SessionCounts{
			Total:       snap.Total,
			Processed:   snap.Processed,
			Successful:  snap.Successful,
			Failed:      snap.Failed,
			Skipped:     snap.Skipped,
			TopTier:     snap.TopTier,
			HighTier:    snap.HighTier,
			ArchiveTier: snap.ArchiveTier,
		}); ferr != nil {
			slog.Error("finalize session record", "id", id, "error", ferr)
		}
		metrics.SessionFinished(status)

		slog.Info("ingestion session finished", "id", id, "status", status,
			"successful", snap.Successful, "failed", snap.Failed, "skipped", snap.Skipped)

		m.mu.Lock()
		m.session = nil
		m.cancelCtx = nil
		m.mu.Unlock()
	}()

	return &ActiveSession{
		ID:        id,
		Scope:     scope,
		StartedAt: startedAt,
		State:     StateRunning,
		Stats:     sess.Stats().Snapshot(),
	}, nil
}

// Pause stops the active session from pulling new batches after the
// in-flight one finishes.
func (m *Manager) Pause() error {
	sess, err := m.active()
	if err != nil {
		return err
	}
	sess.Pause()
	return nil
}

// Resume restarts a paused session.
func (m *Manager) Resume() error {
	sess, err := m.active()
	if err != nil {
		return err
	}
	sess.Resume()
	return nil
}

// Cancel requests cooperative cancellation of the active session and returns
// a snapshot of its state at the time of the request.
func (m *Manager) Cancel() (*ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNoActiveSession
	}
	m.session.Cancel()
	return m.snapshotLocked(), nil
}

// Active returns a snapshot of the running session, or nil when idle.
func (m *Manager) Active() *ActiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.snapshotLocked()
}

// Subscribe attaches a stats observer to the active session. The current
// snapshot is delivered immediately; the session keeps running when every
// observer detaches ("minimized").
func (m *Manager) Subscribe() (int, <-chan Snapshot, error) {
	sess, err := m.active()
	if err != nil {
		return 0, nil, err
	}
	id, ch := sess.Stats().Subscribe()
	return id, ch, nil
}

// Unsubscribe detaches a stats observer without affecting the session.
func (m *Manager) Unsubscribe(id int) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess != nil {
		sess.Stats().Unsubscribe(id)
	}
}

func (m *Manager) active() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNoActiveSession
	}
	return m.session, nil
}

func (m *Manager) snapshotLocked() *ActiveSession {
	return &ActiveSession{
		ID:        m.id,
		Scope:     m.scope,
		StartedAt: m.startedAt,
		State:     m.session.State(),
		Stats:     m.session.Stats().Snapshot(),
	}
}

// dbStatus maps a terminal session state onto its history-row status.
func dbStatus(st State) string {
	switch st {
	case StateComplete:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return string(st)
	}
}
