package ingest

import (
	"sync"
	"time"
)

// Tier is the quality bucket assigned to a successfully ingested photo.
type Tier string

const (
	TierTop     Tier = "top"
	TierHigh    Tier = "high"
	TierArchive Tier = "archive"
)

// FileError pairs a filename with a human-readable failure cause.
type FileError struct {
	Filename string `json:"filename"`
	Message  string `json:"message"`
}

// Snapshot is a consistent copy of a session's statistics at one instant.
// Counters only ever advance; successful + failed + skipped == processed.
type Snapshot struct {
	Total       int         `json:"total"`
	Processed   int         `json:"processed"`
	Successful  int         `json:"successful"`
	Failed      int         `json:"failed"`
	Skipped     int         `json:"skipped"`
	TopTier     int         `json:"top_tier"`
	HighTier    int         `json:"high_tier"`
	ArchiveTier int         `json:"archive_tier"`
	CurrentFile string      `json:"current_file"`
	StartedAt   time.Time   `json:"started_at"`
	Errors      []FileError `json:"errors"`
}

// Stats holds the live counters for one session. Only the session's own
// processing loop mutates them; observers read snapshots. A mutex rather
// than per-field atomics keeps the counters and the ordered error list
// mutually consistent when files inside a batch finish near-simultaneously.
type Stats struct {
	mu      sync.Mutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

func newStats(total int) *Stats {
	return &Stats{
		snap: Snapshot{Total: total, StartedAt: time.Now()},
		subs: make(map[int]chan Snapshot),
	}
}

// SetCurrent records the file currently in flight.
func (s *Stats) SetCurrent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.CurrentFile = name
	s.publishLocked()
}

// Skip records a classification-level skip.
func (s *Stats) Skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Processed++
	s.snap.Skipped++
	s.publishLocked()
}

// Success records a successful ingest and increments the matching tier
// counter.
func (s *Stats) Success(tier Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Processed++
	s.snap.Successful++
	switch tier {
	case TierTop:
		s.snap.TopTier++
	case TierHigh:
		s.snap.HighTier++
	default:
		s.snap.ArchiveTier++
	}
	s.publishLocked()
}

// Fail records a fatal-per-file failure with its human-readable cause.
func (s *Stats) Fail(filename, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Processed++
	s.snap.Failed++
	s.snap.Errors = append(s.snap.Errors, FileError{Filename: filename, Message: message})
	s.publishLocked()
}

// Snapshot returns a consistent copy of the current statistics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Stats) copyLocked() Snapshot {
	snap := s.snap
	snap.Errors = append([]FileError(nil), s.snap.Errors...)
	return snap
}

// Subscribe attaches an observer and returns its id and channel. The current
// snapshot is delivered immediately, so a freshly attached observer never
// starts blank. The session keeps running with zero subscribers.
func (s *Stats) Subscribe() (int, <-chan Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 16)
	s.subs[id] = ch
	ch <- s.copyLocked()
	return id, ch
}

// Unsubscribe detaches an observer. Its channel is closed; detaching does
// not affect the running session.
func (s *Stats) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// publishLocked fans the current snapshot out to all subscribers. Slow
// observers drop intermediate snapshots rather than stall the pipeline.
func (s *Stats) publishLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.copyLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
