package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shoebox-app/shoebox/internal/media"
)

// dirQueue is an unbounded, concurrency-safe queue of directory paths.
// It tracks a pending counter so that Collect knows when all work is done.
//
// Termination protocol:
//   - Push increments pending BEFORE enqueuing (caller must own the increment).
//   - Done decrements pending AFTER all children of a directory have been
//     pushed. When pending reaches 0, Done closes the queue and broadcasts.
type dirQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []string
	head    int
	pending atomic.Int64
	closed  bool
}

func newDirQueue() *dirQueue {
	q := &dirQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *dirQueue) Push(dir string) {
	q.mu.Lock()
	q.items = append(q.items, dir)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
// Returns ("", false) when the queue is closed and empty.
func (q *dirQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head >= len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head >= len(q.items) {
		return "", false
	}
	item := q.items[q.head]
	q.items[q.head] = ""
	q.head++
	return item, true
}

// Done must be called once per directory after all its child-directories
// have been pushed. Decrements pending; if pending reaches 0, closes the
// queue.
func (q *dirQueue) Done() {
	if q.pending.Add(-1) == 0 {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

// Collect traverses roots with numWorkers goroutines and returns every
// ingestible regular file as a Candidate. The result is sorted by path so a
// folder always yields the same selection order; the session processes
// candidates in this order at batch granularity.
func Collect(ctx context.Context, roots []string, numWorkers int) ([]Candidate, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}

	q := newDirQueue()
	for _, root := range roots {
		q.pending.Add(1)
		q.Push(root)
	}

	var (
		mu         sync.Mutex
		candidates []Candidate
	)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collectWorker(ctx, q, &mu, &candidates)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })
	return candidates, nil
}

// collectWorker pops directories from q, reads their entries, enqueues
// sub-directories (incrementing pending first), appends ingestible files to
// the shared slice, then calls q.Done().
func collectWorker(ctx context.Context, q *dirQueue, mu *sync.Mutex, out *[]Candidate) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dir, ok := q.Pop()
		if !ok {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Warn("intake: read dir", "dir", dir, "error", err)
			q.Done()
			continue
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())

			if entry.IsDir() {
				// Increment BEFORE pushing so pending is never zero prematurely.
				q.pending.Add(1)
				q.Push(path)
				continue
			}
			if entry.Type()&fs.ModeSymlink != 0 || !entry.Type().IsRegular() {
				continue
			}
			if !media.Ingestible(entry.Name()) {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				slog.Warn("intake: stat", "path", path, "error", err)
				continue
			}

			mu.Lock()
			*out = append(*out, Candidate{
				Path: path,
				Name: entry.Name(),
				Size: info.Size(),
				MIME: media.ContentType(entry.Name()),
			})
			mu.Unlock()
		}

		q.Done()
	}
}
