package journal

import (
	"sync"

	"github.com/roach88/tessera/internal/store"
)

// entryQueue is a thread-safe unbounded FIFO of stamped entries.
//
// Listeners enqueue from whatever goroutine fires events; the writer
// dequeues. The signal channel lets the writer wait with a context.
type entryQueue struct {
	mu      sync.Mutex
	entries []store.JournalEntry
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newEntryQueue() *entryQueue {
	return &entryQueue{
		entries: make([]store.JournalEntry, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds e to the back. Returns false if the queue is closed.
func (q *entryQueue) Enqueue(e store.JournalEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.entries = append(q.entries, e)

	// Non-blocking: the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// DrainUpTo removes and returns at most n entries from the front.
func (q *entryQueue) DrainUpTo(n int) []store.JournalEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	if n <= 0 || n > len(q.entries) {
		n = len(q.entries)
	}
	out := make([]store.JournalEntry, n)
	copy(out, q.entries[:n])

	if n == len(q.entries) {
		q.entries = q.entries[:0]
	} else {
		clear(q.entries[:n])
		q.entries = q.entries[n:]
	}
	return out
}

// Wait returns a channel that signals when entries may be available. It
// is closed by Close.
func (q *entryQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued entries.
func (q *entryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close stops further enqueues and wakes the writer.
func (q *entryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close was called.
func (q *entryQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
