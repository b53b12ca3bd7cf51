package crawler

import (
	"sync"
)

// visitTracker provides thread-safe visited URL tracking to prevent revisits.
type visitTracker interface {
	MarkIfNew(url string) bool
	Len() int
}

type concurrentVisitTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{seen: make(map[string]struct{})}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
// Test and insert happen under one lock.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[url]; ok {
		return false
	}
	t.seen[url] = struct{}{}
	return true
}

// Len returns the number of distinct URLs recorded.
func (t *concurrentVisitTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// fifoFrontier is the breadth-first work queue. It is owned by the engine's
// dispatch loop and is not safe for concurrent use.
type fifoFrontier struct {
	entries []frontierEntry
	head    int
}

func (f *fifoFrontier) push(e frontierEntry) {
	f.entries = append(f.entries, e)
}

func (f *fifoFrontier) pop() (frontierEntry, bool) {
	if f.head >= len(f.entries) {
		return frontierEntry{}, false
	}
	e := f.entries[f.head]
	f.entries[f.head] = frontierEntry{}
	f.head++
	if f.head > 1024 && f.head*2 > len(f.entries) {
		f.entries = append([]frontierEntry(nil), f.entries[f.head:]...)
		f.head = 0
	}
	return e, true
}

func (f *fifoFrontier) peek() (frontierEntry, bool) {
	if f.head >= len(f.entries) {
		return frontierEntry{}, false
	}
	return f.entries[f.head], true
}

func (f *fifoFrontier) len() int {
	return len(f.entries) - f.head
}
