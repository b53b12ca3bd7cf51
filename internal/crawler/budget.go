package crawler

import "sync"

// budget tracks the running counters for one crawl. File reservations are
// taken before a fetch is dispatched so concurrent fetches can never push
// the saved-item count past MaxFiles. Byte claims are taken just before an
// item is stored, so only the last admitted item can carry the byte total
// past MaxTotalBytes.
type budget struct {
	mu            sync.Mutex
	limits        Limits
	files         int
	filesReserved int
	pages         int
	pagesReserved int
	bytes         int64
	bytesClaimed  int64
}

func newBudget(limits Limits) *budget {
	return &budget{limits: limits}
}

// exhausted reports whether either global cap has been reached.
func (b *budget) exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exhaustedLocked()
}

func (b *budget) exhaustedLocked() bool {
	if b.limits.MaxFiles > 0 && b.files >= b.limits.MaxFiles {
		return true
	}
	if b.limits.MaxTotalBytes > 0 && b.bytes >= b.limits.MaxTotalBytes {
		return true
	}
	return false
}

// reserve claims a slot for one in-flight item. It returns false while the
// saved plus in-flight count already covers MaxFiles.
func (b *budget) reserve(page bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exhaustedLocked() {
		return false
	}
	if b.limits.MaxFiles > 0 && b.files+b.filesReserved >= b.limits.MaxFiles {
		return false
	}
	b.filesReserved++
	if page {
		b.pagesReserved++
	}
	return true
}

// pagesAvailable reports whether another HTML page may be stored.
func (b *budget) pagesAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limits.MaxPages <= 0 || b.pages+b.pagesReserved < b.limits.MaxPages
}

// claimBytes claims room for an item about to be stored. n is its size, or
// negative when unknown; an unknown size claims the remaining room, bounded
// by MaxItemBytes. It reports false once saved plus claimed bytes cover
// MaxTotalBytes.
func (b *budget) claimBytes(n int64) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	limit := b.limits.MaxTotalBytes
	if limit <= 0 {
		return 0, true
	}
	remaining := limit - b.bytes - b.bytesClaimed
	if remaining <= 0 {
		return 0, false
	}
	if n < 0 {
		n = remaining
		if item := b.limits.MaxItemBytes; item > 0 && item < n {
			n = item
		}
	}
	b.bytesClaimed += n
	return n, true
}

// bytesCovered reports whether saved plus claimed bytes reach MaxTotalBytes.
func (b *budget) bytesCovered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limits.MaxTotalBytes > 0 && b.bytes+b.bytesClaimed >= b.limits.MaxTotalBytes
}

// commit converts a reservation and its byte claim into a saved item of n
// bytes.
func (b *budget) commit(page bool, n, claimed int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filesReserved--
	b.files++
	b.bytes += n
	b.bytesClaimed -= claimed
	if page {
		b.pagesReserved--
		b.pages++
	}
}

// release drops a reservation and byte claim whose item was not saved.
func (b *budget) release(page bool, claimed int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filesReserved--
	b.bytesClaimed -= claimed
	if page {
		b.pagesReserved--
	}
}

// inFlight reports whether any reservation is outstanding.
func (b *budget) inFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filesReserved > 0 || b.bytesClaimed > 0
}

func (b *budget) snapshot() (files int, pages int, bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.files, b.pages, b.bytes
}
