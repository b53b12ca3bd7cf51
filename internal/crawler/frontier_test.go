package crawler

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitTrackerConcurrentMarkIfNew(t *testing.T) {
	t.Parallel()

	tracker := newConcurrentVisitTracker()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won = map[string]int{}
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				u := fmt.Sprintf("https://example.com/%d", i)
				if tracker.MarkIfNew(u) {
					mu.Lock()
					won[u]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, tracker.Len())
	for u, n := range won {
		assert.Equal(t, 1, n, u)
	}
	assert.False(t, tracker.MarkIfNew(""))
}

func TestFIFOFrontierOrder(t *testing.T) {
	t.Parallel()

	var f fifoFrontier
	for i := 0; i < 3000; i++ {
		f.push(frontierEntry{url: fmt.Sprint(i), depth: i % 3})
	}
	for i := 0; i < 3000; i++ {
		e, ok := f.pop()
		require.True(t, ok)
		require.Equal(t, fmt.Sprint(i), e.url)
	}
	_, ok := f.pop()
	assert.False(t, ok)
	assert.Zero(t, f.len())
}

func TestBudgetReservations(t *testing.T) {
	t.Parallel()

	b := newBudget(Limits{MaxFiles: 2, MaxTotalBytes: 100, MaxPages: 1})
	require.True(t, b.reserve(true))
	assert.False(t, b.pagesAvailable())
	require.True(t, b.reserve(false))
	assert.False(t, b.reserve(false), "saved plus in-flight covers MaxFiles")

	b.release(false, 0)
	assert.True(t, b.reserve(false))

	b.commit(true, 60, 0)
	b.commit(false, 60, 0)
	assert.True(t, b.exhausted())
	files, pages, bytes := b.snapshot()
	assert.Equal(t, 2, files)
	assert.Equal(t, 1, pages)
	assert.Equal(t, int64(120), bytes)
	assert.False(t, b.inFlight())
}

func TestBudgetBytesCap(t *testing.T) {
	t.Parallel()

	b := newBudget(Limits{MaxFiles: 10, MaxTotalBytes: 10})
	require.True(t, b.reserve(false))
	b.commit(false, 10, 0)
	assert.True(t, b.exhausted())
	assert.False(t, b.reserve(false))
}

func TestBudgetByteClaims(t *testing.T) {
	t.Parallel()

	b := newBudget(Limits{MaxTotalBytes: 150})
	for i := 0; i < 4; i++ {
		require.True(t, b.reserve(false))
	}

	first, ok := b.claimBytes(100)
	require.True(t, ok)
	assert.Equal(t, int64(100), first)
	assert.False(t, b.bytesCovered())

	second, ok := b.claimBytes(100)
	require.True(t, ok, "the last admitted item may overshoot")
	assert.True(t, b.bytesCovered())

	_, ok = b.claimBytes(100)
	assert.False(t, ok)
	_, ok = b.claimBytes(-1)
	assert.False(t, ok)

	b.release(false, second)
	assert.False(t, b.bytesCovered())
	unknown, ok := b.claimBytes(-1)
	require.True(t, ok)
	assert.Equal(t, int64(50), unknown, "an unknown size claims the remaining room")

	b.commit(false, 100, first)
	b.commit(false, 20, unknown)
	b.release(false, 0)
	_, _, bytes := b.snapshot()
	assert.Equal(t, int64(120), bytes)
	assert.False(t, b.inFlight())
	assert.False(t, b.bytesCovered())
}

func TestBudgetUnknownSizeClaimsAtMostOneItem(t *testing.T) {
	t.Parallel()

	b := newBudget(Limits{MaxTotalBytes: 1000, MaxItemBytes: 300})
	for i := 0; i < 4; i++ {
		claimed, ok := b.claimBytes(-1)
		if i < 3 {
			require.True(t, ok)
			assert.Equal(t, int64(300), claimed)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, int64(100), claimed)
	}
	_, ok := b.claimBytes(-1)
	assert.False(t, ok)
}

func TestBudgetByteClaimsWithoutCap(t *testing.T) {
	t.Parallel()

	b := newBudget(Limits{})
	claimed, ok := b.claimBytes(1 << 40)
	assert.True(t, ok)
	assert.Zero(t, claimed)
	assert.False(t, b.bytesCovered())
}
