package cache

import (
	"sync"
	"time"
)

// backoffTable tracks per-key fetch failures and the resulting hold-down
// windows. A read that lands inside a key's hold-down does not issue a
// remote call; the retry happens on the first read after the window, so
// retry pressure is bounded without any background loop.
type backoffTable struct {
	base time.Duration
	max  time.Duration

	mu      sync.Mutex
	entries map[string]*backoffEntry
}

type backoffEntry struct {
	failures  int
	nextRetry time.Time
}

func newBackoffTable(base, max time.Duration) backoffTable {
	return backoffTable{
		base:    base,
		max:     max,
		entries: make(map[string]*backoffEntry),
	}
}

// holdDown reports whether the key is inside a failure hold-down window
func (b *backoffTable) holdDown(key string) (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return false, time.Time{}
	}
	if time.Now().Before(entry.nextRetry) {
		return true, entry.nextRetry
	}
	return false, time.Time{}
}

// recordFailure extends the key's hold-down exponentially, capped at max
func (b *backoffTable) recordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		entry = &backoffEntry{}
		b.entries[key] = entry
	}

	delay := b.base << uint(entry.failures)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}
	entry.failures++
	entry.nextRetry = time.Now().Add(delay)
}

// clear removes the key's failure history after a successful fetch
func (b *backoffTable) clear(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}
