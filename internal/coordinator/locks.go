package coordinator

import (
	"sync"
	"time"
)

// lockTable provides per-content mutual exclusion across detection
// sources. Locks auto-expire after the configured timeout so a crashed
// or hung holder cannot permanently block future attempts for that id;
// an expired lock is treated as released.
type lockTable struct {
	mu      sync.Mutex
	timeout time.Duration
	entries map[string]*lockEntry
}

type lockEntry struct {
	holder     string
	acquiredAt time.Time
}

func newLockTable(timeout time.Duration) *lockTable {
	return &lockTable{timeout: timeout, entries: map[string]*lockEntry{}}
}

// acquire attempts to take the lock for key on behalf of source.
//
// On success it returns ok=true and a release func that must be called
// on every exit path (scoped acquisition). Release is idempotent and
// only removes the entry this acquisition created, so a release racing
// an expiry-steal can never drop someone else's lock.
//
// On contention it returns ok=false and the current holder.
func (t *lockTable) acquire(key, source string, now time.Time) (release func(), holder string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, exists := t.entries[key]; exists {
		if now.Sub(e.acquiredAt) < t.timeout {
			return nil, e.holder, false
		}
		// Expired: implicit release, the new caller may proceed.
	}

	e := &lockEntry{holder: source, acquiredAt: now}
	t.entries[key] = e

	var once sync.Once
	release = func() {
		once.Do(func() {
			t.mu.Lock()
			if cur, exists := t.entries[key]; exists && cur == e {
				delete(t.entries, key)
			}
			t.mu.Unlock()
		})
	}
	return release, source, true
}

// held reports whether key is currently locked (expired locks count as
// free). For tests and diagnostics.
func (t *lockTable) held(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, exists := t.entries[key]
	return exists && now.Sub(e.acquiredAt) < t.timeout
}
