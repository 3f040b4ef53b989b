package coordinator

import (
	"testing"
	"time"
)

func TestLockAcquireAndRelease(t *testing.T) {
	t.Parallel()
	lt := newLockTable(time.Minute)
	now := time.Now()

	release, _, ok := lt.acquire("id1", "scraper", now)
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	if _, holder, ok := lt.acquire("id1", "webhook", now); ok || holder != "scraper" {
		t.Fatalf("contended acquire = (ok=%v holder=%q), want held by scraper", ok, holder)
	}

	release()
	if _, _, ok := lt.acquire("id1", "webhook", now); !ok {
		t.Fatal("acquire after release should succeed")
	}
}

func TestLockReleaseIdempotent(t *testing.T) {
	t.Parallel()
	lt := newLockTable(time.Minute)
	now := time.Now()

	release, _, _ := lt.acquire("id1", "a", now)
	release()
	release() // second call is a no-op

	r2, _, ok := lt.acquire("id1", "b", now)
	if !ok {
		t.Fatal("acquire should succeed")
	}
	// A stale release from the first acquisition must not drop b's lock.
	release()
	if !lt.held("id1", now) {
		t.Fatal("stale release dropped another holder's lock")
	}
	r2()
}

func TestLockAutoExpiry(t *testing.T) {
	t.Parallel()
	lt := newLockTable(10 * time.Second)
	start := time.Now()

	_, _, ok := lt.acquire("id1", "crashed", start)
	if !ok {
		t.Fatal("acquire failed")
	}

	// Still held within the timeout.
	if _, _, ok := lt.acquire("id1", "other", start.Add(5*time.Second)); ok {
		t.Fatal("live lock must not be stolen")
	}

	// A crashed holder never releases; expiry is the implicit release.
	release, _, ok := lt.acquire("id1", "other", start.Add(11*time.Second))
	if !ok {
		t.Fatal("expired lock should be acquirable")
	}
	release()
}

func TestLockDifferentIDsIndependent(t *testing.T) {
	t.Parallel()
	lt := newLockTable(time.Minute)
	now := time.Now()

	r1, _, ok1 := lt.acquire("a", "s1", now)
	r2, _, ok2 := lt.acquire("b", "s2", now)
	if !ok1 || !ok2 {
		t.Fatal("locks for different ids must not contend")
	}
	r1()
	r2()
}
