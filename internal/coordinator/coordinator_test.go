package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"herald/internal/announce"
	"herald/internal/content"
	"herald/internal/dedup"
	"herald/internal/route"
	kit "herald/internal/transport"
	logx "herald/pkg/logx"
)

// scanMessenger serves canned channel history and records which
// channels were fetched.
type scanMessenger struct {
	mu      sync.Mutex
	ready   bool
	msgs    map[string][]kit.Message
	failing map[string]bool
	fetched []string
}

func (m *scanMessenger) Ready() bool { return m.ready }

func (m *scanMessenger) SendText(context.Context, string, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, errors.New("not used")
}

func (m *scanMessenger) RecentMessages(_ context.Context, channelID string, since time.Time) ([]kit.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, channelID)
	if m.failing[channelID] {
		return nil, errors.New("fetch failed")
	}
	var out []kit.Message
	for _, msg := range m.msgs[channelID] {
		if !msg.CreatedAt.Before(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

type fakeAnnouncer struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (a *fakeAnnouncer) Announce(_ context.Context, it content.Item) (announce.Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail {
		return announce.Receipt{}, errors.New("delivery failed")
	}
	return announce.Receipt{ChannelID: "100", MessageID: "7"}, nil
}

func (a *fakeAnnouncer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func testRoutes() *route.Table {
	return route.NewTable(map[string]map[string][]string{
		"video":       {"default": {"100", "101"}},
		"social_post": {"default": {"200"}},
	})
}

func videoItem() content.Item {
	return content.Item{
		Platform:    content.PlatformVideo,
		Category:    content.CategoryVideo,
		ID:          "dQw4w9WgXcQ",
		URL:         "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Author:      "somechannel",
		Title:       "A Video",
		PublishedAt: time.Now(),
	}
}

func newTestCoordinator(cfg Config, deps Deps) (*Coordinator, *dedup.Cache, *fakeAnnouncer) {
	if deps.Cache == nil {
		deps.Cache = dedup.NewCache(nil, logx.Nop())
	}
	ann := &fakeAnnouncer{}
	if deps.Announcer == nil {
		deps.Announcer = ann
	}
	if deps.Routes == nil {
		deps.Routes = testRoutes()
	}
	if deps.Messenger == nil {
		deps.Messenger = &scanMessenger{ready: true}
	}
	return New(cfg, deps), deps.Cache, ann
}

func TestProcessContentIdempotent(t *testing.T) {
	t.Parallel()
	c, cache, ann := newTestCoordinator(Config{}, Deps{})
	it := videoItem()

	res := c.ProcessContent(context.Background(), it.ID, "scraper", it)
	if res.Action != ActionAnnounced {
		t.Fatalf("first call = %+v, want announced", res)
	}
	if res.Announcement == nil || res.Announcement.ChannelID != "100" {
		t.Fatalf("missing announcement receipt: %+v", res)
	}
	if !cache.IsKnownID(content.PlatformVideo, "dQw4w9WgXcQ") {
		t.Fatal("id not cached after announce")
	}

	res = c.ProcessContent(context.Background(), it.ID, "scraper", it)
	if res.Action != ActionSkip || res.Reason != ReasonDuplicateCache {
		t.Fatalf("second call = %+v, want skip/duplicate_cache", res)
	}
	if res.FoundIn != FoundInID {
		t.Fatalf("FoundIn = %q, want id", res.FoundIn)
	}
	if ann.callCount() != 1 {
		t.Fatalf("announcer called %d times, want 1", ann.callCount())
	}
}

func TestProcessContentCacheHitByURLVariant(t *testing.T) {
	t.Parallel()
	c, cache, ann := newTestCoordinator(Config{}, Deps{})
	cache.AddURL("https://youtu.be/abcdefghijk")

	it := content.Item{
		Platform: content.PlatformVideo,
		Category: content.CategoryVideo,
		// Different item id field missing; URL variant only.
		URL: "https://www.youtube.com/watch?v=abcdefghijk&feature=share",
	}
	res := c.ProcessContent(context.Background(), "", "webhook", it)
	if res.Action != ActionSkip || res.FoundIn != FoundInURL {
		t.Fatalf("result = %+v, want skip via url", res)
	}
	if ann.callCount() != 0 {
		t.Fatal("announcer must not run on cache hit")
	}
}

func TestReconciliationFindsManualPost(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(4 * time.Minute) // detected at T+4min

	m := &scanMessenger{
		ready: true,
		msgs: map[string][]kit.Message{
			"100": {{
				ID:        "555",
				Text:      "manual post https://youtu.be/dQw4w9WgXcQ",
				CreatedAt: start.Add(2 * time.Minute), // posted at T+2min
			}},
		},
	}
	c, cache, ann := newTestCoordinator(Config{Lookback: 10 * time.Minute}, Deps{
		Messenger: m,
		StartedAt: start,
		Now:       func() time.Time { return now },
	})

	it := videoItem()
	res := c.ProcessContent(context.Background(), it.ID, "scraper", it)
	if res.Action != ActionSkip || res.Reason != ReasonPreviouslyAnnounced {
		t.Fatalf("result = %+v, want skip/previously_announced", res)
	}
	if res.FoundIn != "100" || res.MessageID != "555" {
		t.Fatalf("hit = %+v, want channel 100 message 555", res)
	}
	if ann.callCount() != 0 {
		t.Fatal("announcer must never run when reconciliation hits")
	}
	// Self-healing: the cache now knows the id.
	if !cache.IsKnownID(content.PlatformVideo, "dQw4w9WgXcQ") {
		t.Fatal("cache not self-healed after reconciliation hit")
	}
}

func TestReconciliationWindowExcludesOldMessages(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Minute)

	m := &scanMessenger{
		ready: true,
		msgs: map[string][]kit.Message{
			"100": {{
				ID:        "1",
				Text:      "old https://youtu.be/dQw4w9WgXcQ",
				CreatedAt: start.Add(2 * time.Minute), // outside the 10min lookback by now
			}},
		},
	}
	c, _, ann := newTestCoordinator(Config{Lookback: 10 * time.Minute}, Deps{
		Messenger: m,
		StartedAt: start,
		Now:       func() time.Time { return now },
	})

	res := c.ProcessContent(context.Background(), "dQw4w9WgXcQ", "scraper", videoItem())
	if res.Action != ActionAnnounced {
		t.Fatalf("result = %+v, want announced (manual post outside window)", res)
	}
	if ann.callCount() != 1 {
		t.Fatalf("announcer calls = %d, want 1", ann.callCount())
	}
}

func TestReconciliationStopsAtFirstMatch(t *testing.T) {
	t.Parallel()
	now := time.Now()
	m := &scanMessenger{
		ready: true,
		msgs: map[string][]kit.Message{
			"100": {{ID: "1", Text: "https://youtu.be/dQw4w9WgXcQ", CreatedAt: now}},
			"101": {{ID: "2", Text: "https://youtu.be/dQw4w9WgXcQ", CreatedAt: now}},
		},
	}
	c, _, _ := newTestCoordinator(Config{}, Deps{Messenger: m, StartedAt: now.Add(-time.Minute)})

	res := c.ProcessContent(context.Background(), "dQw4w9WgXcQ", "scraper", videoItem())
	if res.Action != ActionSkip || res.FoundIn != "100" {
		t.Fatalf("result = %+v, want skip found in 100", res)
	}
	for _, ch := range m.fetched {
		if ch == "101" {
			t.Fatal("second channel fetched after a match in the first")
		}
	}
}

func TestReconciliationSurvivesChannelFetchError(t *testing.T) {
	t.Parallel()
	now := time.Now()
	m := &scanMessenger{
		ready:   true,
		failing: map[string]bool{"100": true},
		msgs: map[string][]kit.Message{
			"101": {{ID: "9", Text: "https://youtu.be/dQw4w9WgXcQ", CreatedAt: now}},
		},
	}
	c, _, _ := newTestCoordinator(Config{}, Deps{Messenger: m, StartedAt: now.Add(-time.Minute)})

	res := c.ProcessContent(context.Background(), "dQw4w9WgXcQ", "scraper", videoItem())
	if res.Action != ActionSkip || res.FoundIn != "101" {
		t.Fatalf("result = %+v, want match in later channel despite fetch error", res)
	}
}

func TestMessengerNotReadyBypassesReconciliation(t *testing.T) {
	t.Parallel()
	m := &scanMessenger{
		ready: false,
		msgs: map[string][]kit.Message{
			"100": {{ID: "1", Text: "https://youtu.be/dQw4w9WgXcQ", CreatedAt: time.Now()}},
		},
	}
	c, _, ann := newTestCoordinator(Config{}, Deps{Messenger: m})

	// Cache miss + unreachable messenger: decision rests on phase 1
	// alone, so the item is announced.
	res := c.ProcessContent(context.Background(), "dQw4w9WgXcQ", "scraper", videoItem())
	if res.Action != ActionAnnounced {
		t.Fatalf("result = %+v, want announced", res)
	}
	if len(m.fetched) != 0 {
		t.Fatal("history fetched while messenger not ready")
	}
	if ann.callCount() != 1 {
		t.Fatalf("announcer calls = %d", ann.callCount())
	}
}

func TestNoCacheStillAnnounces(t *testing.T) {
	t.Parallel()
	ann := &fakeAnnouncer{}
	c := New(Config{}, Deps{
		Announcer: ann,
		Routes:    testRoutes(),
		Messenger: &scanMessenger{ready: true},
		Log:       logx.Nop(),
	})

	res := c.ProcessContent(context.Background(), "x1", "scraper", videoItem())
	if res.Action != ActionAnnounced {
		t.Fatalf("result = %+v, want announced without duplicate detector", res)
	}
}

func TestAnnounceFailureLeavesCacheUntouched(t *testing.T) {
	t.Parallel()
	ann := &fakeAnnouncer{fail: true}
	c, cache, _ := newTestCoordinator(Config{}, Deps{Announcer: ann})
	it := videoItem()

	res := c.ProcessContent(context.Background(), it.ID, "scraper", it)
	if res.Action != ActionFailed || res.Reason != ReasonAnnounceFailed {
		t.Fatalf("result = %+v, want failed/announce_failed", res)
	}
	if cache.IsDuplicate(it) {
		t.Fatal("cache must stay untouched on announce failure")
	}

	// Item stays eligible: a later cycle with a healthy announcer wins.
	ann.mu.Lock()
	ann.fail = false
	ann.mu.Unlock()
	res = c.ProcessContent(context.Background(), it.ID, "scraper", it)
	if res.Action != ActionAnnounced {
		t.Fatalf("retry = %+v, want announced", res)
	}
}

func TestLockHeldYieldsSkip(t *testing.T) {
	t.Parallel()
	c, _, ann := newTestCoordinator(Config{LockTimeout: time.Minute}, Deps{})
	it := videoItem()

	release, _, ok := c.locks.acquire(it.ID, "scraper", time.Now())
	if !ok {
		t.Fatal("setup acquire failed")
	}
	defer release()

	res := c.ProcessContent(context.Background(), it.ID, "webhook", it)
	if res.Action != ActionSkip || res.Reason != ReasonLockHeld || res.HeldBy != "scraper" {
		t.Fatalf("result = %+v, want skip/lock_held by scraper", res)
	}
	if ann.callCount() != 0 {
		t.Fatal("announcer ran while lock was held elsewhere")
	}
}

func TestLockHeldReportsSourcePriority(t *testing.T) {
	t.Parallel()
	c, _, ann := newTestCoordinator(Config{
		LockTimeout:    time.Minute,
		SourcePriority: []string{"webhook", "scraper", "feed"},
	}, Deps{})
	it := videoItem()

	release, _, ok := c.locks.acquire(it.ID, "scraper", time.Now())
	if !ok {
		t.Fatal("setup acquire failed")
	}
	defer release()

	// A higher-priority claimant still backs off: a live lock is never
	// preempted, the ranks are reported instead.
	res := c.ProcessContent(context.Background(), it.ID, "webhook", it)
	if res.Action != ActionSkip || res.Reason != ReasonLockHeld {
		t.Fatalf("result = %+v, want skip/lock_held", res)
	}
	if res.HeldBy != "scraper" || res.HolderRank != 2 {
		t.Fatalf("holder = %q rank %d, want scraper rank 2", res.HeldBy, res.HolderRank)
	}
	if ann.callCount() != 0 {
		t.Fatal("announcer ran despite held lock")
	}

	if got := c.PriorityRank("webhook"); got != 1 {
		t.Fatalf("PriorityRank(webhook) = %d, want 1", got)
	}
	if got := c.PriorityRank("unlisted"); got != 0 {
		t.Fatalf("PriorityRank(unlisted) = %d, want 0", got)
	}
}

func TestMalformedContentURLOnlyCheck(t *testing.T) {
	t.Parallel()
	c, cache, ann := newTestCoordinator(Config{}, Deps{})
	cache.AddURL("https://twitter.com/u/status/42")

	// No platform, no category, no id: still checked by URL.
	it := content.Item{URL: "https://x.com/u/status/42"}
	res := c.ProcessContent(context.Background(), "", "webhook", it)
	if res.Action != ActionSkip || res.Reason != ReasonDuplicateCache || res.FoundIn != FoundInURL {
		t.Fatalf("result = %+v, want skip via url-only check", res)
	}
	if ann.callCount() != 0 {
		t.Fatal("announcer invoked for known malformed item")
	}
}

func TestNoIdentityDropped(t *testing.T) {
	t.Parallel()
	c, _, ann := newTestCoordinator(Config{}, Deps{})
	res := c.ProcessContent(context.Background(), "", "webhook", content.Item{})
	if res.Action != ActionSkip || res.Reason != ReasonNoIdentity {
		t.Fatalf("result = %+v, want skip/no_identity", res)
	}
	if ann.callCount() != 0 {
		t.Fatal("announcer invoked for item with no identity")
	}
}

func TestConcurrentSameIDAnnouncesOnce(t *testing.T) {
	t.Parallel()
	c, _, ann := newTestCoordinator(Config{}, Deps{})
	it := videoItem()

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := "scraper"
			if i%2 == 1 {
				source = "webhook"
			}
			results[i] = c.ProcessContent(context.Background(), it.ID, source, it)
		}(i)
	}
	wg.Wait()

	announced := 0
	for _, r := range results {
		if r.Action == ActionAnnounced {
			announced++
		}
	}
	if announced != 1 {
		t.Fatalf("announced %d times, want exactly 1", announced)
	}
	if ann.callCount() != 1 {
		t.Fatalf("announcer calls = %d, want 1", ann.callCount())
	}
}
