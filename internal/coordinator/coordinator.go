// Package coordinator decides, for every content observation, whether
// to announce it or skip it as a duplicate.
//
// The decision is two-phase: a fast in-memory cache check, then a live
// scan of recent destination-channel history to catch content another
// actor already posted before the cache recorded it. The design is
// best-effort at-most-once, not exactly-once: there is no transaction
// log, and a narrow race window between concurrent sources is accepted
// and absorbed by reconciliation and by announcement idempotency
// downstream.
package coordinator

import (
	"context"
	"sync"
	"time"

	"herald/internal/announce"
	"herald/internal/content"
	"herald/internal/dedup"
	"herald/internal/eventbus"
	"herald/internal/route"
	kit "herald/internal/transport"
	logx "herald/pkg/logx"
)

// Coordinator owns the duplicate cache and the per-content processing
// locks for the lifetime of the process. No other component mutates
// them.
type Coordinator struct {
	cfg   Config
	cache *dedup.Cache // nil means no duplicate detector configured

	messenger kit.Messenger      // nil or not-ready bypasses reconciliation
	announcer announce.Announcer // nil means detection-only mode
	bus       eventbus.Bus
	log       logx.Logger

	routeMu sync.RWMutex
	routes  *route.Table

	locks *lockTable

	// priority maps source name to 1-based rank per SourcePriority.
	priority map[string]int

	startedAt time.Time
	now       func() time.Time
}

type Deps struct {
	Cache     *dedup.Cache
	Messenger kit.Messenger
	Announcer announce.Announcer
	Routes    *route.Table
	Bus       eventbus.Bus
	Log       logx.Logger
	// StartedAt is the process start time bounding the reconciliation
	// window. Zero means time.Now() at construction.
	StartedAt time.Time
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func New(cfg Config, deps Deps) *Coordinator {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	startedAt := deps.StartedAt
	if startedAt.IsZero() {
		startedAt = now()
	}
	routes := deps.Routes
	if routes == nil {
		routes = route.NewTable(nil)
	}
	priority := make(map[string]int, len(cfg.SourcePriority))
	for i, source := range cfg.SourcePriority {
		if _, dup := priority[source]; !dup {
			priority[source] = i + 1
		}
	}
	return &Coordinator{
		cfg:       cfg,
		cache:     deps.Cache,
		messenger: deps.Messenger,
		announcer: deps.Announcer,
		bus:       deps.Bus,
		log:       log,
		routes:    routes,
		locks:     newLockTable(cfg.LockTimeout),
		priority:  priority,
		startedAt: startedAt,
		now:       now,
	}
}

// PriorityRank returns the source's 1-based rank in SourcePriority,
// or 0 for an unranked source. Callers use it to order dispatch.
func (c *Coordinator) PriorityRank(source string) int {
	return c.priority[source]
}

// SetRoutes swaps the routing table (config reload).
func (c *Coordinator) SetRoutes(t *route.Table) {
	if t == nil {
		return
	}
	c.routeMu.Lock()
	c.routes = t
	c.routeMu.Unlock()
}

func (c *Coordinator) routeTable() *route.Table {
	c.routeMu.RLock()
	defer c.routeMu.RUnlock()
	return c.routes
}

// ProcessContent runs the announce-or-skip decision for one observation.
//
// Safe for concurrent use; calls for the same content id are serialized
// by the processing lock, calls for different ids run independently.
func (c *Coordinator) ProcessContent(ctx context.Context, id, source string, it content.Item) Result {
	log := c.log.With(
		logx.String("source", source),
		logx.String("id", id),
		logx.String("platform", string(it.Platform)))

	key := lockKey(id, it)
	if key == "" {
		log.Warn("observation carries no identity, dropping")
		return Result{Action: ActionSkip, Reason: ReasonNoIdentity}
	}

	release, holder, ok := c.locks.acquire(key, source, c.now())
	if !ok {
		log.Debug("processing lock held",
			logx.String("holder", holder),
			logx.Int("holder_rank", c.priority[holder]),
			logx.Int("claimant_rank", c.priority[source]))
		return Result{Action: ActionSkip, Reason: ReasonLockHeld, HeldBy: holder, HolderRank: c.priority[holder]}
	}
	defer release()

	res := c.decide(ctx, log, it)
	c.publish(source, it, res)
	return res
}

// decide runs both phases and the announce step under the lock.
func (c *Coordinator) decide(ctx context.Context, log logx.Logger, it content.Item) Result {
	// Phase 1: cache.
	if c.cache == nil {
		log.Debug("phase 1 skipped", logx.String("reason", ReasonNoDuplicateDetector))
	} else if foundIn, hit := c.checkCache(it); hit {
		log.Debug("duplicate found in cache", logx.String("signal", foundIn))
		return Result{Action: ActionSkip, Reason: ReasonDuplicateCache, FoundIn: foundIn}
	}

	// Phase 2: reconcile against recent channel history.
	if hit, found := c.reconcile(ctx, log, it); found {
		return Result{
			Action:    ActionSkip,
			Reason:    ReasonPreviouslyAnnounced,
			FoundIn:   hit.channel,
			MessageID: hit.messageID,
			At:        hit.at,
		}
	}

	// Clean miss: announce.
	if c.announcer == nil {
		return Result{Action: ActionFailed, Reason: ReasonNoAnnouncer}
	}
	receipt, err := c.announcer.Announce(ctx, it)
	if err != nil {
		// Cache deliberately left untouched so the item stays
		// eligible for a future detection cycle.
		log.Warn("announce failed", logx.Err(err))
		return Result{Action: ActionFailed, Reason: ReasonAnnounceFailed}
	}

	if c.cache != nil {
		c.cache.MarkSeen(it)
	}
	return Result{Action: ActionAnnounced, Announcement: &receipt}
}

// checkCache queries by id, normalized URL, then fingerprint, in that
// order; the first hit wins. Items missing platform or id degrade to a
// URL-only check rather than being rejected.
func (c *Coordinator) checkCache(it content.Item) (string, bool) {
	if it.ID != "" && it.Platform.Valid() && c.cache.IsKnownID(it.Platform, it.ID) {
		return FoundInID, true
	}
	if it.URL != "" && c.cache.IsKnownURL(it.URL) {
		return FoundInURL, true
	}
	if c.cache.IsKnownFingerprint(it) {
		return FoundInFingerprint, true
	}
	return "", false
}

type reconcileHit struct {
	channel   string
	messageID string
	at        time.Time
}

// reconcile scans recent messages in every channel routed for the item,
// in configured order, stopping at the first match. A fetch error on
// one channel is logged and scanning continues with the rest.
func (c *Coordinator) reconcile(ctx context.Context, log logx.Logger, it content.Item) (reconcileHit, bool) {
	if c.messenger == nil || !c.messenger.Ready() {
		log.Debug("phase 2 skipped: messaging unavailable")
		return reconcileHit{}, false
	}

	since := c.windowStart()
	channels := c.routeTable().Channels(it.Platform, it.Category)

	for _, channel := range channels {
		msgs, err := c.messenger.RecentMessages(ctx, channel, since)
		if err != nil {
			log.Warn("channel history fetch failed",
				logx.String("channel", channel), logx.Err(err))
			continue
		}
		for _, m := range msgs {
			if !messageMatches(m.Text, it) {
				continue
			}
			log.Info("content already announced",
				logx.String("channel", channel),
				logx.String("message", m.ID))
			// Self-heal: record the discovered identity so future
			// lookups hit the cache in phase 1.
			if c.cache != nil {
				c.cache.MarkSeen(it)
			}
			return reconcileHit{channel: channel, messageID: m.ID, at: m.CreatedAt}, true
		}
	}
	return reconcileHit{}, false
}

// windowStart returns max(process start, now-lookback): thorough enough
// to catch recent manual posts, bounded enough to keep scans cheap.
func (c *Coordinator) windowStart() time.Time {
	cutoff := c.now().Add(-c.cfg.Lookback)
	if c.startedAt.After(cutoff) {
		return c.startedAt
	}
	return cutoff
}

func (c *Coordinator) publish(source string, it content.Item, res Result) {
	if c.bus == nil {
		return
	}
	typ := eventbus.EventSkipped
	switch res.Action {
	case ActionAnnounced:
		typ = eventbus.EventAnnounced
	case ActionFailed:
		typ = eventbus.EventFailed
	}
	c.bus.Publish(eventbus.Event{Type: typ, Time: c.now(), Data: outcomeEvent{
		Source:   source,
		Platform: string(it.Platform),
		ID:       it.ID,
		Action:   string(res.Action),
		Reason:   res.Reason,
		FoundIn:  res.FoundIn,
	}})
}

type outcomeEvent struct {
	Source   string `json:"source"`
	Platform string `json:"platform"`
	ID       string `json:"id"`
	Action   string `json:"action"`
	Reason   string `json:"reason,omitempty"`
	FoundIn  string `json:"found_in,omitempty"`
}

// lockKey prefers the caller-supplied id, then the item's own id, then
// canonical URL, then fingerprint, so even partial observations are
// serialized somehow.
func lockKey(id string, it content.Item) string {
	if id != "" {
		return id
	}
	if it.ID != "" {
		return it.ID
	}
	if u := dedup.NormalizeURL(it.URL); u != "" {
		return u
	}
	return content.Fingerprint(it)
}
