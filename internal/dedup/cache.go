package dedup

import (
	"context"
	"sync"
	"time"

	"herald/internal/content"
	"herald/internal/storage"
	logx "herald/pkg/logx"
)

// Cache is the in-memory duplicate detector.
//
// It holds three monotonic sets: per-platform ids, canonical URLs, and
// content fingerprints. Entries are added and never removed for the
// lifetime of the process. Inserts are idempotent, so a miss-then-insert
// race between two callers is harmless.
//
// An optional write-through store persists entries for restart
// survival; lookups always hit memory first and storage errors never
// corrupt the in-memory view.
type Cache struct {
	mu   sync.RWMutex
	ids  map[content.Platform]map[string]struct{}
	urls map[string]struct{}
	fps  map[string]struct{}

	store storage.Store
	log   logx.Logger
}

// Stats is a point-in-time size snapshot, for operational logging.
type Stats struct {
	IDsKnown          int `json:"ids_known"`
	URLsKnown         int `json:"urls_known"`
	FingerprintsKnown int `json:"fingerprints_known"`
}

// NewCache creates an empty cache. store may be nil (memory-only).
func NewCache(store storage.Store, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		ids:   map[content.Platform]map[string]struct{}{},
		urls:  map[string]struct{}{},
		fps:   map[string]struct{}{},
		store: store,
		log:   log,
	}
}

// Load restores persisted entries into memory. Call once at startup,
// before sources start feeding content.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	keys, err := c.store.LoadSeen(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, k := range keys {
		switch k.Kind {
		case storage.KindID:
			platform, id, ok := splitIDKey(k.Value)
			if ok {
				c.addIDLocked(platform, id)
			}
		case storage.KindURL:
			c.urls[k.Value] = struct{}{}
		case storage.KindFingerprint:
			c.fps[k.Value] = struct{}{}
		}
	}
	c.mu.Unlock()

	c.log.Info("duplicate cache restored", logx.Int("entries", len(keys)))
	return nil
}

func (c *Cache) IsKnownID(platform content.Platform, id string) bool {
	if id == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.ids[platform]
	if !ok {
		return false
	}
	_, ok = set[id]
	return ok
}

func (c *Cache) AddID(platform content.Platform, id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	added := c.addIDLocked(platform, id)
	c.mu.Unlock()
	if added {
		c.persist(storage.SeenKey{Kind: storage.KindID, Value: idKey(platform, id)})
	}
}

func (c *Cache) addIDLocked(platform content.Platform, id string) bool {
	set, ok := c.ids[platform]
	if !ok {
		set = map[string]struct{}{}
		c.ids[platform] = set
	}
	if _, dup := set[id]; dup {
		return false
	}
	set[id] = struct{}{}
	return true
}

// IsKnownURL reports whether any variant of the URL has been seen.
func (c *Cache) IsKnownURL(rawURL string) bool {
	canonical := NormalizeURL(rawURL)
	if canonical == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.urls[canonical]
	return ok
}

// AddURL records the canonical form of the URL. If the canonical
// pattern embeds a platform id, the id is recorded too so the id-set
// and URL-set stay consistent.
func (c *Cache) AddURL(rawURL string) {
	canonical := NormalizeURL(rawURL)
	if canonical == "" {
		return
	}

	var keys []storage.SeenKey

	c.mu.Lock()
	if _, dup := c.urls[canonical]; !dup {
		c.urls[canonical] = struct{}{}
		keys = append(keys, storage.SeenKey{Kind: storage.KindURL, Value: canonical})
	}
	if platform, id, ok := ExtractID(canonical); ok {
		if c.addIDLocked(platform, id) {
			keys = append(keys, storage.SeenKey{Kind: storage.KindID, Value: idKey(platform, id)})
		}
	}
	c.mu.Unlock()

	c.persist(keys...)
}

func (c *Cache) IsKnownFingerprint(it content.Item) bool {
	fp := content.Fingerprint(it)
	if fp == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.fps[fp]
	return ok
}

func (c *Cache) AddFingerprint(it content.Item) {
	fp := content.Fingerprint(it)
	if fp == "" {
		return
	}
	c.mu.Lock()
	_, dup := c.fps[fp]
	if !dup {
		c.fps[fp] = struct{}{}
	}
	c.mu.Unlock()
	if !dup {
		c.persist(storage.SeenKey{Kind: storage.KindFingerprint, Value: fp})
	}
}

// IsDuplicate checks every signal the item carries: id, then URL, then
// fingerprint. Items with missing fields fall back to whichever signals
// are present; an item with no signals at all is never a duplicate.
func (c *Cache) IsDuplicate(it content.Item) bool {
	if it.ID != "" && it.Platform.Valid() && c.IsKnownID(it.Platform, it.ID) {
		return true
	}
	if it.URL != "" && c.IsKnownURL(it.URL) {
		return true
	}
	return c.IsKnownFingerprint(it)
}

// MarkSeen records every signal the item carries.
func (c *Cache) MarkSeen(it content.Item) {
	if it.ID != "" && it.Platform.Valid() {
		c.AddID(it.Platform, it.ID)
	}
	if it.URL != "" {
		c.AddURL(it.URL)
	}
	c.AddFingerprint(it)
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids int
	for _, set := range c.ids {
		ids += len(set)
	}
	return Stats{IDsKnown: ids, URLsKnown: len(c.urls), FingerprintsKnown: len(c.fps)}
}

// persist writes new entries through to storage. Failures are logged
// and dropped: the in-memory view stays authoritative either way.
func (c *Cache) persist(keys ...storage.SeenKey) {
	if c.store == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.store.AddSeen(ctx, keys...); err != nil {
		c.log.Warn("persisting seen keys failed", logx.Err(err), logx.Int("keys", len(keys)))
	}
}

func idKey(platform content.Platform, id string) string {
	return string(platform) + "|" + id
}

func splitIDKey(key string) (content.Platform, string, bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return content.Platform(key[:i]), key[i+1:], key[i+1:] != ""
		}
	}
	return "", "", false
}
