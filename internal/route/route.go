// Package route maps content platform/category pairs to the ordered
// list of destination channels that should carry (and be scanned for)
// each kind of content.
package route

import (
	"herald/internal/content"
)

// DefaultKey is the per-platform fallback category key in config.
const DefaultKey = "default"

// Table is an immutable routing table. Build a new one and swap it on
// config reload rather than mutating in place.
type Table struct {
	byPlatform map[content.Platform]platformRoutes
	all        []string
}

type platformRoutes struct {
	defaults   []string
	byCategory map[content.Category][]string
}

// NewTable builds a table from config-shaped maps:
// platform -> (category | "default") -> ordered channel ids.
func NewTable(raw map[string]map[string][]string) *Table {
	t := &Table{byPlatform: map[content.Platform]platformRoutes{}}
	seen := map[string]struct{}{}

	for p, cats := range raw {
		pr := platformRoutes{byCategory: map[content.Category][]string{}}
		for c, channels := range cats {
			channels = dedupOrdered(channels)
			if c == DefaultKey {
				pr.defaults = channels
			} else {
				pr.byCategory[content.Category(c)] = channels
			}
			for _, ch := range channels {
				if _, dup := seen[ch]; !dup {
					seen[ch] = struct{}{}
					t.all = append(t.all, ch)
				}
			}
		}
		t.byPlatform[content.Platform(p)] = pr
	}
	return t
}

// Channels returns the ordered, deduplicated channel list for the
// platform/category pair. A category without its own route falls back
// to the platform default (a missing "retweet" route reuses the "post"
// channels when configured that way); the fallback must never cause the
// same channel to be scanned twice. Unknown or empty platforms fall
// back to every configured channel so malformed content still gets a
// best-effort scan.
func (t *Table) Channels(p content.Platform, c content.Category) []string {
	pr, ok := t.byPlatform[p]
	if !ok {
		return t.All()
	}
	channels, ok := pr.byCategory[c]
	if !ok || len(channels) == 0 {
		channels = pr.defaults
	}
	return channels
}

// All returns every configured channel once, in stable config order.
func (t *Table) All() []string {
	return t.all
}

// Primary returns the first channel for the pair, the announcement
// target. Empty string means nothing is routed.
func (t *Table) Primary(p content.Platform, c content.Category) string {
	channels := t.Channels(p, c)
	if len(channels) == 0 {
		return ""
	}
	return channels[0]
}

func dedupOrdered(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
