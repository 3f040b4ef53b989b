package content

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint derives a deterministic fallback identity for an item.
//
// When the item carries a stable platform id, the fingerprint is built
// from platform+id. Otherwise it falls back to platform+normalized
// title+publish time rounded to the minute, which is exact enough to
// match duplicate detections of the same upload while tolerating the
// slightly different timestamps different sources report.
//
// Two items with identical available fields always produce identical
// fingerprints. An empty string means no signal was available at all.
func Fingerprint(it Item) string {
	var b strings.Builder
	b.WriteString(string(it.Platform))
	b.WriteByte('|')

	if id := strings.TrimSpace(it.ID); id != "" {
		b.WriteString("id|")
		b.WriteString(id)
		return digest(b.String())
	}

	title := normalizeTitle(it.Title)
	if title == "" && it.PublishedAt.IsZero() {
		return ""
	}
	b.WriteString("t|")
	b.WriteString(title)
	b.WriteByte('|')
	if !it.PublishedAt.IsZero() {
		b.WriteString(strconv.FormatInt(it.PublishedAt.UTC().Truncate(time.Minute).Unix(), 10))
	}
	return digest(b.String())
}

func digest(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}

// normalizeTitle lowercases and collapses whitespace so cosmetic edits
// (trailing spaces, double spaces) do not change the fingerprint.
func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
