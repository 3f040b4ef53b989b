package coordinator

import (
	"strings"

	"herald/internal/content"
	"herald/internal/dedup"
)

// messageMatches reports whether a channel message body announces the
// item. Two exact signals are accepted:
//
//   - an id token bounded by non-id characters, so id "123" never
//     matches inside "51234" (numerically-similar ids must not collide)
//   - any URL token in the body whose canonical form equals the item's
//     canonical URL, so a manual post using a short link still matches
func messageMatches(body string, it content.Item) bool {
	if body == "" {
		return false
	}
	if it.ID != "" && containsToken(body, it.ID) {
		return true
	}
	canonical := dedup.NormalizeURL(it.URL)
	if canonical == "" {
		return false
	}
	for _, field := range strings.Fields(body) {
		if !strings.Contains(field, "://") {
			continue
		}
		if dedup.NormalizeURL(strings.Trim(field, "()<>.,;:!?\"'")) == canonical {
			return true
		}
	}
	return false
}

// containsToken finds needle in body with id-character boundaries on
// both sides. Platform ids are alphanumeric plus '-' and '_', so any
// other neighbor (space, '=', '/', punctuation) terminates a token.
func containsToken(body, needle string) bool {
	for from := 0; ; {
		idx := strings.Index(body[from:], needle)
		if idx < 0 {
			return false
		}
		idx += from
		end := idx + len(needle)
		if (idx == 0 || !isIDChar(body[idx-1])) && (end == len(body) || !isIDChar(body[end])) {
			return true
		}
		from = idx + 1
	}
}

func isIDChar(b byte) bool {
	return b == '-' || b == '_' ||
		(b >= '0' && b <= '9') ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z')
}
