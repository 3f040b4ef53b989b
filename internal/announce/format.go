package announce

import (
	"strings"

	"herald/internal/content"
)

// Format renders the announcement text for an item.
//
// The URL goes on its own line so exact URL matching during
// reconciliation scans works on whitespace-split tokens.
func Format(it content.Item, aliases map[string]string) string {
	author := displayAuthor(it)
	reposter := resolveAlias(it.RepostedBy, aliases)

	var b strings.Builder
	switch it.Category {
	case content.CategoryLiveStream:
		b.WriteString(author)
		b.WriteString(" is live")
		if it.Title != "" {
			b.WriteString(": ")
			b.WriteString(it.Title)
		}
	case content.CategoryVideo:
		b.WriteString("New video from ")
		b.WriteString(author)
		if it.Title != "" {
			b.WriteString(": ")
			b.WriteString(it.Title)
		}
	case content.CategoryRetweet:
		if reposter != "" {
			b.WriteString(reposter)
			b.WriteString(" reposted ")
		} else {
			b.WriteString("Repost of ")
		}
		b.WriteString(author)
	case content.CategoryReply:
		b.WriteString(author)
		b.WriteString(" replied")
	case content.CategoryQuote:
		b.WriteString(author)
		b.WriteString(" quoted a post")
	default:
		b.WriteString("New post from ")
		b.WriteString(author)
	}

	if it.Text != "" {
		b.WriteString("\n")
		b.WriteString(it.Text)
	}
	if it.URL != "" {
		b.WriteString("\n")
		b.WriteString(it.URL)
	}
	return b.String()
}

func displayAuthor(it content.Item) string {
	if it.DisplayAuthor != "" {
		return it.DisplayAuthor
	}
	if it.Author != "" {
		return it.Author
	}
	return "unknown"
}

func resolveAlias(name string, aliases map[string]string) string {
	if name == "" {
		return ""
	}
	if alias, ok := aliases[name]; ok && alias != "" {
		return alias
	}
	return name
}
