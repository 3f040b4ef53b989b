package content

import (
	"time"
)

// Platform identifies the origin platform of an observation.
type Platform string

const (
	PlatformVideo      Platform = "video"
	PlatformSocialPost Platform = "social_post"
)

func (p Platform) Valid() bool {
	return p == PlatformVideo || p == PlatformSocialPost
}

// Category classifies what kind of content an item is.
type Category string

const (
	CategoryPost       Category = "post"
	CategoryReply      Category = "reply"
	CategoryQuote      Category = "quote"
	CategoryRetweet    Category = "retweet"
	CategoryVideo      Category = "video"
	CategoryLiveStream Category = "live_stream"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryPost, CategoryReply, CategoryQuote, CategoryRetweet, CategoryVideo, CategoryLiveStream:
		return true
	}
	return false
}

// Item is a single content observation produced by a detection source.
//
// Items are immutable once constructed; the coordinator and cache read
// them but never mutate them.
type Item struct {
	Platform      Platform  `json:"platform"`
	Category      Category  `json:"category"`
	ID            string    `json:"id"` // unique within Platform
	URL           string    `json:"url"`
	Author        string    `json:"author"`
	DisplayAuthor string    `json:"display_author,omitempty"`
	RepostedBy    string    `json:"reposted_by,omitempty"`
	Text          string    `json:"text,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
	Title         string    `json:"title,omitempty"`
}
