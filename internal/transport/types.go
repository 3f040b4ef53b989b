package transport

import (
	"context"
	"time"
)

// Message is one destination-channel message, as seen during
// reconciliation scans.
type Message struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// MessageRef identifies a message the messenger delivered.
type MessageRef struct {
	ChannelID string
	MessageID string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Messenger is the destination-platform client consumed by the
// coordinator and the announcer.
//
// RecentMessages returns messages created at or after since, oldest
// first. Implementations may serve it from a bounded local view; the
// reconciliation window is short by design.
type Messenger interface {
	Ready() bool
	SendText(ctx context.Context, channelID, text string, opt *SendOptions) (MessageRef, error)
	RecentMessages(ctx context.Context, channelID string, since time.Time) ([]Message, error)
}
