package telegram

import (
	"sync"
	"time"

	kit "herald/internal/transport"
)

const defaultHistoryDepth = 200

// channelLog is a bounded per-channel view of recent messages.
//
// The Telegram Bot API has no history-fetch call, so the adapter builds
// its own view from two inputs: messages it sent itself, and channel
// posts it observes as an admin of the destination channels. That is
// exactly the population reconciliation needs to scan.
type channelLog struct {
	mu    sync.Mutex
	depth int
	byCh  map[int64][]kit.Message
}

func newChannelLog(depth int) *channelLog {
	if depth <= 0 {
		depth = defaultHistoryDepth
	}
	return &channelLog{depth: depth, byCh: map[int64][]kit.Message{}}
}

func (l *channelLog) record(chatID int64, m kit.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := append(l.byCh[chatID], m)
	if len(msgs) > l.depth {
		msgs = msgs[len(msgs)-l.depth:]
	}
	l.byCh[chatID] = msgs
}

// since returns messages created at or after the cutoff, oldest first.
func (l *channelLog) since(chatID int64, cutoff time.Time) []kit.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []kit.Message
	for _, m := range l.byCh[chatID] {
		if !m.CreatedAt.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out
}
