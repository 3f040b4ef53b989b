package telegram

import (
	"testing"
	"time"

	kit "herald/internal/transport"
)

func TestChannelLogSinceFilters(t *testing.T) {
	t.Parallel()
	l := newChannelLog(10)
	now := time.Now()

	l.record(1, kit.Message{ID: "1", Text: "old", CreatedAt: now.Add(-time.Hour)})
	l.record(1, kit.Message{ID: "2", Text: "recent", CreatedAt: now.Add(-time.Minute)})
	l.record(2, kit.Message{ID: "3", Text: "other channel", CreatedAt: now})

	got := l.since(1, now.Add(-10*time.Minute))
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("since = %+v, want only message 2", got)
	}
	if msgs := l.since(3, time.Time{}); len(msgs) != 0 {
		t.Fatalf("unknown channel should be empty, got %d", len(msgs))
	}
}

func TestChannelLogBounded(t *testing.T) {
	t.Parallel()
	l := newChannelLog(3)
	base := time.Now()
	for i := 0; i < 10; i++ {
		l.record(7, kit.Message{ID: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	got := l.since(7, time.Time{})
	if len(got) != 3 {
		t.Fatalf("depth not enforced: %d messages", len(got))
	}
	if got[0].ID != "h" || got[2].ID != "j" {
		t.Fatalf("expected newest three in order, got %+v", got)
	}
}

func TestParseChannelID(t *testing.T) {
	t.Parallel()
	id, err := parseChannelID(" -1001234567890 ")
	if err != nil || id != -1001234567890 {
		t.Fatalf("parseChannelID = (%d, %v)", id, err)
	}
	if _, err := parseChannelID("@channel"); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
}
