// Package feed polls an Atom/RSS feed (e.g. a video channel's upload
// feed) and pushes new entries into the announcement coordinator.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"herald/internal/content"
	"herald/internal/coordinator"
	logx "herald/pkg/logx"
)

// Processor is the coordinator surface this source feeds into.
type Processor interface {
	ProcessContent(ctx context.Context, id, source string, it content.Item) coordinator.Result
}

type Config struct {
	// Name distinguishes this source in lock contention and logs.
	Name     string
	URL      string
	Platform content.Platform
	Category content.Category
	Timeout  time.Duration
}

type Source struct {
	cfg    Config
	parser *gofeed.Parser
	proc   Processor
	log    logx.Logger
}

func New(cfg Config, proc Processor, log logx.Logger) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{
		cfg:    cfg,
		parser: gofeed.NewParser(),
		proc:   proc,
		log:    log.With(logx.String("source", cfg.Name)),
	}
}

func (s *Source) Name() string { return s.cfg.Name }

// Detect fetches the feed once and hands every entry to the
// coordinator. Fetch/parse failures are returned (they drive the poll
// runner's retry backoff); per-item outcomes are not errors, a failed
// announcement simply stays eligible for the next cycle.
func (s *Source) Detect(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	fd, err := s.parser.ParseURLWithContext(s.cfg.URL, fctx)
	if err != nil {
		return fmt.Errorf("fetching feed %s: %w", s.cfg.URL, err)
	}

	for _, entry := range fd.Items {
		if entry == nil {
			continue
		}
		it := s.mapEntry(entry)
		if it.ID == "" && it.URL == "" {
			continue
		}
		res := s.proc.ProcessContent(ctx, it.ID, s.cfg.Name, it)
		if res.Action == coordinator.ActionFailed {
			s.log.Warn("entry processing failed",
				logx.String("id", it.ID), logx.String("reason", res.Reason))
		}
	}
	return nil
}

func (s *Source) mapEntry(entry *gofeed.Item) content.Item {
	it := content.Item{
		Platform: s.cfg.Platform,
		Category: s.cfg.Category,
		ID:       entryID(entry),
		URL:      entry.Link,
		Title:    strings.TrimSpace(entry.Title),
	}
	if entry.Author != nil {
		it.Author = entry.Author.Name
	}
	switch {
	case entry.PublishedParsed != nil:
		it.PublishedAt = *entry.PublishedParsed
	case entry.UpdatedParsed != nil:
		it.PublishedAt = *entry.UpdatedParsed
	}
	return it
}

// entryID extracts a stable platform id from the entry GUID. YouTube
// upload feeds use "yt:video:<id>"; other feeds fall back to the raw
// GUID.
func entryID(entry *gofeed.Item) string {
	guid := strings.TrimSpace(entry.GUID)
	if rest, ok := strings.CutPrefix(guid, "yt:video:"); ok {
		return rest
	}
	return guid
}
