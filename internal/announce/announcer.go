// Package announce delivers content items to their destination channel.
package announce

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"herald/internal/content"
	"herald/internal/route"
	kit "herald/internal/transport"
	logx "herald/pkg/logx"
)

var ErrNoRoute = errors.New("no destination channel routed for item")

// Receipt reports where an announcement landed.
type Receipt struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Announcer is the delivery dependency consumed by the coordinator.
type Announcer interface {
	Announce(ctx context.Context, it content.Item) (Receipt, error)
}

type Config struct {
	RatePerMinute  int // messages per minute across all channels
	ParseMode      string
	DisablePreview bool
	// AuthorAliases maps scraped display names to stable usernames for
	// repost attribution. Configurable on purpose; there is no
	// hardcoded mapping.
	AuthorAliases map[string]string
}

// Service formats items and sends them via the messenger under a
// global rate limit.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	messenger kit.Messenger
	routes    func() *route.Table
	log       logx.Logger
}

// New creates the announcer. routes is a getter so the routing table
// can be swapped on config reload.
func New(cfg Config, messenger kit.Messenger, routes func() *route.Table, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{messenger: messenger, routes: routes, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps rate limit and formatting knobs at runtime.
func (s *Service) Apply(cfg Config) {
	rpm := cfg.RatePerMinute
	if rpm <= 0 {
		rpm = 20
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	s.mu.Unlock()
}

func (s *Service) Announce(ctx context.Context, it content.Item) (Receipt, error) {
	channel := s.routes().Primary(it.Platform, it.Category)
	if channel == "" {
		return Receipt{}, ErrNoRoute
	}

	s.mu.Lock()
	cfg := s.cfg
	limiter := s.limiter
	s.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return Receipt{}, err
	}

	text := Format(it, cfg.AuthorAliases)
	ref, err := s.messenger.SendText(ctx, channel, text, &kit.SendOptions{
		ParseMode:      cfg.ParseMode,
		DisablePreview: cfg.DisablePreview,
	})
	if err != nil {
		return Receipt{}, err
	}

	s.log.Info("content announced",
		logx.String("platform", string(it.Platform)),
		logx.String("category", string(it.Category)),
		logx.String("id", it.ID),
		logx.String("channel", ref.ChannelID),
		logx.String("message", ref.MessageID))
	return Receipt{ChannelID: ref.ChannelID, MessageID: ref.MessageID}, nil
}
