package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "herald/internal/transport"
	logx "herald/pkg/logx"
)

type Config struct {
	Token        string
	PollTimeout  time.Duration
	HistoryDepth int
}

// Adapter implements transport.Messenger on top of Telegram.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	hist *channelLog

	ready atomic.Bool

	runMu   sync.Mutex
	running bool
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, hist: newChannelLog(cfg.HistoryDepth)}
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Channel posts from other actors (humans, other bots) flow into the
	// recent-message view so reconciliation can find manual announcements.
	a.bot.Handle(tele.OnChannelPost, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		a.hist.record(m.Chat.ID, kit.Message{
			ID:        strconv.Itoa(m.ID),
			Text:      messageText(m),
			CreatedAt: m.Time(),
		})
		return nil
	})
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true

	go a.bot.Start()
	a.ready.Store(true)
	a.log.Info("telegram adapter started", logx.String("bot", a.bot.Me.Username))

	// Stop the poller when the app context ends.
	go func() {
		<-ctx.Done()
		a.Stop(context.Background())
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	a.ready.Store(false)
	a.bot.Stop()
	a.log.Info("telegram adapter stopped")
	return nil
}

func (a *Adapter) Ready() bool { return a.ready.Load() }

func (a *Adapter) SendText(ctx context.Context, channelID, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	chatID, err := parseChannelID(channelID)
	if err != nil {
		return kit.MessageRef{}, err
	}

	var sendOpts []any
	if opt != nil {
		o := &tele.SendOptions{DisableWebPagePreview: opt.DisablePreview}
		if opt.ParseMode != "" {
			o.ParseMode = tele.ParseMode(opt.ParseMode)
		}
		sendOpts = append(sendOpts, o)
	}

	msg, err := a.bot.Send(tele.ChatID(chatID), text, sendOpts...)
	if err != nil {
		return kit.MessageRef{}, err
	}

	// Own sends are part of the recent-message view too.
	a.hist.record(chatID, kit.Message{
		ID:        strconv.Itoa(msg.ID),
		Text:      text,
		CreatedAt: msg.Time(),
	})
	return kit.MessageRef{ChannelID: channelID, MessageID: strconv.Itoa(msg.ID)}, nil
}

func (a *Adapter) RecentMessages(ctx context.Context, channelID string, since time.Time) ([]kit.Message, error) {
	chatID, err := parseChannelID(channelID)
	if err != nil {
		return nil, err
	}
	return a.hist.since(chatID, since), nil
}

func parseChannelID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.New("invalid telegram channel id: " + s)
	}
	return id, nil
}

func messageText(m *tele.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}
