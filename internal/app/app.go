package app

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"herald/internal/announce"
	"herald/internal/config"
	"herald/internal/content"
	"herald/internal/coordinator"
	"herald/internal/dedup"
	"herald/internal/eventbus"
	"herald/internal/poll"
	"herald/internal/route"
	"herald/internal/runtime/supervisor"
	"herald/internal/source/feed"
	"herald/internal/source/webhook"
	"herald/internal/storage"
	"herald/internal/transport/telegram"
	logx "herald/pkg/logx"
)

// App wires config, transport, storage, the duplicate cache, the
// coordinator and the detection sources into one lifecycle.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	cache   *dedup.Cache

	routeMu sync.RWMutex
	routes  *route.Table

	announcer *announce.Service
	coord     *coordinator.Coordinator

	feeds []*feedSource
	hook  *webhook.Service
	cron  *cron.Cron
}

// feedSource pairs a feed with its polling runner and any cron rescan
// entry registered for it.
type feedSource struct {
	src    *feed.Source
	runner *poll.Runner
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:        cfg.Telegram.Token,
		PollTimeout:  pollTimeout,
		HistoryDepth: cfg.Telegram.HistoryDepth,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	cache := dedup.NewCache(store, log.With(logx.String("comp", "dedup")))
	routes := route.NewTable(cfg.Routes)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		cache:   cache,
		routes:  routes,
	}

	a.announcer = announce.New(mapAnnounceConfig(cfg), ad, a.routeTable, log.With(logx.String("comp", "announce")))

	coordCfg, err := mapCoordinatorConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.coord = coordinator.New(coordCfg, coordinator.Deps{
		Cache:     cache,
		Messenger: ad,
		Announcer: a.announcer,
		Routes:    routes,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "coordinator")),
	})

	a.cron = cron.New()

	for _, fc := range orderFeeds(cfg.Sources.Feeds, a.coord.PriorityRank) {
		fs, err := a.newFeedSource(fc)
		if err != nil {
			return nil, err
		}
		a.feeds = append(a.feeds, fs)
	}

	if cfg.Sources.Webhook.Enabled {
		a.hook = webhook.New(webhook.Config{
			Addr:          cfg.Sources.Webhook.Addr,
			Token:         cfg.Sources.Webhook.Token,
			Name:          "webhook",
			AuthorAliases: cfg.Announce.AuthorAliases,
		}, a.coord, log.With(logx.String("comp", "webhook")))
	}

	if spec := strings.TrimSpace(cfg.Maintenance.StatsCron); spec != "" {
		if _, err := a.cron.AddFunc(spec, a.logCacheStats); err != nil {
			return nil, fmt.Errorf("maintenance.stats_cron: %w", err)
		}
	}

	return a, nil
}

func (a *App) newFeedSource(fc config.FeedConfig) (*feedSource, error) {
	prefix := "sources.feeds." + fc.Name
	src := feed.New(feed.Config{
		Name:     fc.Name,
		URL:      fc.URL,
		Platform: content.Platform(fc.Platform),
		Category: content.Category(fc.Category),
	}, a.coord, a.log.With(logx.String("comp", "feed")))

	min, err := config.ParseDurationField(prefix+".min_interval", fc.MinInterval)
	if err != nil {
		return nil, err
	}
	max, err := config.ParseDurationField(prefix+".max_interval", fc.MaxInterval)
	if err != nil {
		return nil, err
	}

	name := fc.Name
	onExhausted := func() {
		a.log.Error("source retries exhausted; polling stopped", logx.String("source", name))
		a.bus.Publish(eventbus.Event{
			Type: eventbus.EventFailed,
			Time: time.Now(),
			Data: map[string]string{"source": name, "reason": "retries_exhausted"},
		})
	}
	runner := poll.NewRunner(fc.Name, poll.Config{
		MinInterval: min,
		MaxInterval: max,
		MaxRetries:  fc.MaxRetries,
	}, src.Detect, onExhausted, a.log.With(logx.String("comp", "poll")))

	if spec := strings.TrimSpace(fc.RescanCron); spec != "" {
		_, err := a.cron.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := src.Detect(ctx); err != nil {
				a.log.Warn("cron rescan failed", logx.String("source", name), logx.Err(err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("%s.rescan_cron: %w", prefix, err)
		}
	}

	return &feedSource{src: src, runner: runner}, nil
}

// orderFeeds sorts feeds by source priority rank (lower rank first,
// unranked feeds after all ranked ones) so higher-priority sources are
// started, and thus detect, ahead of lower-priority ones. The sort is
// stable, so feeds with equal rank keep their config order.
func orderFeeds(feeds []config.FeedConfig, rank func(string) int) []config.FeedConfig {
	out := append([]config.FeedConfig(nil), feeds...)
	key := func(f config.FeedConfig) int {
		if r := rank(f.Name); r > 0 {
			return r
		}
		return len(feeds) + 1
	}
	sort.SliceStable(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

func (a *App) routeTable() *route.Table {
	a.routeMu.RLock()
	defer a.routeMu.RUnlock()
	return a.routes
}

func (a *App) setRoutes(t *route.Table) {
	a.routeMu.Lock()
	a.routes = t
	a.routeMu.Unlock()
	a.coord.SetRoutes(t)
}

func (a *App) logCacheStats() {
	st := a.cache.Stats()
	a.log.Info("duplicate cache stats",
		logx.Int("ids", st.IDsKnown),
		logx.Int("urls", st.URLsKnown),
		logx.Int("fingerprints", st.FingerprintsKnown))
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapCoordinatorConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}

	// Restore the duplicate cache before any source can detect.
	loadCtx, cancel := context.WithTimeout(a.sup.Context(), 15*time.Second)
	err := a.cache.Load(loadCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("restore duplicate cache: %w", err)
	}

	for _, fs := range a.feeds {
		fs.runner.Start(a.sup.Context())
	}
	if a.hook != nil {
		if err := a.hook.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	a.cron.Start()

	// Log announcement outcomes for observability.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if e.Type == eventbus.EventAnnounced {
					a.log.Info("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				} else {
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("feeds", len(a.feeds)),
		logx.Bool("webhook", a.hook != nil))
	return nil
}

// applyConfig applies what can change live: logging, announce tuning,
// and the routing table. Transport, storage and source topology need a
// restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	if oldCfg == nil {
		oldCfg = &config.Config{}
	}
	changed := make([]string, 0, 4)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		a.logs.Apply(logx.Config{
			Level:   newCfg.Logging.Level,
			Console: newCfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: newCfg.Logging.File.Enabled,
				Path:    newCfg.Logging.File.Path,
			},
		})
		changed = append(changed, "logging")
	}

	if !reflect.DeepEqual(oldCfg.Announce, newCfg.Announce) {
		a.announcer.Apply(mapAnnounceConfig(newCfg))
		changed = append(changed, "announce")
	}

	if !reflect.DeepEqual(oldCfg.Routes, newCfg.Routes) {
		a.setRoutes(route.NewTable(newCfg.Routes))
		changed = append(changed, "routes")
	}

	for name, pair := range map[string][2]any{
		"telegram":    {oldCfg.Telegram, newCfg.Telegram},
		"storage":     {oldCfg.Storage, newCfg.Storage},
		"coordinator": {oldCfg.Coordinator, newCfg.Coordinator},
		"sources":     {oldCfg.Sources, newCfg.Sources},
		"maintenance": {oldCfg.Maintenance, newCfg.Maintenance},
	} {
		if !reflect.DeepEqual(pair[0], pair[1]) {
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", name))
		}
	}

	if len(changed) > 0 {
		a.log.Info("config reloaded", logx.String("changed", strings.Join(changed, ",")))
	} else {
		a.log.Info("config reloaded (no live changes)")
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Bounded shutdown steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	// Stop sources first so nothing reaches the coordinator while the
	// transport unwinds.
	step("feeds", 2*time.Second, func(context.Context) error {
		for _, fs := range a.feeds {
			fs.runner.Stop()
		}
		return nil
	})
	step("cron", 2*time.Second, func(c context.Context) error {
		select {
		case <-a.cron.Stop().Done():
		case <-c.Done():
			return c.Err()
		}
		return nil
	})
	if a.hook != nil {
		step("webhook", 2*time.Second, func(c context.Context) error { return a.hook.Stop(c) })
	}
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	if !a.sup.Stop(2 * time.Second) {
		a.log.Warn("supervisor wait timed out")
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:        cfg.Storage.Driver,
		Path:          cfg.Storage.Path,
		BusyTimeout:   busy,
		RedisAddr:     cfg.Storage.Redis.Addr,
		RedisPassword: cfg.Storage.Redis.Password,
		RedisDB:       cfg.Storage.Redis.DB,
		RedisPrefix:   cfg.Storage.Redis.Prefix,
	}, nil
}

func mapAnnounceConfig(cfg *config.Config) announce.Config {
	return announce.Config{
		RatePerMinute:  cfg.Announce.RatePerMinute,
		ParseMode:      cfg.Announce.ParseMode,
		DisablePreview: cfg.Announce.DisablePreview,
		AuthorAliases:  cfg.Announce.AuthorAliases,
	}
}

func mapCoordinatorConfig(cfg *config.Config) (coordinator.Config, error) {
	lockTimeout, err := config.ParseDurationField("coordinator.lock_timeout", cfg.Coordinator.LockTimeout)
	if err != nil {
		return coordinator.Config{}, err
	}
	lookback, err := config.ParseDurationField("coordinator.lookback", cfg.Coordinator.Lookback)
	if err != nil {
		return coordinator.Config{}, err
	}
	return coordinator.Config{
		LockTimeout:    lockTimeout,
		Lookback:       lookback,
		SourcePriority: cfg.Coordinator.SourcePriority,
	}, nil
}
