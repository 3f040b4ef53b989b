package config

// Config is the root configuration. Duration-typed knobs are Go
// duration strings (e.g. "10s", "2m") validated at load time.
type Config struct {
	Telegram    TelegramConfig                 `json:"telegram"`
	Logging     LoggingConfig                  `json:"logging"`
	Storage     StorageConfig                  `json:"storage"`
	Announce    AnnounceConfig                 `json:"announce"`
	Coordinator CoordinatorConfig              `json:"coordinator"`
	Routes      map[string]map[string][]string `json:"routes"`
	Sources     SourcesConfig                  `json:"sources"`
	Maintenance MaintenanceConfig              `json:"maintenance"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// HistoryDepth bounds the per-channel recent-message view served
	// to reconciliation scans.
	HistoryDepth int `json:"history_depth,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Driver: "sqlite", "redis", or "none"/empty (memory-only cache).
	Driver      string      `json:"driver,omitempty"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"`
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type AnnounceConfig struct {
	RatePerMinute  int    `json:"rate_per_minute,omitempty"`
	ParseMode      string `json:"parse_mode,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	// AuthorAliases maps scraped display names to usernames for
	// repost attribution.
	AuthorAliases map[string]string `json:"author_aliases,omitempty"`
}

type CoordinatorConfig struct {
	LockTimeout    string   `json:"lock_timeout,omitempty"`
	Lookback       string   `json:"lookback,omitempty"`
	SourcePriority []string `json:"source_priority,omitempty"`
}

type SourcesConfig struct {
	Feeds   []FeedConfig  `json:"feeds,omitempty"`
	Webhook WebhookConfig `json:"webhook,omitempty"`
}

type FeedConfig struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Platform    string `json:"platform"`
	Category    string `json:"category"`
	MinInterval string `json:"min_interval,omitempty"`
	MaxInterval string `json:"max_interval,omitempty"`
	MaxRetries  int    `json:"max_retries,omitempty"`
	// RescanCron optionally schedules full feed rescans on a cron spec
	// in addition to interval polling.
	RescanCron string `json:"rescan_cron,omitempty"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}

type MaintenanceConfig struct {
	// StatsCron controls periodic duplicate-cache stats logging
	// (cron spec or "@every ..."); empty disables it.
	StatsCron string `json:"stats_cron,omitempty"`
}
