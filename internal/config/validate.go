package config

import (
	"fmt"
	"strings"
)

// Validate checks cross-field constraints that the strict decoder cannot
// express. It is used both at startup and as the Watch() validation hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token: required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if cfg.Telegram.HistoryDepth < 0 {
		return fmt.Errorf("telegram.history_depth: must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none":
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path: required for sqlite driver")
		}
	case "redis":
		if strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
			return fmt.Errorf("storage.redis.addr: required for redis driver")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	if _, err := ParseDurationField("coordinator.lock_timeout", cfg.Coordinator.LockTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("coordinator.lookback", cfg.Coordinator.Lookback); err != nil {
		return err
	}

	if cfg.Announce.RatePerMinute < 0 {
		return fmt.Errorf("announce.rate_per_minute: must be >= 0")
	}

	seen := make(map[string]struct{}, len(cfg.Sources.Feeds))
	for i, f := range cfg.Sources.Feeds {
		prefix := fmt.Sprintf("sources.feeds[%d]", i)
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%s.name: required", prefix)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%s.name: duplicate feed name %q", prefix, f.Name)
		}
		seen[f.Name] = struct{}{}
		if strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("%s.url: required", prefix)
		}
		if strings.TrimSpace(f.Platform) == "" {
			return fmt.Errorf("%s.platform: required", prefix)
		}
		min, err := ParseDurationField(prefix+".min_interval", f.MinInterval)
		if err != nil {
			return err
		}
		max, err := ParseDurationField(prefix+".max_interval", f.MaxInterval)
		if err != nil {
			return err
		}
		if min > 0 && max > 0 && min > max {
			return fmt.Errorf("%s: min_interval exceeds max_interval", prefix)
		}
		if f.MaxRetries < 0 {
			return fmt.Errorf("%s.max_retries: must be >= 0", prefix)
		}
	}

	if cfg.Sources.Webhook.Enabled && strings.TrimSpace(cfg.Sources.Webhook.Addr) == "" {
		return fmt.Errorf("sources.webhook.addr: required when enabled")
	}

	return nil
}
