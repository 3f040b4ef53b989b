package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default for single-host deploys)
//   - "redis":  Redis set-backed store (shared/restartable deploys)
//
// If Driver is empty or "none", storage is disabled and the duplicate
// cache runs memory-only.
type Config struct {
	Driver      string
	Path        string        // sqlite only
	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisAddr     string // redis only, host:port
	RedisPassword string
	RedisDB       int
	RedisPrefix   string // key prefix, default "herald"
}

// Kind partitions seen-keys so an id can never shadow a URL.
type Kind string

const (
	KindID          Kind = "id"
	KindURL         Kind = "url"
	KindFingerprint Kind = "fp"
)

// SeenKey is one persisted duplicate-cache entry.
type SeenKey struct {
	Kind  Kind
	Value string
}
