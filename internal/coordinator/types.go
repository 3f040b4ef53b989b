package coordinator

import (
	"time"

	"herald/internal/announce"
)

// Action is the outcome of one ProcessContent call.
type Action string

const (
	ActionAnnounced Action = "announced"
	ActionSkip      Action = "skip"
	ActionFailed    Action = "failed"
)

// Skip/failure reasons. These are the contract surface callers branch on.
const (
	ReasonDuplicateCache      = "duplicate_cache"
	ReasonPreviouslyAnnounced = "previously_announced"
	ReasonLockHeld            = "lock_held"
	ReasonNoDuplicateDetector = "no_duplicate_detector"
	ReasonNoAnnouncer         = "no_announcer"
	ReasonAnnounceFailed      = "announce_failed"
	ReasonNoIdentity          = "no_identity"
)

// FoundIn values for cache hits name the matching signal; for
// reconciliation hits they carry the channel id.
const (
	FoundInID          = "id"
	FoundInURL         = "url"
	FoundInFingerprint = "fingerprint"
)

// Result is the sole contract surface exposed to detection sources.
type Result struct {
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
	// FoundIn names the cache signal or destination channel where the
	// duplicate was found.
	FoundIn string `json:"found_in,omitempty"`
	// MessageID/At describe the pre-existing message for
	// previously_announced skips.
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at,omitzero"`
	// HeldBy names the lock holder source for lock_held skips;
	// HolderRank is its 1-based position in SourcePriority (0 when
	// the holder is not ranked).
	HeldBy     string `json:"held_by,omitempty"`
	HolderRank int    `json:"holder_rank,omitempty"`

	Announcement *announce.Receipt `json:"announcement,omitempty"`
}

// Config tunes the coordinator.
type Config struct {
	// LockTimeout bounds how long a processing lock can be held before
	// it auto-expires (crashed holders must not block an id forever).
	LockTimeout time.Duration
	// Lookback bounds the reconciliation window.
	Lookback time.Duration
	// SourcePriority orders detection sources, highest first. The
	// ordering resolves contention reporting (holder and claimant
	// ranks on lock_held skips) and dispatch order upstream; a live
	// lock is never preempted, whatever the ranks.
	SourcePriority []string
}

const (
	defaultLockTimeout = 30 * time.Second
	defaultLookback    = 10 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.LockTimeout <= 0 {
		c.LockTimeout = defaultLockTimeout
	}
	if c.Lookback <= 0 {
		c.Lookback = defaultLookback
	}
	return c
}
