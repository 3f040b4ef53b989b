// Package poll drives a detection routine on a randomized interval with
// bounded exponential retry.
//
// The runner is an explicit state machine (Idle, Polling, Stopped) with
// exactly one mutable timer slot. Every transition that schedules a new
// timer first cancels the pending one, so sustained failure can never
// accumulate timers.
package poll

import (
	"context"
	"math/rand"
	"sync"
	"time"

	logx "herald/pkg/logx"
)

// State is the runner's lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// DetectFunc runs one detection cycle. A nil error resets the retry
// counter; an error schedules a backoff retry.
type DetectFunc func(ctx context.Context) error

type Config struct {
	// Normal schedule picks a uniform random interval in
	// [MinInterval, MaxInterval], then perturbs it by ±10% jitter so
	// polls never align with the scraped source's own rate limits.
	MinInterval time.Duration
	MaxInterval time.Duration
	// MaxRetries is the number of consecutive failures tolerated
	// before the runner stops itself (default 5).
	MaxRetries int
}

const (
	defaultMinInterval = time.Minute
	defaultMaxInterval = 3 * time.Minute
	defaultMaxRetries  = 5
)

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = defaultMinInterval
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

// Snapshot is a point-in-time view of the runner, for tests and /health
// style diagnostics.
type Snapshot struct {
	State     State
	Attempts  int
	NextRunAt time.Time
	TimerLive bool
}

// Runner owns its timer handle and attempt counter exclusively.
type Runner struct {
	name string
	cfg  Config
	log  logx.Logger

	detect DetectFunc
	// onExhausted is invoked exactly once when MaxRetries consecutive
	// failures are reached; the owning service tears the runner down.
	onExhausted   func()
	exhaustedOnce sync.Once

	mu        sync.Mutex
	state     State
	timer     *time.Timer // at most one live handle
	attempts  int
	nextRunAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	rng *rand.Rand
}

func NewRunner(name string, cfg Config, detect DetectFunc, onExhausted func(), log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		name:        name,
		cfg:         cfg.withDefaults(),
		log:         log.With(logx.String("poller", name)),
		detect:      detect,
		onExhausted: onExhausted,
		state:       StateIdle,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start schedules the first poll immediately. Calling Start on a
// stopped or already started runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx != nil || r.state == StateStopped {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.scheduleLocked(0)
	r.log.Info("poller started",
		logx.Duration("min_interval", r.cfg.MinInterval),
		logx.Duration("max_interval", r.cfg.MaxInterval),
		logx.Int("max_retries", r.cfg.MaxRetries))
}

// Stop tears the runner down: clears the timer slot, resets the attempt
// counter, and clears nextRunAt. Idempotent.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopLocked()
	r.mu.Unlock()
}

func (r *Runner) stopLocked() {
	if r.state == StateStopped {
		return
	}
	r.state = StateStopped
	r.clearTimerLocked()
	r.attempts = 0
	r.nextRunAt = time.Time{}
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		State:     r.state,
		Attempts:  r.attempts,
		NextRunAt: r.nextRunAt,
		TimerLive: r.timer != nil,
	}
}

// clearTimerLocked empties the single timer slot. Must precede every
// new schedule.
func (r *Runner) clearTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Runner) scheduleLocked(d time.Duration) {
	r.clearTimerLocked()
	if r.state == StateStopped {
		return
	}
	r.nextRunAt = time.Now().Add(d)
	r.timer = time.AfterFunc(d, r.poll)
}

func (r *Runner) poll() {
	r.mu.Lock()
	if r.state == StateStopped || r.ctx == nil || r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.state = StatePolling
	r.timer = nil // the handle that fired is spent
	ctx := r.ctx
	r.mu.Unlock()

	err := r.detect(ctx)

	r.mu.Lock()
	if r.state == StateStopped || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}

	exhausted := false
	if err == nil {
		r.attempts = 0
		r.state = StateIdle
		r.scheduleLocked(r.nextIntervalLocked())
	} else {
		r.attempts++
		r.log.Warn("detection failed",
			logx.Err(err),
			logx.Int("attempt", r.attempts),
			logx.Int("max_retries", r.cfg.MaxRetries))
		if r.attempts >= r.cfg.MaxRetries {
			exhausted = true
			r.stopLocked()
		} else {
			delay := r.retryDelayLocked()
			r.state = StateIdle
			r.scheduleLocked(delay)
		}
	}

	r.mu.Unlock()

	if exhausted {
		r.log.Error("retries exhausted, poller stopped")
		r.exhaustedOnce.Do(func() {
			if r.onExhausted != nil {
				r.onExhausted()
			}
		})
	}
}

// nextIntervalLocked picks uniformly in [min, max] and perturbs by ±10%.
func (r *Runner) nextIntervalLocked() time.Duration {
	min, max := r.cfg.MinInterval, r.cfg.MaxInterval
	base := min
	if max > min {
		base += time.Duration(r.rng.Int63n(int64(max - min + 1)))
	}
	jitter := 0.9 + 0.2*r.rng.Float64()
	return time.Duration(float64(base) * jitter)
}

// retryDelayLocked is min(maxInterval, minInterval * 2^(attempts-1)).
func (r *Runner) retryDelayLocked() time.Duration {
	d := r.cfg.MinInterval
	for i := 1; i < r.attempts; i++ {
		d *= 2
		if d >= r.cfg.MaxInterval {
			return r.cfg.MaxInterval
		}
	}
	if d > r.cfg.MaxInterval {
		return r.cfg.MaxInterval
	}
	return d
}
