// Package ratelimit implements per-key cooldowns: a key is allowed at most once
// per window, and idle keys are forgotten after a retention period.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for the two cooldowns the service runs.
const (
	DefaultIngestWindow    = 60 * time.Second
	DefaultIngestRetention = 6 * time.Hour
	DefaultNotifyWindow    = 30 * time.Second
	DefaultNotifyRetention = time.Hour
	DefaultSweepInterval   = time.Minute
)

// Config holds cooldown configuration.
type Config struct {
	Window        time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
}

type entry struct {
	limiter     *rate.Limiter
	lastAllowed time.Time
}

// Cooldown tracks the last allowed time per key.
type Cooldown struct {
	mu         sync.Mutex
	entries    map[string]*entry
	window     time.Duration
	retention  time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
}

// New creates a Cooldown.
func New(cfg Config) *Cooldown {
	if cfg.Window <= 0 {
		cfg.Window = DefaultIngestWindow
	}
	if cfg.Retention < cfg.Window {
		cfg.Retention = cfg.Window
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Cooldown{
		entries:    make(map[string]*entry),
		window:     cfg.Window,
		retention:  cfg.Retention,
		sweepEvery: cfg.SweepInterval,
	}
}

// Allow reports whether key may proceed at now, recording now as the key's last
// allowed time when it does. Denied calls leave the state untouched.
func (c *Cooldown) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(c.window), 1)}
		c.entries[key] = e
	}
	if !e.limiter.AllowN(now, 1) {
		return false
	}
	e.lastAllowed = now

	if now.Sub(c.lastSweep) >= c.sweepEvery {
		c.sweepLocked(now)
	}
	return true
}

// Sweep forgets keys whose last allowed time is older than the retention.
func (c *Cooldown) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(now)
}

func (c *Cooldown) sweepLocked(now time.Time) {
	c.lastSweep = now
	cutoff := now.Add(-c.retention)
	for key, e := range c.entries {
		if e.lastAllowed.Before(cutoff) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of tracked keys.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
