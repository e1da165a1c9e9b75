// Package ratelimit paces outbound crawl requests and tracks the cooldown
// imposed after abuse detection.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// Delay is the fixed pause enforced before each network-facing call.
	Delay time.Duration
	// Cooldown is the window armed by Block after a CAPTCHA is detected.
	Cooldown time.Duration
}

// Limiter enforces a fixed inter-request delay and records an advisory
// cooldown deadline. The cooldown is consulted by whoever decides whether to
// start the next crawl run; the limiter never enforces it on its own.
type Limiter struct {
	bucket   *rate.Limiter
	cooldown time.Duration

	mu           sync.Mutex
	blockedUntil time.Time
	now          func() time.Time
}

// New creates a Limiter. The token bucket starts drained so the very first
// Wait already pauses for the full delay; the crawl loop does not
// special-case "safe" calls.
func New(cfg Config) *Limiter {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg Config, now func() time.Time) *Limiter {
	interval := rate.Inf
	if cfg.Delay > 0 {
		interval = rate.Every(cfg.Delay)
	}
	bucket := rate.NewLimiter(interval, 1)
	bucket.Allow() // drain the initial token
	return &Limiter{
		bucket:   bucket,
		cooldown: cfg.Cooldown,
		now:      now,
	}
}

// Wait blocks until the delay has elapsed since the previous call. It never
// fails; a canceled context merely cuts the pause short.
func (l *Limiter) Wait(ctx context.Context) {
	_ = l.bucket.Wait(ctx)
}

// Block arms the cooldown deadline at now + cooldown.
func (l *Limiter) Block() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockedUntil = l.now().Add(l.cooldown)
}

// IsBlocked reports whether the cooldown deadline has not yet passed.
func (l *Limiter) IsBlocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blockedUntil.IsZero() {
		return false
	}
	return l.now().Before(l.blockedUntil)
}

// BlockedUntil returns the current cooldown deadline, zero if none was set.
func (l *Limiter) BlockedUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockedUntil
}
