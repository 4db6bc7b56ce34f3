package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter decides whether the caller may start another request.
// A rejection should be a *LimitedError so clients learn when to retry.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig is the budget of one service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// LimitedError rejects a request until the caller's window reopens.
type LimitedError struct {
	Tier       string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for tier %s, retry in %s", e.Tier, e.RetryAfter)
}

// Is makes a LimitedError match ErrTooManyRequests.
func (e *LimitedError) Is(target error) bool { return target == ErrTooManyRequests }

const windowLength = time.Minute

// InProcessLimiter counts requests per subject and tier in fixed one minute
// windows. State lives in memory, so replicas limit independently.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int
	now        func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	opened time.Time
	used   int
}

func (w *window) expired(now time.Time) bool { return now.Sub(w.opened) >= windowLength }

// NewInProcessLimiter returns a limiter using tiers, falling back to
// defaultRPM for unknown tiers. Zero requests per minute is unlimited.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		now:        time.Now,
		windows:    make(map[string]*window),
	}
}

func (l *InProcessLimiter) budget(tier string) int {
	if tc, ok := l.tiers[tier]; ok {
		return tc.RequestsPerMinute
	}
	return l.defaultRPM
}

// Allow spends one request from the caller's current window.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.Tier()
	limit := l.budget(tier)
	if limit <= 0 {
		return nil
	}
	key := identity.Owner() + "\x00" + tier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[key]
	if w == nil || w.expired(now) {
		l.sweep(now)
		l.windows[key] = &window{opened: now, used: 1}
		return nil
	}
	if w.used >= limit {
		return &LimitedError{Tier: tier, RetryAfter: w.opened.Add(windowLength).Sub(now)}
	}
	w.used++
	return nil
}

// sweep forgets closed windows so idle callers cost nothing. l.mu is held.
func (l *InProcessLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if w.expired(now) {
			delete(l.windows, k)
		}
	}
}
