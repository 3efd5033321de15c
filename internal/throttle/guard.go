// Package throttle enforces a process-wide cooldown between accepted
// pairing requests.
package throttle

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCooldown is the minimum spacing between accepted pairing requests.
const DefaultCooldown = 30 * time.Second

// Guard is a single-token bucket refilled once per cooldown. Callers pass
// the current time explicitly so tests can drive it.
type Guard struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	cooldown time.Duration
}

// New returns a guard that accepts its first request immediately.
// A non-positive cooldown disables throttling.
func New(cooldown time.Duration) *Guard {
	return &Guard{
		limiter:  rate.NewLimiter(limitFor(cooldown), 1),
		cooldown: cooldown,
	}
}

func limitFor(cooldown time.Duration) rate.Limit {
	if cooldown <= 0 {
		return rate.Inf
	}
	return rate.Every(cooldown)
}

// TryAccept records now as the last accepted request if the cooldown has
// elapsed. Otherwise it reports how long the caller must wait.
func (g *Guard) TryAccept(now time.Time) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limiter.AllowN(now, 1) {
		return true, 0
	}
	return false, g.waitLocked(now)
}

// RetryAfter peeks at the remaining cooldown without consuming it.
func (g *Guard) RetryAfter(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waitLocked(now)
}

func (g *Guard) waitLocked(now time.Time) time.Duration {
	limit := g.limiter.Limit()
	if limit == rate.Inf {
		return 0
	}
	tokens := g.limiter.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	wait := time.Duration((1 - tokens) / float64(limit) * float64(time.Second)).Round(time.Millisecond)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// Cooldown returns the configured spacing.
func (g *Guard) Cooldown() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

// SetCooldown changes the spacing for subsequent requests (config hot reload).
func (g *Guard) SetCooldown(now time.Time, cooldown time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = cooldown
	g.limiter.SetLimitAt(now, limitFor(cooldown))
}

// Seconds renders a wait as whole seconds, rounded up, for API responses.
func Seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
