package dispatch

import (
	"sync"
	"time"
)

// Limiter is a fixed-window counter: it holds up to capacity tokens and
// refills to full capacity once the window has elapsed, never
// incrementally. Near a window boundary two refills can land close
// together, which permits short bursts above the nominal steady rate.
// That behavior is intentional and callers must not try to smooth it.
//
// One Limiter is shared by every announcement job in the process, so
// check-and-consume is a single critical section.
type Limiter struct {
	mu         sync.Mutex
	capacity   int
	window     time.Duration
	tokens     int
	lastRefill time.Time

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewLimiter creates a limiter granting capacity tokens per window.
// The limiter starts full.
func NewLimiter(capacity int, window time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Second
	}
	l := &Limiter{
		capacity: capacity,
		window:   window,
		tokens:   capacity,
		now:      time.Now,
	}
	l.lastRefill = l.now()
	return l
}

// TryAcquire consumes one token if available. It never blocks.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	if l.tokens <= 0 {
		return false
	}
	l.tokens--
	return true
}

// RetryIn reports how long until a token could be available: 0 when a
// token is available right now, otherwise the time remaining in the
// current window (clamped to >= 0).
func (l *Limiter) RetryIn() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	if l.tokens > 0 {
		return 0
	}
	d := l.window - l.now().Sub(l.lastRefill)
	if d < 0 {
		d = 0
	}
	return d
}

// Reset forces a full refill and restarts the window at now.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = l.capacity
	l.lastRefill = l.now()
}

// refillLocked performs the lazy full-capacity reset. Tokens are never
// topped up partially.
func (l *Limiter) refillLocked() {
	if l.now().Sub(l.lastRefill) >= l.window {
		l.tokens = l.capacity
		l.lastRefill = l.now()
	}
}
