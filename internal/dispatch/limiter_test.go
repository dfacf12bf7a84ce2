package dispatch

import (
	"sync"
	"testing"
	"time"
)

// fakeClock lets limiter tests control time explicitly.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(capacity int, window time.Duration) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewLimiter(capacity, window)
	l.now = clk.Now
	l.Reset()
	return l, clk
}

func TestLimiterGrantsCapacityThenDenies(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		if !l.TryAcquire() {
			t.Fatalf("acquire %d should succeed", i+1)
		}
	}
	if l.TryAcquire() {
		t.Fatal("acquire beyond capacity should fail")
	}
}

func TestLimiterFullResetAfterWindow(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		l.TryAcquire()
	}
	if l.TryAcquire() {
		t.Fatal("should be exhausted")
	}

	// Mid-window: still exhausted, no partial refill.
	clk.Advance(30 * time.Second)
	if l.TryAcquire() {
		t.Fatal("no tokens before the window elapses")
	}

	clk.Advance(30 * time.Second)
	for i := 0; i < 3; i++ {
		if !l.TryAcquire() {
			t.Fatalf("acquire %d should succeed after refill", i+1)
		}
	}
	if l.TryAcquire() {
		t.Fatal("refill is to capacity, not beyond")
	}
}

func TestLimiterBoundaryBurst(t *testing.T) {
	t.Parallel()
	// Fixed-window semantics: draining just before the boundary and
	// again just after permits 2x capacity within a short span. That
	// behavior is part of the contract.
	l, clk := newTestLimiter(4, time.Minute)

	clk.Advance(59 * time.Second)
	for i := 0; i < 4; i++ {
		if !l.TryAcquire() {
			t.Fatalf("pre-boundary acquire %d should succeed", i+1)
		}
	}
	clk.Advance(2 * time.Second)
	for i := 0; i < 4; i++ {
		if !l.TryAcquire() {
			t.Fatalf("post-boundary acquire %d should succeed", i+1)
		}
	}
}

func TestLimiterRetryIn(t *testing.T) {
	t.Parallel()
	l, clk := newTestLimiter(2, time.Minute)

	if got := l.RetryIn(); got != 0 {
		t.Fatalf("RetryIn = %v with tokens available, want 0", got)
	}
	l.TryAcquire()
	l.TryAcquire()

	clk.Advance(15 * time.Second)
	if got := l.RetryIn(); got != 45*time.Second {
		t.Fatalf("RetryIn = %v, want 45s", got)
	}

	// RetryIn == 0 must imply TryAcquire succeeds.
	clk.Advance(45 * time.Second)
	if got := l.RetryIn(); got != 0 {
		t.Fatalf("RetryIn = %v after window, want 0", got)
	}
	if !l.TryAcquire() {
		t.Fatal("TryAcquire should succeed when RetryIn reported 0")
	}
}

func TestLimiterReset(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(1, time.Minute)

	l.TryAcquire()
	if l.TryAcquire() {
		t.Fatal("should be exhausted")
	}
	l.Reset()
	if !l.TryAcquire() {
		t.Fatal("Reset should restore full capacity")
	}
}

func TestLimiterConcurrentNoOverAdmission(t *testing.T) {
	t.Parallel()
	const capacity = 50
	l, _ := newTestLimiter(capacity, time.Minute)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != capacity {
		t.Fatalf("granted = %d, want exactly %d", granted, capacity)
	}
}
