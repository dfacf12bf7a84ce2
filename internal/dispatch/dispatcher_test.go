package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"heraldbot/internal/transport"
	logx "heraldbot/pkg/logx"
)

// fakeSender records deliveries and fails for configured user IDs.
type fakeSender struct {
	mu    sync.Mutex
	sent  []int64
	times []time.Time
	fail  map[int64]error
	delay time.Duration
}

func (f *fakeSender) SendDirect(_ context.Context, r transport.Recipient, _ string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.sent = append(f.sent, r.UserID)
	f.times = append(f.times, time.Now())
	err := f.fail[r.UserID]
	f.mu.Unlock()
	return err
}

func (f *fakeSender) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fastConfig keeps tests quick; pacing semantics are unchanged.
func fastConfig(batchSize int) Config {
	return Config{
		BatchSize:   batchSize,
		RetrySlack:  2 * time.Millisecond,
		BatchDelay:  time.Millisecond,
		SendTimeout: time.Second,
	}
}

func TestRunAllSucceed(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := New(fastConfig(4), NewLimiter(1000, time.Minute), sender, logx.Nop())

	res := d.Run(context.Background(), Job{ID: "j1", Recipients: recipients(10), Text: "hi"})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", res.Status, StatusCompleted)
	}
	if res.Success != 10 || res.Fail != 0 || res.Pending != 0 {
		t.Fatalf("counts = %d/%d/%d, want 10/0/0", res.Success, res.Fail, res.Pending)
	}
	if sender.attempts() != 10 {
		t.Fatalf("attempts = %d, want 10", sender.attempts())
	}
}

func TestRunPartialFailuresDoNotAbort(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{fail: map[int64]error{
		2: errors.New("privacy settings"),
		5: errors.New("blocked"),
		9: errors.New("deactivated"),
	}}
	d := New(fastConfig(3), NewLimiter(1000, time.Minute), sender, logx.Nop())

	res := d.Run(context.Background(), Job{ID: "j2", Recipients: recipients(10), Text: "hi"})

	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", res.Status, StatusCompleted)
	}
	if res.Success != 7 || res.Fail != 3 || res.Pending != 0 {
		t.Fatalf("counts = %d/%d/%d, want 7/3/0", res.Success, res.Fail, res.Pending)
	}
}

func TestRunProgressInvariant(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := New(fastConfig(5), NewLimiter(1000, time.Minute), sender, logx.Nop())

	var (
		mu        sync.Mutex
		snapshots []Progress
	)
	res := d.Run(context.Background(), Job{
		ID:         "j3",
		Recipients: recipients(23),
		Text:       "hi",
		OnProgress: func(p Progress) {
			mu.Lock()
			snapshots = append(snapshots, p)
			mu.Unlock()
		},
	})

	// One snapshot before each of the 5 batches plus the final one.
	if len(snapshots) != 6 {
		t.Fatalf("snapshots = %d, want 6", len(snapshots))
	}
	for i, p := range snapshots {
		if p.Success+p.Fail+p.Pending != p.Total {
			t.Fatalf("snapshot %d: %d+%d+%d != %d", i, p.Success, p.Fail, p.Pending, p.Total)
		}
		if p.Total != 23 {
			t.Fatalf("snapshot %d: total = %d, want 23", i, p.Total)
		}
	}
	if first := snapshots[0]; first.Success != 0 || first.Fail != 0 || first.Pending != 23 {
		t.Fatalf("first snapshot = %+v, want 0/0/23", first)
	}
	if res.Success != 23 {
		t.Fatalf("success = %d, want 23", res.Success)
	}
}

func TestRunCancelBetweenBatches(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := New(fastConfig(10), NewLimiter(1000, time.Minute), sender, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	var count int
	var mu sync.Mutex
	res := d.Run(ctx, Job{
		ID:         "j4",
		Recipients: recipients(50),
		Text:       "hi",
		OnOutcome: func(Outcome) {
			mu.Lock()
			count++
			n := count
			mu.Unlock()
			if n == 20 {
				// Cancel as soon as batch 2 settles.
				once.Do(cancel)
			}
		},
	})

	if res.Status != StatusCanceled {
		t.Fatalf("status = %s, want %s", res.Status, StatusCanceled)
	}
	if res.Success+res.Fail != 20 {
		t.Fatalf("settled = %d, want 20 (batches 3+ must not be counted)", res.Success+res.Fail)
	}
	if res.Pending != 30 {
		t.Fatalf("pending = %d, want 30", res.Pending)
	}
	if sender.attempts() != 20 {
		t.Fatalf("attempts = %d, want 20", sender.attempts())
	}
}

func TestRunCanceledBeforeStart(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	d := New(fastConfig(5), NewLimiter(1000, time.Minute), sender, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Run(ctx, Job{ID: "j5", Recipients: recipients(10), Text: "hi"})

	if res.Status != StatusCanceled {
		t.Fatalf("status = %s, want %s", res.Status, StatusCanceled)
	}
	if res.Success != 0 || res.Fail != 0 || res.Pending != 10 {
		t.Fatalf("counts = %d/%d/%d, want 0/0/10", res.Success, res.Fail, res.Pending)
	}
	if sender.attempts() != 0 {
		t.Fatalf("attempts = %d, want 0", sender.attempts())
	}
}

func TestRunWaitsOutExhaustedLimiter(t *testing.T) {
	t.Parallel()
	// 25 tokens per window cannot cover 120 sends up front, so the job
	// must ride through several refills.
	const window = 50 * time.Millisecond
	sender := &fakeSender{}
	d := New(fastConfig(5), NewLimiter(25, window), sender, logx.Nop())

	start := time.Now()
	res := d.Run(context.Background(), Job{ID: "j6", Recipients: recipients(120), Text: "hi"})
	elapsed := time.Since(start)

	if res.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", res.Status, StatusCompleted)
	}
	if res.Success != 120 || res.Fail != 0 {
		t.Fatalf("counts = %d/%d, want 120/0", res.Success, res.Fail)
	}
	// 120 sends at 25 per window needs at least 4 window resets.
	if elapsed < window {
		t.Fatalf("job finished in %v; expected at least one limiter wait (>= %v)", elapsed, window)
	}
}

func TestRunAbandonsWaitersOnCancel(t *testing.T) {
	t.Parallel()
	// One token for a two-recipient batch: the second delivery blocks in
	// the limiter-wait loop. Canceling must abandon it without counting
	// it as success or failure.
	sender := &fakeSender{}
	cfg := Config{
		BatchSize:   2,
		RetrySlack:  5 * time.Millisecond,
		BatchDelay:  time.Millisecond,
		SendTimeout: time.Second,
	}
	d := New(cfg, NewLimiter(1, time.Hour), sender, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	res := d.Run(ctx, Job{
		ID:         "j7",
		Recipients: recipients(2),
		Text:       "hi",
		OnOutcome: func(Outcome) {
			once.Do(cancel)
		},
	})

	if res.Status != StatusCanceled {
		t.Fatalf("status = %s, want %s", res.Status, StatusCanceled)
	}
	if res.Success != 1 || res.Fail != 0 || res.Pending != 1 {
		t.Fatalf("counts = %d/%d/%d, want 1/0/1", res.Success, res.Fail, res.Pending)
	}
}

func TestFormatBody(t *testing.T) {
	t.Parallel()
	if got := formatBody(Job{Text: "hello", From: "ops", Anonymous: true}); got != "hello" {
		t.Fatalf("anonymous body = %q", got)
	}
	if got := formatBody(Job{Text: "hello"}); got != "hello" {
		t.Fatalf("no-sender body = %q", got)
	}
	got := formatBody(Job{Text: "hello", From: "ops"})
	if got == "hello" {
		t.Fatal("attributed body should carry the sender line")
	}
}
