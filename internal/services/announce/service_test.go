package announce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"heraldbot/internal/dispatch"
	"heraldbot/internal/transport"
	logx "heraldbot/pkg/logx"
)

type fakeDirectory struct {
	members []transport.Recipient
	err     error
}

func (d *fakeDirectory) Members(context.Context, int64) ([]transport.Recipient, error) {
	return d.members, d.err
}

type fakeConfirmer struct {
	decision Decision
	err      error
	called   atomic.Int32
	block    bool // wait for ctx instead of answering
}

func (c *fakeConfirmer) Confirm(ctx context.Context, _ ConfirmRequest) (Decision, error) {
	c.called.Add(1)
	if c.block {
		<-ctx.Done()
		return DecisionTimedOut, ctx.Err()
	}
	return c.decision, c.err
}

type countingSender struct {
	mu   sync.Mutex
	sent int
	fail map[int64]error
}

func (s *countingSender) SendDirect(_ context.Context, r transport.Recipient, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	return s.fail[r.UserID]
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func members(n int) []transport.Recipient {
	rs := make([]transport.Recipient, n)
	for i := range rs {
		rs[i] = transport.Recipient{UserID: int64(i + 1)}
	}
	return rs
}

func testConfig() Config {
	return Config{
		Enabled:          true,
		BatchSize:        10,
		RateCapacity:     1000,
		RateWindow:       time.Minute,
		ConfirmThreshold: 50,
		ConfirmTimeout:   50 * time.Millisecond,
		RetrySlack:       2 * time.Millisecond,
		BatchDelay:       time.Millisecond,
		SendTimeout:      time.Second,
	}
}

func newTestService(t *testing.T, cfg Config, dir Directory, conf Confirmer, sender dispatch.Sender) *Service {
	t.Helper()
	s := New(cfg, Deps{
		Limiter:   dispatch.NewLimiter(cfg.RateCapacity, cfg.RateWindow),
		Directory: dir,
		Confirmer: conf,
		Sender:    sender,
		Log:       logx.Nop(),
	})
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func TestAnnounceBelowThresholdSkipsConfirmation(t *testing.T) {
	t.Parallel()
	conf := &fakeConfirmer{decision: DecisionDeclined}
	sender := &countingSender{}
	s := newTestService(t, testConfig(), &fakeDirectory{members: members(50)}, conf, sender)

	res, err := s.Announce(context.Background(), Request{ChatID: 1, Text: "hi"})
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if res.Status != dispatch.StatusCompleted || res.Success != 50 {
		t.Fatalf("result = %+v, want completed 50", res)
	}
	// Exactly at the threshold is not "more than".
	if conf.called.Load() != 0 {
		t.Fatal("confirmation must not trigger at or below the threshold")
	}
}

func TestAnnounceDeclinedSendsNothing(t *testing.T) {
	t.Parallel()
	sender := &countingSender{}
	s := newTestService(t, testConfig(), &fakeDirectory{members: members(51)}, &fakeConfirmer{decision: DecisionDeclined}, sender)

	res, err := s.Announce(context.Background(), Request{ChatID: 1, Text: "hi"})
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if res.Status != dispatch.StatusCanceled {
		t.Fatalf("status = %s, want %s", res.Status, dispatch.StatusCanceled)
	}
	if res.Success != 0 || res.Fail != 0 || res.Pending != 51 {
		t.Fatalf("counts = %d/%d/%d, want 0/0/51", res.Success, res.Fail, res.Pending)
	}
	if sender.count() != 0 {
		t.Fatalf("sends = %d, want 0", sender.count())
	}
}

func TestAnnounceConfirmationTimeoutSendsNothing(t *testing.T) {
	t.Parallel()
	sender := &countingSender{}
	s := newTestService(t, testConfig(), &fakeDirectory{members: members(51)}, &fakeConfirmer{block: true}, sender)

	res, err := s.Announce(context.Background(), Request{ChatID: 1, Text: "hi"})
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if res.Status != dispatch.StatusConfirmTimeout {
		t.Fatalf("status = %s, want %s", res.Status, dispatch.StatusConfirmTimeout)
	}
	if res.Success != 0 || res.Fail != 0 {
		t.Fatalf("counts = %d/%d, want 0/0", res.Success, res.Fail)
	}
	if sender.count() != 0 {
		t.Fatalf("sends = %d, want 0", sender.count())
	}
}

func TestAnnounceConfirmedRuns(t *testing.T) {
	t.Parallel()
	conf := &fakeConfirmer{decision: DecisionConfirmed}
	sender := &countingSender{}
	s := newTestService(t, testConfig(), &fakeDirectory{members: members(51)}, conf, sender)

	res, err := s.Announce(context.Background(), Request{ChatID: 1, Text: "hi"})
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if res.Status != dispatch.StatusCompleted || res.Success != 51 {
		t.Fatalf("result = %+v, want completed 51", res)
	}
	if conf.called.Load() != 1 {
		t.Fatalf("confirmations = %d, want 1", conf.called.Load())
	}
}

func TestAnnouncePartialFailures(t *testing.T) {
	t.Parallel()
	sender := &countingSender{fail: map[int64]error{3: errors.New("blocked"), 7: errors.New("blocked"), 9: errors.New("blocked")}}
	s := newTestService(t, testConfig(), &fakeDirectory{members: members(10)}, nil, sender)

	res, err := s.Announce(context.Background(), Request{ChatID: 1, Text: "hi"})
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if res.Status != dispatch.StatusCompleted {
		t.Fatalf("status = %s, want %s", res.Status, dispatch.StatusCompleted)
	}
	if res.Success != 7 || res.Fail != 3 {
		t.Fatalf("counts = %d/%d, want 7/3", res.Success, res.Fail)
	}
}

func TestAnnounceRecipientFetchError(t *testing.T) {
	t.Parallel()
	sender := &countingSender{}
	s := newTestService(t, testConfig(), &fakeDirectory{err: errors.New("boom")}, nil, sender)

	_, err := s.Announce(context.Background(), Request{ChatID: 1, Text: "hi"})
	if !errors.Is(err, ErrRecipientFetch) {
		t.Fatalf("err = %v, want ErrRecipientFetch", err)
	}
	if sender.count() != 0 {
		t.Fatal("nothing may be sent when the recipient list cannot load")
	}
}

func TestAnnounceNoRecipients(t *testing.T) {
	t.Parallel()
	s := newTestService(t, testConfig(), &fakeDirectory{}, nil, &countingSender{})
	if _, err := s.Announce(context.Background(), Request{ChatID: 1, Text: "hi"}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("err = %v, want ErrNoRecipients", err)
	}
}

func TestAnnounceDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	s := newTestService(t, cfg, &fakeDirectory{members: members(1)}, nil, &countingSender{})
	if _, err := s.Announce(context.Background(), Request{ChatID: 1, Text: "hi"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestCancelJobStopsAtBatchBoundary(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.BatchSize = 10
	cfg.BatchDelay = 20 * time.Millisecond
	sender := &countingSender{}
	s := newTestService(t, cfg, &fakeDirectory{members: members(50)}, nil, sender)

	var jobID string
	var once sync.Once
	done := make(chan dispatch.Result, 1)
	go func() {
		res, err := s.Announce(context.Background(), Request{
			ChatID: 1,
			Text:   "hi",
			OnProgress: func(p dispatch.Progress) {
				if p.Success+p.Fail >= 20 {
					once.Do(func() {
						for _, st := range s.Jobs() {
							if st.Running {
								jobID = st.ID
							}
						}
						if jobID == "" || !s.CancelJob(jobID) {
							t.Error("cancel should find the running job")
						}
					})
				}
			},
		})
		if err != nil {
			t.Errorf("announce: %v", err)
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.Status != dispatch.StatusCanceled {
			t.Fatalf("status = %s, want %s", res.Status, dispatch.StatusCanceled)
		}
		if res.Success+res.Fail != 20 || res.Pending != 30 {
			t.Fatalf("counts = %d settled / %d pending, want 20/30", res.Success+res.Fail, res.Pending)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job did not settle")
	}

	st, ok := s.Status(jobID)
	if !ok || st.Status != dispatch.StatusCanceled || st.Running {
		t.Fatalf("status registry = %+v", st)
	}
}

func TestCancelAll(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.BatchSize = 5
	cfg.BatchDelay = 50 * time.Millisecond
	s := newTestService(t, cfg, &fakeDirectory{members: members(100)}, nil, &countingSender{})

	started := make(chan struct{})
	var startOnce sync.Once
	done := make(chan dispatch.Result, 1)
	go func() {
		res, _ := s.Announce(context.Background(), Request{
			ChatID: 1,
			Text:   "hi",
			OnProgress: func(dispatch.Progress) {
				startOnce.Do(func() { close(started) })
			},
		})
		done <- res
	}()

	<-started
	if n := s.CancelAll(); n != 1 {
		t.Fatalf("canceled = %d, want 1", n)
	}

	select {
	case res := <-done:
		if res.Status != dispatch.StatusCanceled {
			t.Fatalf("status = %s, want %s", res.Status, dispatch.StatusCanceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job did not settle after CancelAll")
	}
}
