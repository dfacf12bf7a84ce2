package dispatch

import (
	"context"
	"sync"
	"time"

	"heraldbot/internal/transport"
	logx "heraldbot/pkg/logx"
)

// Dispatcher runs announcement jobs against a shared Limiter.
//
// Batches are processed strictly sequentially; within a batch every
// delivery runs concurrently and the dispatcher waits for all of them
// to settle before moving on (fan-out/fan-in). Cancellation via the
// job context is cooperative: it is checked at batch boundaries and in
// the limiter-wait loop, never mid-send.
type Dispatcher struct {
	cfg     Config
	limiter *Limiter
	sender  Sender
	log     logx.Logger
}

func New(cfg Config, limiter *Limiter, sender Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:     cfg.withDefaults(),
		limiter: limiter,
		sender:  sender,
		log:     log,
	}
}

// tally aggregates settled deliveries. Pending is always derived from
// total, never stored, so the count invariant cannot drift.
type tally struct {
	mu      sync.Mutex
	success int
	fail    int
}

func (t *tally) add(ok bool) {
	t.mu.Lock()
	if ok {
		t.success++
	} else {
		t.fail++
	}
	t.mu.Unlock()
}

func (t *tally) counts() (success, fail int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.success, t.fail
}

// Run delivers the job to every recipient and returns the final
// aggregate. It blocks until the job settles. Individual delivery
// failures never abort the job; only cancellation stops it early, and
// then only at a checkpoint.
func (d *Dispatcher) Run(ctx context.Context, job Job) Result {
	total := len(job.Recipients)
	batches := Partition(job.Recipients, d.cfg.BatchSize)
	text := formatBody(job)

	start := time.Now()
	d.log.Info("job started",
		logx.String("job", job.ID),
		logx.Int("recipients", total),
		logx.Int("batches", len(batches)),
		logx.Int("batch_size", d.cfg.BatchSize))

	var tl tally
	canceled := false

	for i, batch := range batches {
		if ctx.Err() != nil {
			canceled = true
			break
		}

		d.emitProgress(job, &tl, total)

		var wg sync.WaitGroup
		for _, r := range batch {
			wg.Add(1)
			go func(r transport.Recipient) {
				defer wg.Done()
				d.deliver(ctx, job, r, text, &tl)
			}(r)
		}
		wg.Wait()

		// Unconditional inter-batch pause, independent of token
		// availability. Wakes early when the job is canceled.
		if i < len(batches)-1 {
			if !sleepCtx(ctx, d.cfg.BatchDelay) {
				canceled = true
				break
			}
		}
	}

	success, fail := tl.counts()
	status := StatusCompleted
	if canceled || ctx.Err() != nil {
		status = StatusCanceled
	}
	res := Result{
		Success: success,
		Fail:    fail,
		Pending: total - success - fail,
		Total:   total,
		Status:  status,
	}
	if job.OnProgress != nil {
		job.OnProgress(res.Progress())
	}

	ev := d.log.Info
	if fail > 0 {
		ev = d.log.Warn
	}
	ev("job settled",
		logx.String("job", job.ID),
		logx.String("status", string(status)),
		logx.Int("success", success),
		logx.Int("fail", fail),
		logx.Int("pending", res.Pending),
		logx.Duration("took", time.Since(start)))
	return res
}

// deliver performs one delivery: wait for a limiter token, then send.
// A delivery abandoned while waiting (job canceled) is not counted at
// all; once a token is granted the send always runs to completion.
func (d *Dispatcher) deliver(ctx context.Context, job Job, r transport.Recipient, text string, tl *tally) {
	for {
		if ctx.Err() != nil {
			return
		}
		if d.limiter.TryAcquire() {
			break
		}
		wait := d.limiter.RetryIn() + d.cfg.RetrySlack
		d.log.Debug("rate limited; delivery delayed",
			logx.String("job", job.ID),
			logx.Int64("user", r.UserID),
			logx.Duration("wait", wait))
		if !sleepCtx(ctx, wait) {
			return
		}
	}

	// Detach from the job's cancellation so an in-flight send is never
	// preempted; the timeout alone bounds the call.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SendTimeout)
	err := d.sender.SendDirect(sctx, r, text)
	cancel()

	tl.add(err == nil)
	if err != nil {
		d.log.Warn("delivery failed",
			logx.String("job", job.ID),
			logx.Int64("user", r.UserID),
			logx.String("username", r.Username),
			logx.Err(err))
	}
	if job.OnOutcome != nil {
		job.OnOutcome(Outcome{Recipient: r, Err: err, At: time.Now()})
	}
}

func (d *Dispatcher) emitProgress(job Job, tl *tally, total int) {
	if job.OnProgress == nil {
		return
	}
	success, fail := tl.counts()
	job.OnProgress(Progress{
		Success: success,
		Fail:    fail,
		Pending: total - success - fail,
		Total:   total,
	})
}

func formatBody(job Job) string {
	if job.Anonymous || job.From == "" {
		return job.Text
	}
	return "📣 From " + job.From + ":\n\n" + job.Text
}

// sleepCtx waits for d and reports whether the wait completed; it
// returns false when ctx was canceled first. The timer is always
// stopped, never leaked.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
