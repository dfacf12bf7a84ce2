package dispatch

import (
	"context"
	"time"

	"heraldbot/internal/transport"
)

// Status is the terminal state of one announcement job.
type Status string

const (
	// StatusCompleted means every batch ran; individual deliveries may
	// still have failed.
	StatusCompleted Status = "completed"
	// StatusCanceled means the job was stopped at a checkpoint (or the
	// confirmation step was declined); counts cover finished work only.
	StatusCanceled Status = "canceled"
	// StatusConfirmTimeout means the confirmation step expired before
	// anyone decided; nothing was delivered.
	StatusConfirmTimeout Status = "confirm_timeout"
)

// Config controls dispatch pacing. Zero values take the defaults below.
type Config struct {
	// BatchSize is the number of concurrent deliveries per batch.
	BatchSize int
	// RetrySlack is added on top of Limiter.RetryIn() before a blocked
	// delivery rechecks the limiter.
	RetrySlack time.Duration
	// BatchDelay is the unconditional pause between batches, applied
	// regardless of token availability to smooth load.
	BatchDelay time.Duration
	// SendTimeout bounds a single delivery call.
	SendTimeout time.Duration
}

const (
	DefaultBatchSize   = 5
	DefaultRetrySlack  = 100 * time.Millisecond
	DefaultBatchDelay  = time.Second
	DefaultSendTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RetrySlack <= 0 {
		c.RetrySlack = DefaultRetrySlack
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// Sender is the external delivery collaborator.
type Sender interface {
	SendDirect(ctx context.Context, r transport.Recipient, text string) error
}

// Progress is a point-in-time snapshot of job counts.
// Success + Fail + Pending == Total always holds.
type Progress struct {
	Success int
	Fail    int
	Pending int
	Total   int
}

// ProgressFunc receives one snapshot per batch boundary plus a final
// one when the job settles. It is called from the dispatcher goroutine
// and must not block for long.
type ProgressFunc func(p Progress)

// Outcome reports a single settled delivery. Err is nil on success.
type Outcome struct {
	Recipient transport.Recipient
	Err       error
	At        time.Time
}

// Job describes one dispatch invocation. Jobs are never persisted.
type Job struct {
	ID         string
	Recipients []transport.Recipient
	Text       string
	// Anonymous suppresses the sender attribution line.
	Anonymous bool
	// From is the display name used for attribution when not anonymous.
	From string

	OnProgress ProgressFunc
	// OnOutcome observes every settled delivery (success or failure).
	// Abandoned deliveries (canceled while waiting for a token) are not
	// reported.
	OnOutcome func(o Outcome)
}

// Result is the final aggregate returned to the caller. Pending counts
// recipients whose delivery never started (canceled batches).
type Result struct {
	Success int
	Fail    int
	Pending int
	Total   int
	Status  Status
}

func (r Result) Progress() Progress {
	return Progress{Success: r.Success, Fail: r.Fail, Pending: r.Pending, Total: r.Total}
}
