package announce

import (
	"context"
	"errors"
	"time"

	"heraldbot/internal/dispatch"
	"heraldbot/internal/transport"
)

var (
	ErrDisabled     = errors.New("announce: disabled")
	ErrNotRunning   = errors.New("announce: service not running")
	ErrNoRecipients = errors.New("announce: no known recipients")

	// ErrRecipientFetch wraps directory errors. A job that cannot load its
	// recipient list never starts; nothing is sent.
	ErrRecipientFetch = errors.New("announce: recipient fetch failed")
)

type Config struct {
	Enabled bool

	BatchSize    int
	RateCapacity int
	RateWindow   time.Duration

	// Jobs with more recipients than ConfirmThreshold require operator
	// confirmation before any send.
	ConfirmThreshold int
	ConfirmTimeout   time.Duration

	RetrySlack  time.Duration
	BatchDelay  time.Duration
	SendTimeout time.Duration

	// Status registry bounds.
	StatusMax int
	StatusTTL time.Duration
}

const (
	defaultConfirmThreshold = 50
	defaultConfirmTimeout   = 30 * time.Second
	defaultRateCapacity     = 25
	defaultRateWindow       = time.Minute
	defaultStatusMax        = 200
	defaultStatusTTL        = 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = dispatch.DefaultBatchSize
	}
	if c.RateCapacity <= 0 {
		c.RateCapacity = defaultRateCapacity
	}
	if c.RateWindow <= 0 {
		c.RateWindow = defaultRateWindow
	}
	if c.ConfirmThreshold <= 0 {
		c.ConfirmThreshold = defaultConfirmThreshold
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaultConfirmTimeout
	}
	if c.StatusMax <= 0 {
		c.StatusMax = defaultStatusMax
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = defaultStatusTTL
	}
	return c
}

// Decision is the operator's answer to a confirmation prompt.
type Decision int

const (
	DecisionConfirmed Decision = iota
	DecisionDeclined
	DecisionTimedOut
)

func (d Decision) String() string {
	switch d {
	case DecisionConfirmed:
		return "confirmed"
	case DecisionDeclined:
		return "declined"
	case DecisionTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ConfirmRequest describes the job awaiting confirmation.
type ConfirmRequest struct {
	JobID      string
	ChatID     int64
	Recipients int
	Preview    string
}

// Confirmer asks the operator whether a large job may proceed.
// Implementations must respect ctx; its deadline is the confirmation timeout.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (Decision, error)
}

// Directory resolves the recipient list for a chat.
type Directory interface {
	Members(ctx context.Context, chatID int64) ([]transport.Recipient, error)
}

// Request is one announcement submitted by an operator.
type Request struct {
	ChatID    int64
	ActorID   int64
	From      string
	Text      string
	Anonymous bool

	// OnProgress, when set, receives a snapshot before every batch and one
	// final snapshot. Must be fast; it runs on the job goroutine.
	OnProgress dispatch.ProgressFunc
}

// JobStatus is the in-memory view of one job, live or recently finished.
type JobStatus struct {
	ID        string
	ChatID    int64
	ActorID   int64
	Status    dispatch.Status
	Progress  dispatch.Progress
	Running   bool
	StartedAt time.Time
	DoneAt    time.Time
}
