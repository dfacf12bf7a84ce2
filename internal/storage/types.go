package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Member is one known chat member, recorded from seen updates.
// The (ChatID, UserID) pair is the identity; Username is display-only.
type Member struct {
	ChatID   int64
	UserID   int64
	Username string
	SeenAt   time.Time
}

// JobRecord is the audit row for one announcement job.
// Keep it compact and schema-stable.
type JobRecord struct {
	ID         string
	ChatID     int64
	ActorID    int64
	Status     string
	Total      int
	Success    int
	Fail       int
	Pending    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// DeliveryFailure records one recipient the dispatcher could not reach.
type DeliveryFailure struct {
	JobID  string
	UserID int64
	Reason string
	At     time.Time
}
