package storage

import (
	"context"
	"errors"
	"strings"

	logx "heraldbot/pkg/logx"
)

// Store is the minimal persistence API used by core/services.
type Store interface {
	UpsertMember(ctx context.Context, m Member) error
	Members(ctx context.Context, chatID int64) ([]Member, error)
	AppendJob(ctx context.Context, r JobRecord) error
	AppendFailure(ctx context.Context, f DeliveryFailure) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
