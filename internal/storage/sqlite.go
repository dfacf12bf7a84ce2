package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "heraldbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertMember(ctx context.Context, m Member) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if m.SeenAt.IsZero() {
		m.SeenAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members(chat_id, user_id, username, seen_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id, user_id) DO UPDATE SET username=excluded.username, seen_at=excluded.seen_at`,
		m.ChatID, m.UserID, nullStr(m.Username), m.SeenAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Members(ctx context.Context, chatID int64) ([]Member, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, username, seen_at FROM members WHERE chat_id = ? ORDER BY seen_at`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var (
			m        Member
			username sql.NullString
			seenAt   string
		)
		if err := rows.Scan(&m.UserID, &username, &seenAt); err != nil {
			return nil, err
		}
		m.ChatID = chatID
		m.Username = username.String
		if t, perr := time.Parse(time.RFC3339Nano, seenAt); perr == nil {
			m.SeenAt = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendJob(ctx context.Context, r JobRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	var finished any
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, chat_id, actor_id, status, total, success, fail, pending, started_at, finished_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, success=excluded.success, fail=excluded.fail,
		   pending=excluded.pending, finished_at=excluded.finished_at`,
		r.ID, r.ChatID, r.ActorID, r.Status, r.Total, r.Success, r.Fail, r.Pending,
		r.StartedAt.Format(time.RFC3339Nano), finished,
	)
	return err
}

func (s *sqliteStore) AppendFailure(ctx context.Context, f DeliveryFailure) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if f.At.IsZero() {
		f.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_failures(job_id, user_id, reason, at) VALUES(?,?,?,?)`,
		f.JobID, f.UserID, nullStr(f.Reason), f.At.Format(time.RFC3339Nano),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
