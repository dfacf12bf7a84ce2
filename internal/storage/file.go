package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "heraldbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.jobs.jsonl             (append-only JSON Lines)
//   - <prefix>.failures.jsonl         (append-only JSON Lines)
//   - <prefix>.members.snapshot.json  (periodic snapshot)
//   - <prefix>.members.journal.jsonl  (append-only journal)
//
// The member journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	jobsFile     *os.File
	failuresFile *os.File

	memberSnapshotPath string
	memberJournalFile  *os.File
	members            map[int64]map[int64]memberRecord // chatID -> userID

	memberWrites int
}

type memberRecord struct {
	ChatID   int64  `json:"chat_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	SeenAt   int64  `json:"seen_at"` // unix milli
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	jobsPath := prefix + ".jobs.jsonl"
	failuresPath := prefix + ".failures.jsonl"
	snapPath := prefix + ".members.snapshot.json"
	journalPath := prefix + ".members.journal.jsonl"

	jf, err := os.OpenFile(jobsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	ff, err := os.OpenFile(failuresPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}

	// Load members from snapshot + journal.
	members := map[int64]map[int64]memberRecord{}
	_ = loadMemberSnapshot(snapPath, members)
	_ = replayMemberJournal(journalPath, members)

	mf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = jf.Close()
		_ = ff.Close()
		return nil, err
	}

	return &fileStore{
		log:                log,
		jobsFile:           jf,
		failuresFile:       ff,
		memberSnapshotPath: snapPath,
		memberJournalFile:  mf,
		members:            members,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, f := range []**os.File{&s.jobsFile, &s.failuresFile, &s.memberJournalFile} {
		if *f != nil {
			if err := (*f).Close(); err != nil && first == nil {
				first = err
			}
			*f = nil
		}
	}
	return first
}

func (s *fileStore) UpsertMember(ctx context.Context, m Member) error {
	_ = ctx
	if m.UserID == 0 {
		return nil
	}
	if m.SeenAt.IsZero() {
		m.SeenAt = time.Now()
	}
	rec := memberRecord{
		ChatID:   m.ChatID,
		UserID:   m.UserID,
		Username: m.Username,
		SeenAt:   m.SeenAt.UnixMilli(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memberJournalFile == nil {
		return errors.New("member journal closed")
	}
	chat := s.members[m.ChatID]
	if chat == nil {
		chat = map[int64]memberRecord{}
		s.members[m.ChatID] = chat
	}
	chat[m.UserID] = rec

	if err := json.NewEncoder(s.memberJournalFile).Encode(rec); err != nil {
		return err
	}
	s.memberWrites++
	if s.memberWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("member compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) Members(ctx context.Context, chatID int64) ([]Member, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.members[chatID]
	out := make([]Member, 0, len(chat))
	for _, rec := range chat {
		out = append(out, Member{
			ChatID:   rec.ChatID,
			UserID:   rec.UserID,
			Username: rec.Username,
			SeenAt:   time.UnixMilli(rec.SeenAt),
		})
	}
	// Map order is not stable; return oldest-seen first.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SeenAt.Equal(out[j].SeenAt) {
			return out[i].SeenAt.Before(out[j].SeenAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *fileStore) AppendJob(ctx context.Context, r JobRecord) error {
	_ = ctx
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobsFile == nil {
		return errors.New("jobs file closed")
	}
	return json.NewEncoder(s.jobsFile).Encode(r)
}

func (s *fileStore) AppendFailure(ctx context.Context, f DeliveryFailure) error {
	_ = ctx
	if f.At.IsZero() {
		f.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failuresFile == nil {
		return errors.New("failures file closed")
	}
	return json.NewEncoder(s.failuresFile).Encode(f)
}

func (s *fileStore) compactLocked() error {
	flat := make([]memberRecord, 0, 64)
	for _, chat := range s.members {
		for _, rec := range chat {
			flat = append(flat, rec)
		}
	}

	tmp := s.memberSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(flat); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.memberSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.memberJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.memberJournalFile.Seek(0, 2)
	return err
}

func loadMemberSnapshot(path string, out map[int64]map[int64]memberRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var flat []memberRecord
	if err := json.NewDecoder(f).Decode(&flat); err != nil {
		return err
	}
	for _, rec := range flat {
		putMember(out, rec)
	}
	return nil
}

func replayMemberJournal(path string, out map[int64]map[int64]memberRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec memberRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if rec.UserID == 0 {
			continue
		}
		putMember(out, rec)
	}
	return sc.Err()
}

func putMember(out map[int64]map[int64]memberRecord, rec memberRecord) {
	chat := out[rec.ChatID]
	if chat == nil {
		chat = map[int64]memberRecord{}
		out[rec.ChatID] = chat
	}
	chat[rec.UserID] = rec
}
