package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42, 99]
  poll_timeout: "10s"
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
  telegram:
    enabled: false
    thread_id: 0
    min_level: warn
    rate_per_sec: 1
announce:
  enabled: true
  batch_size: 5
  rate_capacity: 25
  rate_window: "1m"
  confirm_threshold: 50
  confirm_timeout: "30s"
scheduler:
  enabled: true
  timezone: "UTC"
  jobs:
    - name: weekly
      spec: "@weekly"
      chat_id: -100123
      text: "weekly reminder"
storage:
  driver: sqlite
  path: ./herald.db
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if !cfg.Announce.Enabled || cfg.Announce.RateCapacity != 25 || cfg.Announce.RateWindow != "1m" {
		t.Fatalf("announce = %+v", cfg.Announce)
	}
	if len(cfg.Scheduler.Jobs) != 1 || cfg.Scheduler.Jobs[0].Spec != "@weekly" {
		t.Fatalf("scheduler jobs = %+v", cfg.Scheduler.Jobs)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.yaml", "telegram:\n  token: x\n  bogus_key: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown fields must be rejected")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json", `{"telegram":{"token":"x","owner_user_ids":[]}}{"extra":1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("trailing JSON must be rejected")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 1m30s "); err != nil || d.Seconds() != 90 {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
	if _, err := ParseDurationField("x", "5 parsecs"); err == nil {
		t.Fatal("garbage must be rejected")
	}
}
