package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Announce controls the mass-DM announcement pipeline.
	Announce AnnounceConfig `json:"announce"`

	// Scheduler runs recurring announcements on cron specs.
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	Storage   *StorageConfig   `json:"storage,omitempty"`
	Keepalive *KeepaliveConfig `json:"keepalive,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat ID (as string) used by the Telegram log sink.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
	// RingSize bounds the in-memory log buffer served by /logs.
	RingSize int `json:"ring_size,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// AnnounceConfig controls announcement delivery.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - batch_size: 5
//   - rate_capacity: 25
//   - rate_window: "1m"
//   - confirm_threshold: 50
//   - confirm_timeout: "30s"
//   - batch_delay: "1s"
type AnnounceConfig struct {
	Enabled bool `json:"enabled"`

	BatchSize    int    `json:"batch_size,omitempty"`
	RateCapacity int    `json:"rate_capacity,omitempty"`
	RateWindow   string `json:"rate_window,omitempty"`

	ConfirmThreshold int    `json:"confirm_threshold,omitempty"`
	ConfirmTimeout   string `json:"confirm_timeout,omitempty"`

	RetrySlack  string `json:"retry_slack,omitempty"`
	BatchDelay  string `json:"batch_delay,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`

	StatusMax int    `json:"status_max,omitempty"`
	StatusTTL string `json:"status_ttl,omitempty"`
}

// SchedulerConfig controls recurring announcements.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone, e.g. "Europe/Berlin". Empty means local time.
	Timezone string `json:"timezone,omitempty"`

	Jobs []ScheduledJob `json:"jobs,omitempty"`
}

// ScheduledJob is one recurring announcement.
//
// Spec accepts standard 5-field cron, the optional seconds variant, cron
// macros ("@daily") and plain Go durations ("12h" becomes "@every 12h").
type ScheduledJob struct {
	Name      string `json:"name"`
	Spec      string `json:"spec"`
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./herald.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// KeepaliveConfig controls the tiny HTTP health endpoint.
type KeepaliveConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8090"
}
