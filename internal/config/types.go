package config

// Config is the on-disk configuration (JSON or YAML). Unknown keys are
// rejected so typos surface on load and on hot reload.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier may be omitted; it then runs enabled with defaults.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	// Storage may be omitted; reminders then go to ./remindme.db (sqlite).
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Reminders RemindersConfig `json:"reminders"`

	// Debug is the optional pprof + /healthz HTTP server; off when omitted.
	Debug *DebugConfig `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// GroupLog is the chat id operator logs are forwarded to.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	StopGrace   string `json:"stop_grace,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
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

// SchedulerConfig controls reminder timers and the overdue sweep.
//
// Defaults:
//   - sweep: "@every 1m" ("off" disables it)
//   - fire_timeout: "30s"
//   - job_timeout: "30s"
type SchedulerConfig struct {
	// Sweep is a cron spec, "every <dur>", "HH:MM" or a bare duration.
	Sweep       string `json:"sweep,omitempty"`
	FireTimeout string `json:"fire_timeout,omitempty"`
	JobTimeout  string `json:"job_timeout,omitempty"`
	// Timezone for cron sweep specs; reminders themselves are relative.
	Timezone string `json:"timezone,omitempty"`
}

// NotifierConfig controls delivery of reminder notices.
//
// All durations are Go duration strings.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// StorageConfig selects the reminder store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindme.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres URL or redis address; never logged
	BusyTimeout string `json:"busy_timeout,omitempty"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
}

type RemindersConfig struct {
	PurgeOnCancel bool `json:"purge_on_cancel"`
	// MaxDelay is a Go duration string; empty or "0s" means unbounded.
	MaxDelay string `json:"max_delay,omitempty"`
}

// DebugConfig controls the debug HTTP server.
//
// Defaults:
//   - addr: "127.0.0.1:6060"
//   - prefix: "/debug/pprof/"
//   - read_timeout: "5s", idle_timeout: "120s", write_timeout: none
//
// Binding a non-loopback addr requires token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
