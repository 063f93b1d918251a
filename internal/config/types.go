package config

// Config is the whole courtbot configuration file. Every duration is a Go
// duration string ("500ms", "10s", "2m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Gateway   GatewayConfig   `json:"gateway"`
	Courts    CourtsConfig    `json:"courts"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Polling   PollingConfig   `json:"polling,omitempty"`
	Burst     BurstConfig     `json:"burst,omitempty"`
	Runner    RunnerConfig    `json:"runner,omitempty"`
	Storage   StorageConfig   `json:"storage"`

	// Notifier defaults to enabled when the section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Ops      OpsConfig       `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives mirrored log lines.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// NotifyChats receive booking events as "chat_id" or "chat_id:thread_id".
	// Empty means every owner's private chat.
	NotifyChats []string `json:"notify_chats,omitempty"`
	// Mute lists event kinds that are never relayed (e.g. "target_added").
	Mute []string `json:"mute,omitempty"`
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

// GatewayConfig points at the reservation API.
type GatewayConfig struct {
	BaseURL        string   `json:"base_url"`
	Token          string   `json:"token"`
	UserAgent      string   `json:"user_agent,omitempty"`
	Timeout        string   `json:"timeout,omitempty"`
	RatePerSec     float64  `json:"rate_per_sec,omitempty"`
	RateBurst      int      `json:"rate_burst,omitempty"`
	ParticipantIDs []string `json:"participant_ids,omitempty"`
}

// CourtsConfig is the bookable range and the timezone target dates and
// times are read in.
type CourtsConfig struct {
	First    int    `json:"first"`
	Last     int    `json:"last"`
	Timezone string `json:"timezone,omitempty"`
}

// SchedulerConfig controls the per-target triggers.
//
// Schedules accept a cron expression (5 or 6 fields), "@every <d>" or a
// bare interval such as "5m".
type SchedulerConfig struct {
	LeadWindowDays        int    `json:"lead_window_days"`
	PollSchedule          string `json:"poll_schedule,omitempty"`
	BurstSchedule         string `json:"burst_schedule,omitempty"`
	PollTimeout           string `json:"poll_timeout,omitempty"`
	BurstTimeout          string `json:"burst_timeout,omitempty"`
	ReconcileEvery        string `json:"reconcile_every,omitempty"`
	PruneBeyondLeadWindow bool   `json:"prune_beyond_lead_window,omitempty"`
}

type PollingConfig struct {
	QueryTimeout   string `json:"query_timeout,omitempty"`
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
}

type BurstConfig struct {
	Duration       string `json:"duration,omitempty"`
	Interval       string `json:"interval,omitempty"`
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
}

// RunnerConfig sizes the tick worker pool.
//
// Defaults: workers 4, queue_size 64, history_size 100, timeouts off.
type RunnerConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./courtbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`     // file, sqlite
	DSN         string `json:"dsn,omitempty"`      // postgres (do not log)
	Addr        string `json:"addr,omitempty"`     // redis
	Password    string `json:"password,omitempty"` // redis (do not log)
	DB          int    `json:"db,omitempty"`       // redis
	KeyPrefix   string `json:"key_prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	DialTimeout string `json:"dial_timeout,omitempty"` // postgres, redis
	AuditMax    int    `json:"audit_max,omitempty"`    // redis
}

// NotifierConfig controls the async chat delivery pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// OpsConfig controls the health/metrics/pprof HTTP server.
//
// Prefer a loopback addr. A non-loopback bind needs a token or an explicit
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"`

	// WriteTimeout defaults to 0 so /debug/pprof/profile can run 30s+.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
