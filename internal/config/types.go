package config

// Config is the on-disk daemon configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m"). Omitted or zero
// fields fall back to the runtime defaults of the component they configure.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls job execution. If omitted, the engine follows
	// scheduler.enabled with default sizing.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Lifecycle LifecycleConfig `json:"lifecycle"`
	Reminders RemindersConfig `json:"reminders"`

	// Notifier may be omitted; it then defaults to enabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Telegram TelegramConfig  `json:"telegram"`
	Metrics  MetricsConfig   `json:"metrics"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Format is "console" or "json" for the console sink.
	Format  string      `json:"format,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the API listener.
//
// Defaults: addr ":8080", read_timeout "10s", write_timeout "15s",
// idle_timeout "60s", shutdown_timeout "5s".
type HTTPConfig struct {
	Addr            string `json:"addr,omitempty"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	// Pprof mounts net/http/pprof under /debug. Keep it off on public listeners.
	Pprof bool `json:"pprof,omitempty"`

	// Per-user request limit on /api. rate_per_sec 0 disables it.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./skillswap.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls trigger registration.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone for cron specs without CRON_TZ. Reminder triggers always use UTC.
	Timezone       string `json:"timezone,omitempty"`
	OnceRetryDelay string `json:"once_retry_delay,omitempty"`
}

// TaskEngineConfig controls the job execution engine.
//
// Enabled is a pointer so "omitted" (follow scheduler.enabled) differs from
// an explicit false.
//
// Defaults: workers 2, queue_size 256, history_size 200, retry_max 3.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	// MaxQueueDelay drops tasks queued longer than this. "0s" disables it.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
}

// LifecycleConfig controls session expiry.
type LifecycleConfig struct {
	SweepInterval string `json:"sweep_interval,omitempty"`
	SweepBatch    int    `json:"sweep_batch,omitempty"`
	SweepTimeout  string `json:"sweep_timeout,omitempty"`
	ExpiryTimeout string `json:"expiry_timeout,omitempty"`
}

// RemindersConfig controls weekly reminder triggers. Enabled defaults to true.
type RemindersConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	JobTimeout string `json:"job_timeout,omitempty"`
	// Template is a text/template over .Partner .Teach .Learn .Start .SessionID .SlotIndex.
	Template string `json:"template,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	// RetryMax nil uses the default; 0 sends once.
	RetryMax        *int   `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// TelegramConfig enables Telegram delivery. Without it, notifications go to
// the log.
type TelegramConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	ParseMode string `json:"parse_mode,omitempty"`
	// Recipients maps user ids to Telegram chat ids.
	Recipients map[string]int64 `json:"recipients,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}
