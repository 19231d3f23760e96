package app

import (
	"fmt"
	"strings"
	"time"

	"skillswap/internal/config"
	"skillswap/internal/notifier"
	"skillswap/internal/reminder"
	"skillswap/internal/session"
	"skillswap/internal/slot"
	"skillswap/internal/storage"
	"skillswap/internal/task/engine"
	"skillswap/internal/task/scheduler"
	"skillswap/internal/transport/telegram"
	logx "skillswap/pkg/logx"
)

var (
	parseDurationField     = config.ParseDurationField
	parseDurationOrDefault = config.ParseDurationOrDefault
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapTaskEngineConfig resolves the engine settings. The engine follows
// scheduler.enabled unless task_engine.enabled is set.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Workers:     2,
		QueueSize:   256,
		HistorySize: 200,
		RetryMax:    3,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	if cfg.Scheduler.Enabled && !out.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	switch {
	case te.Workers < 0:
		return engine.Config{}, fmt.Errorf("task_engine.workers must be >= 0")
	case te.QueueSize < 0:
		return engine.Config{}, fmt.Errorf("task_engine.queue_size must be >= 0")
	case te.HistorySize < 0:
		return engine.Config{}, fmt.Errorf("task_engine.history_size must be >= 0")
	case te.RetryMax < 0:
		return engine.Config{}, fmt.Errorf("task_engine.retry_max must be >= 0")
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax > 0 {
		out.RetryMax = te.RetryMax
	}
	var err error
	if out.DefaultTimeout, err = parseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = parseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz != "" {
		if _, err := slot.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	retry, err := parseDurationOrDefault("scheduler.once_retry_delay", cfg.Scheduler.OnceRetryDelay, 5*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz, OnceRetryDelay: retry}, nil
}

func mapLifecycleConfig(cfg *config.Config) (session.Config, error) {
	lc := cfg.Lifecycle
	if lc.SweepBatch < 0 {
		return session.Config{}, fmt.Errorf("lifecycle.sweep_batch must be >= 0")
	}
	out := session.Config{SweepBatch: lc.SweepBatch}
	var err error
	if out.SweepInterval, err = parseDurationField("lifecycle.sweep_interval", lc.SweepInterval); err != nil {
		return session.Config{}, err
	}
	if out.SweepTimeout, err = parseDurationField("lifecycle.sweep_timeout", lc.SweepTimeout); err != nil {
		return session.Config{}, err
	}
	if out.ExpiryTimeout, err = parseDurationField("lifecycle.expiry_timeout", lc.ExpiryTimeout); err != nil {
		return session.Config{}, err
	}
	return out, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminders
	enabled := true
	if rc.Enabled != nil {
		enabled = *rc.Enabled
	}
	timeout, err := parseDurationOrDefault("reminders.job_timeout", rc.JobTimeout, 30*time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{Enabled: enabled, JobTimeout: timeout, Template: rc.Template}, nil
}

// mapNotifierConfig resolves the notifier settings. An omitted section means
// enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		SendTimeout:     10 * time.Second,
		DedupWindow:     24 * time.Hour,
		DedupMaxEntries: 5000,
		PersistDedup:    true,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	switch {
	case n.Workers < 0:
		return notifier.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	case n.QueueSize < 0:
		return notifier.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	case n.RatePerSec < 0:
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	case n.RetryMax != nil && *n.RetryMax < 0:
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	case n.DedupMaxEntries < 0:
		return notifier.Config{}, fmt.Errorf("notifier.dedup_max_entries must be >= 0")
	}
	out.Enabled = n.Enabled
	out.PersistDedup = n.PersistDedup
	if n.Workers > 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize > 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec > 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != nil {
		out.RetryMax = *n.RetryMax
	}
	if n.DedupMaxEntries > 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}
	var err error
	if out.RetryBase, err = parseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = parseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = parseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = parseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Telegram
	if !tc.Enabled {
		return telegram.Config{}, false, nil
	}
	if strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, false, fmt.Errorf("telegram.token is required when telegram.enabled=true")
	}
	return telegram.Config{Token: tc.Token, Recipients: tc.Recipients, ParseMode: tc.ParseMode}, true, nil
}

type httpSettings struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func mapHTTPConfig(cfg *config.Config) (httpSettings, error) {
	hc := cfg.HTTP
	out := httpSettings{Addr: strings.TrimSpace(hc.Addr)}
	if out.Addr == "" {
		out.Addr = ":8080"
	}
	if hc.RatePerSec < 0 || hc.Burst < 0 {
		return httpSettings{}, fmt.Errorf("http.rate_per_sec and http.burst must be >= 0")
	}
	var err error
	if out.ReadTimeout, err = parseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second); err != nil {
		return httpSettings{}, err
	}
	if out.WriteTimeout, err = parseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 15*time.Second); err != nil {
		return httpSettings{}, err
	}
	if out.IdleTimeout, err = parseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second); err != nil {
		return httpSettings{}, err
	}
	if out.ShutdownTimeout, err = parseDurationOrDefault("http.shutdown_timeout", hc.ShutdownTimeout, 5*time.Second); err != nil {
		return httpSettings{}, err
	}
	return out, nil
}

// validate is the reload gate: every section must map cleanly.
func validate(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapLifecycleConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
