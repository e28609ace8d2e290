package app

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"remindme/internal/config"
	"remindme/internal/notifier"
	"remindme/internal/observability/pprof"
	"remindme/internal/reminder"
	"remindme/internal/storage"
	"remindme/internal/task/scheduler"
	telegram "remindme/internal/transport/telegram/adapter"
	logx "remindme/pkg/logx"
)

const (
	defaultStoragePath = "./remindme.db"
	defaultSweep       = "@every 1m"
	sweepJobName       = "reminders.sweep"
)

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("telegram.stop_grace", cfg.Telegram.StopGrace, 2*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	if _, err := parseGroupLog(cfg.Telegram.GroupLog); err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), PollTimeout: poll, StopGrace: grace}, nil
}

// parseGroupLog returns 0 for an unset group_log.
func parseGroupLog(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q", raw)
	}
	return id, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	chatID, _ := parseGroupLog(cfg.Telegram.GroupLog)
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig defaults to sqlite at ./remindme.db. Reminders need a
// store, so "none" is rejected.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	var sc config.StorageConfig
	if cfg.Storage != nil {
		sc = *cfg.Storage
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	dsn := strings.TrimSpace(sc.DSN)

	switch driver {
	case "":
		driver = "sqlite"
		if path == "" {
			path = defaultStoragePath
		}
	case "none":
		return storage.Config{}, errors.New("storage.driver: reminders require a store")
	}

	switch driver {
	case "memory", "mem", "file":
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pg":
		if dsn == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: driver, DSN: dsn}, nil
	case "redis":
		if dsn == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=redis")
		}
		return storage.Config{Driver: driver, DSN: dsn, KeyPrefix: strings.TrimSpace(sc.KeyPrefix)}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := config.DefaultNotifier()
	if cfg.Notifier != nil {
		nc = *cfg.Notifier
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 {
		return notifier.Config{}, errors.New("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0")
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", nc.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       nc.Enabled,
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	fire, err := config.ParseDurationOrDefault("scheduler.fire_timeout", sc.FireTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	job, err := config.ParseDurationOrDefault("scheduler.job_timeout", sc.JobTimeout, 30*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Timezone: strings.TrimSpace(sc.Timezone), FireTimeout: fire, JobTimeout: job}, nil
}

// sweepSpec returns "" when the sweep is turned off.
func sweepSpec(cfg *config.Config) (string, error) {
	spec := strings.TrimSpace(cfg.Scheduler.Sweep)
	switch strings.ToLower(spec) {
	case "":
		return defaultSweep, nil
	case "off", "none", "disabled":
		return "", nil
	}
	if err := scheduler.ValidateSchedule(spec); err != nil {
		return "", fmt.Errorf("scheduler.sweep: %w", err)
	}
	return spec, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	maxDelay, err := config.ParseDurationField("reminders.max_delay", cfg.Reminders.MaxDelay)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{PurgeOnCancel: cfg.Reminders.PurgeOnCancel, MaxDelay: maxDelay}, nil
}

// mapDebugConfig never starts the server. An omitted section means off.
func mapDebugConfig(cfg *config.Config) (pprof.Config, error) {
	var dc config.DebugConfig
	if cfg.Debug != nil {
		dc = *cfg.Debug
	}
	out := pprof.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Prefix:        strings.TrimSpace(dc.Prefix),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
	}
	if out.Addr == "" {
		out.Addr = pprof.DefaultAddr
	}
	if out.Prefix == "" {
		out.Prefix = pprof.DefaultPrefix
	}

	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second); err != nil {
		return pprof.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("debug.write_timeout", dc.WriteTimeout); err != nil {
		return pprof.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 120*time.Second); err != nil {
		return pprof.Config{}, err
	}

	if dc.MutexProfileFraction < 0 || dc.BlockProfileRate < 0 {
		return pprof.Config{}, errors.New("debug: mutex_profile_fraction and block_profile_rate must be >= 0")
	}
	out.MutexProfileFraction = dc.MutexProfileFraction
	out.BlockProfileRate = dc.BlockProfileRate

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return pprof.Config{}, fmt.Errorf("debug.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if !out.AllowInsecure && out.Token == "" && !pprof.IsLoopbackAddr(out.Addr) {
			return pprof.Config{}, errors.New("debug: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}
	return out, nil
}

// validateConfig runs every mapper so a bad hot reload is rejected before
// anything is applied.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := sweepSpec(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	_, err := mapReminderConfig(cfg)
	return err
}
