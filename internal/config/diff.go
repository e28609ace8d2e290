package config

import (
	"sort"
	"strings"

	logx "remindme/pkg/logx"
)

// SummarizeConfigChange lists the changed top-level sections and log fields
// describing the new values. Secrets (token, DSN) are reported only as
// "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	tr := strings.TrimSpace

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if tr(ot.Token) != tr(nt.Token) || tr(ot.GroupLog) != tr(nt.GroupLog) ||
		tr(ot.PollTimeout) != tr(nt.PollTimeout) || tr(ot.StopGrace) != tr(nt.StopGrace) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", tr(ot.Token) != tr(nt.Token)),
			logx.String("telegram.poll_timeout", tr(nt.PollTimeout)),
			logx.Bool("telegram.group_log_set", tr(nt.GroupLog) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.sweep", tr(newCfg.Scheduler.Sweep)),
			logx.String("scheduler.timezone", tr(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.fire_timeout", tr(newCfg.Scheduler.FireTimeout)),
		)
	}

	on, nn := notifierOrDefault(oldCfg.Notifier), notifierOrDefault(newCfg.Notifier)
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.queue_size", nn.QueueSize),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
		)
	}

	var osc, ns StorageConfig
	if oldCfg.Storage != nil {
		osc = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		ns = *newCfg.Storage
	}
	if osc != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", tr(ns.Driver)),
			logx.Bool("storage.path_set", tr(ns.Path) != ""),
			logx.Bool("storage.dsn_set", tr(ns.DSN) != ""),
		)
	}

	if oldCfg.Reminders != newCfg.Reminders {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Bool("reminders.purge_on_cancel", newCfg.Reminders.PurgeOnCancel),
			logx.String("reminders.max_delay", tr(newCfg.Reminders.MaxDelay)),
		)
	}

	var od, nd DebugConfig
	if oldCfg.Debug != nil {
		od = *oldCfg.Debug
	}
	if newCfg.Debug != nil {
		nd = *newCfg.Debug
	}
	if od != nd {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", tr(nd.Addr)),
			logx.Bool("debug.token_set", tr(nd.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// DefaultNotifier is what an omitted notifier section means.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:       true,
		Workers:       2,
		QueueSize:     512,
		RatePerSec:    3,
		RetryMax:      3,
		RetryBase:     "500ms",
		RetryMaxDelay: "10s",
	}
}

func notifierOrDefault(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return DefaultNotifier()
	}
	return *n
}
