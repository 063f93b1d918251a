package config

import (
	"reflect"
	"sort"
	"strings"

	logx "courtbot/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Secrets (tokens, DSNs, passwords) only
// show up as "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		!reflect.DeepEqual(ot.NotifyChats, nt.NotifyChats) ||
		!reflect.DeepEqual(ot.Mute, nt.Mute) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int("telegram.notify_chats", len(nt.NotifyChats)),
			logx.Strings("telegram.mute", nt.Mute),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	og, ng := oldCfg.Gateway, newCfg.Gateway
	og.Token, ng.Token = secretMark(og.Token), secretMark(ng.Token)
	if !reflect.DeepEqual(og, ng) || oldCfg.Gateway.Token != newCfg.Gateway.Token {
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.String("gateway.base_url", ng.BaseURL),
			logx.String("gateway.timeout", ng.Timeout),
			logx.Any("gateway.rate_per_sec", ng.RatePerSec),
			logx.Bool("gateway.token_changed", oldCfg.Gateway.Token != newCfg.Gateway.Token),
		)
	}

	if oldCfg.Courts != newCfg.Courts {
		changed = append(changed, "courts")
		attrs = append(attrs,
			logx.Int("courts.first", newCfg.Courts.First),
			logx.Int("courts.last", newCfg.Courts.Last),
			logx.String("courts.timezone", newCfg.Courts.Timezone),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.lead_window_days", newCfg.Scheduler.LeadWindowDays),
			logx.String("scheduler.poll_schedule", newCfg.Scheduler.PollSchedule),
			logx.String("scheduler.burst_schedule", newCfg.Scheduler.BurstSchedule),
		)
	}
	if oldCfg.Polling != newCfg.Polling {
		changed = append(changed, "polling")
	}
	if oldCfg.Burst != newCfg.Burst {
		changed = append(changed, "burst")
		attrs = append(attrs,
			logx.String("burst.duration", newCfg.Burst.Duration),
			logx.String("burst.interval", newCfg.Burst.Interval),
		)
	}
	if oldCfg.Runner != newCfg.Runner {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.Int("runner.workers", newCfg.Runner.Workers),
			logx.Int("runner.queue_size", newCfg.Runner.QueueSize),
		)
	}

	// Nil means runtime defaults.
	oldN, newN := DefaultNotifier(), DefaultNotifier()
	if oldCfg.Notifier != nil {
		oldN = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		newN = *newCfg.Notifier
	}
	if oldN != newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
			logx.String("storage.addr", strings.TrimSpace(newCfg.Storage.Addr)),
		)
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	oo.Token, no.Token = secretMark(oo.Token), secretMark(no.Token)
	if oo != no || oldCfg.Ops.Token != newCfg.Ops.Token {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", strings.TrimSpace(no.Addr)),
			logx.Bool("ops.pprof", no.Pprof),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// StorageChanged reports a change that only takes effect after a restart.
func StorageChanged(sections []string) bool {
	for _, s := range sections {
		if s == "storage" {
			return true
		}
	}
	return false
}

func secretMark(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set"
}

// DefaultNotifier is used when the notifier section is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
}
