package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"courtbot/internal/booking"
	"courtbot/internal/campaign"
	"courtbot/internal/config"
	"courtbot/internal/executor"
	"courtbot/internal/gateway"
	"courtbot/internal/notifier"
	"courtbot/internal/observability/ops"
	"courtbot/internal/storage"
	"courtbot/internal/task/engine"
	"courtbot/internal/task/scheduler"
	kit "courtbot/internal/transport"
	"courtbot/internal/transport/telegram"
	logx "courtbot/pkg/logx"
)

// Validate checks every section and reports all problems at once.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		add(errors.New("telegram.owner_user_ids needs at least one id"))
	}
	_, err := mapTelegramConfig(cfg)
	add(err)
	_, err = mapRelayTargets(cfg)
	add(err)
	_, err = mapMute(cfg)
	add(err)
	_, err = mapGatewayConfig(cfg)
	add(err)
	_, err = mapCampaignConfig(cfg)
	add(err)
	sc, err := mapSchedulerConfig(cfg)
	add(err)
	if err == nil {
		add(scheduler.Validate(sc))
	}
	_, err = mapPollingConfig(cfg)
	add(err)
	bc, err := mapBurstConfig(cfg)
	add(err)
	if sc, serr := mapSchedulerConfig(cfg); serr == nil && err == nil {
		// A burst cut short by its tick deadline looks like an exhausted one.
		if tt := sc.TickTimeout(booking.KindBurst); tt < bc.Budget() {
			add(fmt.Errorf("scheduler.burst_timeout %s is shorter than burst.duration + burst.attempt_timeout (%s)", tt, bc.Budget()))
		}
	}
	_, err = mapRunnerConfig(cfg)
	add(err)
	_, err = mapStorageConfig(cfg)
	add(err)
	_, err = mapNotifierConfig(cfg)
	add(err)
	_, err = mapOpsConfig(cfg)
	add(err)
	return errors.Join(errs...)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// logChatID is 0 when group_log is unset or not a number.
func logChatID(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	pt, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			return telegram.Config{}, fmt.Errorf("telegram.group_log: %q is not a chat id", g)
		}
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pt}, nil
}

// mapRelayTargets parses "chat_id" or "chat_id:thread_id". With no
// notify_chats every owner gets events in their private chat.
func mapRelayTargets(cfg *config.Config) ([]kit.ChatTarget, error) {
	if len(cfg.Telegram.NotifyChats) == 0 {
		out := make([]kit.ChatTarget, 0, len(cfg.Telegram.OwnerUserIDs))
		for _, id := range cfg.Telegram.OwnerUserIDs {
			out = append(out, kit.ChatTarget{ChatID: id})
		}
		return out, nil
	}
	out := make([]kit.ChatTarget, 0, len(cfg.Telegram.NotifyChats))
	for i, raw := range cfg.Telegram.NotifyChats {
		chat, thread, hasThread := strings.Cut(strings.TrimSpace(raw), ":")
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("telegram.notify_chats[%d]: %q is not a chat id", i, raw)
		}
		t := kit.ChatTarget{ChatID: id}
		if hasThread {
			tid, err := strconv.Atoi(thread)
			if err != nil || tid < 0 {
				return nil, fmt.Errorf("telegram.notify_chats[%d]: bad thread id in %q", i, raw)
			}
			t.ThreadID = tid
		}
		out = append(out, t)
	}
	return out, nil
}

var knownEvents = map[booking.EventKind]bool{
	booking.EventTargetAdded:        true,
	booking.EventTargetRemoved:      true,
	booking.EventReservationSuccess: true,
	booking.EventReservationFailure: true,
	booking.EventCampaignExpired:    true,
	booking.EventBurstExhausted:     true,
	booking.EventSchedulingFault:    true,
}

func mapMute(cfg *config.Config) ([]booking.EventKind, error) {
	out := make([]booking.EventKind, 0, len(cfg.Telegram.Mute))
	for _, m := range cfg.Telegram.Mute {
		k := booking.EventKind(strings.TrimSpace(m))
		if !knownEvents[k] {
			return nil, fmt.Errorf("telegram.mute: unknown event kind %q", m)
		}
		out = append(out, k)
	}
	return out, nil
}

func mapRelayConfig(cfg *config.Config, loc *time.Location) (notifier.RelayConfig, error) {
	targets, err := mapRelayTargets(cfg)
	if err != nil {
		return notifier.RelayConfig{}, err
	}
	mute, err := mapMute(cfg)
	if err != nil {
		return notifier.RelayConfig{}, err
	}
	return notifier.RelayConfig{Targets: targets, Location: loc, Mute: mute}, nil
}

func mapGatewayConfig(cfg *config.Config) (gateway.Config, error) {
	g := cfg.Gateway
	if strings.TrimSpace(g.BaseURL) == "" {
		return gateway.Config{}, errors.New("gateway.base_url is required")
	}
	timeout, err := config.ParseDurationOrDefault("gateway.timeout", g.Timeout, 15*time.Second)
	if err != nil {
		return gateway.Config{}, err
	}
	if g.RatePerSec < 0 || g.RateBurst < 0 {
		return gateway.Config{}, errors.New("gateway.rate_per_sec and gateway.rate_burst must be >= 0")
	}
	return gateway.Config{
		BaseURL:        g.BaseURL,
		Token:          g.Token,
		UserAgent:      g.UserAgent,
		Timeout:        timeout,
		RatePerSec:     g.RatePerSec,
		RateBurst:      g.RateBurst,
		ParticipantIDs: g.ParticipantIDs,
	}, nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("courts.timezone: %w", err)
	}
	return loc, nil
}

func mapCampaignConfig(cfg *config.Config) (campaign.Config, error) {
	c := cfg.Courts
	if c.First <= 0 || c.Last < c.First {
		return campaign.Config{}, fmt.Errorf("courts: need 0 < first <= last, got %d..%d", c.First, c.Last)
	}
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return campaign.Config{}, err
	}
	return campaign.Config{Courts: booking.CourtRange{First: c.First, Last: c.Last}, Location: loc}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	if s.LeadWindowDays < 0 {
		return scheduler.Config{}, errors.New("scheduler.lead_window_days must be >= 0")
	}
	pt, err := config.ParseDurationField("scheduler.poll_timeout", s.PollTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	bt, err := config.ParseDurationField("scheduler.burst_timeout", s.BurstTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:              strings.TrimSpace(cfg.Courts.Timezone),
		LeadWindowDays:        s.LeadWindowDays,
		PollSchedule:          s.PollSchedule,
		BurstSchedule:         s.BurstSchedule,
		PollTimeout:           pt,
		BurstTimeout:          bt,
		ReconcileEvery:        s.ReconcileEvery,
		PruneBeyondLeadWindow: s.PruneBeyondLeadWindow,
	}, nil
}

func mapPollingConfig(cfg *config.Config) (executor.PollingConfig, error) {
	q, err := config.ParseDurationField("polling.query_timeout", cfg.Polling.QueryTimeout)
	if err != nil {
		return executor.PollingConfig{}, err
	}
	a, err := config.ParseDurationField("polling.attempt_timeout", cfg.Polling.AttemptTimeout)
	if err != nil {
		return executor.PollingConfig{}, err
	}
	return executor.PollingConfig{QueryTimeout: q, AttemptTimeout: a}, nil
}

func mapBurstConfig(cfg *config.Config) (executor.BurstConfig, error) {
	b := cfg.Burst
	d, err := config.ParseDurationField("burst.duration", b.Duration)
	if err != nil {
		return executor.BurstConfig{}, err
	}
	iv, err := config.ParseDurationField("burst.interval", b.Interval)
	if err != nil {
		return executor.BurstConfig{}, err
	}
	at, err := config.ParseDurationField("burst.attempt_timeout", b.AttemptTimeout)
	if err != nil {
		return executor.BurstConfig{}, err
	}
	if d > 0 && iv > d {
		return executor.BurstConfig{}, fmt.Errorf("burst.interval %s exceeds burst.duration %s", iv, d)
	}
	return executor.BurstConfig{Duration: d, Interval: iv, AttemptTimeout: at}, nil
}

func mapRunnerConfig(cfg *config.Config) (engine.Config, error) {
	r := cfg.Runner
	if r.Workers < 0 || r.QueueSize < 0 || r.HistorySize < 0 {
		return engine.Config{}, errors.New("runner.workers, runner.queue_size and runner.history_size must be >= 0")
	}
	dt, err := config.ParseDurationField("runner.default_timeout", r.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	mq, err := config.ParseDurationField("runner.max_queue_delay", r.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	out := engine.Config{Workers: r.Workers, QueueSize: r.QueueSize, DefaultTimeout: dt, MaxQueueDelay: mq, HistorySize: r.HistorySize}
	if out.Workers == 0 {
		out.Workers = 4
	}
	if out.QueueSize == 0 {
		out.QueueSize = 64
	}
	if out.HistorySize == 0 {
		out.HistorySize = 100
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	s := cfg.Storage
	driver := storage.NormalizeDriver(s.Driver)
	out := storage.Config{
		Driver:    driver,
		Path:      strings.TrimSpace(s.Path),
		DSN:       strings.TrimSpace(s.DSN),
		Addr:      strings.TrimSpace(s.Addr),
		Password:  s.Password,
		DB:        s.DB,
		KeyPrefix: strings.TrimSpace(s.KeyPrefix),
		AuditMax:  int64(s.AuditMax),
	}
	var err error
	if out.BusyTimeout, err = config.ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
		return storage.Config{}, err
	}
	if out.DialTimeout, err = config.ParseDurationField("storage.dial_timeout", s.DialTimeout); err != nil {
		return storage.Config{}, err
	}
	switch driver {
	case "memory":
	case "file", "sqlite":
		if out.Path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
	case "postgres":
		if out.DSN == "" {
			return storage.Config{}, errors.New("storage.dsn is required when storage.driver=postgres")
		}
	case "redis":
		if out.Addr == "" {
			return storage.Config{}, errors.New("storage.addr is required when storage.driver=redis")
		}
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", s.Driver)
	}
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := config.DefaultNotifier()
	if cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, errors.New("notifier: counts must be >= 0")
	}
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	out := ops.Config{
		Enabled:              o.Enabled,
		Addr:                 strings.TrimSpace(o.Addr),
		Token:                strings.TrimSpace(o.Token),
		AllowInsecure:        o.AllowInsecure,
		Pprof:                o.Pprof,
		PprofPrefix:          o.PprofPrefix,
		MutexProfileFraction: o.MutexProfileFraction,
		BlockProfileRate:     o.BlockProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("ops.write_timeout", o.WriteTimeout); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}
