// Package app wires courtbot together and owns its lifecycle and config
// hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtbot/internal/campaign"
	"courtbot/internal/config"
	"courtbot/internal/control"
	"courtbot/internal/eventbus"
	"courtbot/internal/executor"
	"courtbot/internal/gateway"
	"courtbot/internal/metrics"
	"courtbot/internal/notifier"
	"courtbot/internal/observability/ops"
	rtsup "courtbot/internal/runtime/supervisor"
	"courtbot/internal/storage"
	"courtbot/internal/task/engine"
	"courtbot/internal/task/scheduler"
	kit "courtbot/internal/transport"
	"courtbot/internal/transport/telegram"
	"courtbot/internal/transport/telegram/router"
	logx "courtbot/pkg/logx"
	"courtbot/pkg/systemd"
)

type App struct {
	version string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	gw      *gateway.Client

	campaigns *campaign.Store
	engine    *engine.Service
	sched     *scheduler.Service
	polling   *executor.Polling
	burst     *executor.Burst

	notif   *notifier.Service
	relay   *notifier.Relay
	router  *router.Router
	control *control.Service
	metrics *metrics.Collector
	ops     *ops.Service

	updates chan kit.Update
}

type Option func(*App)

func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New loads cfgPath, validates it and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	a := &App{version: "dev", updates: make(chan kit.Update, 256)}
	for _, o := range opts {
		o(a)
	}

	a.cfgm = config.NewManager(cfgPath)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	tcfg, _ := mapTelegramConfig(cfg)
	ad, err := telegram.New(tcfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	a.adapter = ad

	// Start with the chat sink off so Apply doesn't warn about a missing
	// target, then point it at group_log and enable.
	lcfg := mapLogConfig(cfg)
	boot := lcfg
	boot.Chat.Enabled = false
	a.logs, a.log = logx.New(boot, ad)
	a.logs.SetChatTarget(logChatID(cfg), cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(lcfg)
	log := a.log
	a.log = log.With(logx.String("comp", "app"))

	a.bus = eventbus.New()
	a.metrics = metrics.New()

	scfg, _ := mapStorageConfig(cfg)
	a.store, err = storage.Open(ctx, scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.log.Info("storage opened", logx.String("driver", scfg.Driver))

	ccfg, _ := mapCampaignConfig(cfg)
	a.campaigns = campaign.New(ccfg, a.store,
		campaign.WithNotifier(notifier.Publisher(a.bus)),
		campaign.WithLogger(log.With(logx.String("comp", "campaign"))),
	)
	a.campaigns.OnChange(func(campaign.Change) { a.metrics.SetTargets(len(a.campaigns.List())) })

	gcfg, _ := mapGatewayConfig(cfg)
	a.gw, err = gateway.New(gcfg, log.With(logx.String("comp", "gateway")), gateway.WithMetrics(a.metrics))
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}

	pub := notifier.Publisher(a.bus)
	pcfg, _ := mapPollingConfig(cfg)
	a.polling = executor.NewPolling(pcfg, a.gw, a.campaigns, pub, log.With(logx.String("comp", "polling")),
		executor.WithPollingMetrics(a.metrics))
	bcfg, _ := mapBurstConfig(cfg)
	a.burst = executor.NewBurst(bcfg, a.gw, a.campaigns, pub, log.With(logx.String("comp", "burst")),
		executor.WithBurstMetrics(a.metrics))

	rcfg, _ := mapRunnerConfig(cfg)
	a.engine = engine.New(rcfg, log.With(logx.String("comp", "runner")), a.bus)

	schedCfg, _ := mapSchedulerConfig(cfg)
	a.sched = scheduler.New(schedCfg, a.campaigns,
		scheduler.Executors{Polling: a.polling, Burst: a.burst},
		a.engine, log.With(logx.String("comp", "scheduler")),
		scheduler.WithNotifier(pub),
		scheduler.WithMetrics(a.metrics),
	)

	ncfg, _ := mapNotifierConfig(cfg)
	a.notif = notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), a.bus, a.store)
	relayCfg, _ := mapRelayConfig(cfg, ccfg.Location)
	a.relay = notifier.NewRelay(relayCfg, a.bus, a.notif, log.With(logx.String("comp", "relay")))

	a.control = control.New(control.Deps{
		Store:     a.campaigns,
		Scheduler: a.sched,
		Prober:    a.gw,
		Audit:     a.store,
		Bursts:    a.burst,
		Runner:    a.engine,
		Version:   a.version,
	}, log.With(logx.String("comp", "control")))
	a.router = router.New(ad, log.With(logx.String("comp", "commands")), cfg.Telegram.OwnerUserIDs,
		router.WithWorkers(4),
		router.WithDefaultTimeout(20*time.Second),
	)

	ocfg, _ := mapOpsConfig(cfg)
	a.ops = ops.New(ocfg, log.With(logx.String("comp", "ops")),
		ops.WithGatherer(a.metrics.Gatherer()),
		ops.WithVersion(a.version),
		ops.WithHealth(a.health),
	)
	return a, nil
}

// Done is closed once the app supervisor is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })

	lctx, cancel := context.WithTimeout(run, 15*time.Second)
	err := a.campaigns.Load(lctx)
	cancel()
	if err != nil {
		return fmt.Errorf("load campaigns: %w", err)
	}
	a.metrics.SetTargets(len(a.campaigns.List()))

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	a.engine.Start(run)
	if err := a.sched.Start(run); err != nil {
		return err
	}
	a.ops.Start(run)

	a.router.SetCommands(run, a.control.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error { return a.router.Run(c, a.updates) })
	a.sup.Go("relay", a.relay.Run)
	a.sup.Go("metrics.events", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	// A broken watcher must not take the bot down; it just stops hot reload.
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
		rtsup.WithPublishFirstError(false),
	)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.log.With(logx.String("comp", "systemd")), func() bool { return a.sched.Snapshot().Running })
	})

	if sent, err := systemd.Ready(fmt.Sprintf("%d target(s)", len(a.campaigns.List()))); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.String("version", a.version), logx.Int("targets", len(a.campaigns.List())))
	return nil
}

func (a *App) health() (map[string]any, error) {
	ss := a.sched.Snapshot()
	rs := a.engine.Snapshot()
	details := map[string]any{
		"targets":      len(a.campaigns.List()),
		"campaigns_on": ss.Enabled,
		"armed_jobs":   len(ss.Jobs),
		"quarantined":  len(ss.Quarantined),
		"bursts":       len(a.burst.Sessions()),
		"runner_queue": rs.QueueLen,
	}
	if c, ok := a.bus.(eventbus.Counter); ok {
		details["bus_dropped"] = c.Dropped()
	}
	if !ss.Running {
		return details, errors.New("scheduler not running")
	}
	return details, nil
}

// logEvents mirrors bus traffic at debug level.
func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts of writes to the newest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, last, next)
			last = next
		}
	}
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready("config reloaded") }()

	if config.StorageChanged(sections) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev.Courts != next.Courts {
		a.log.Warn("courts config changed; restart required for changes to take effect")
	}
	if prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	a.logs.SetChatTarget(logChatID(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	// Validate already accepted next, so the mappers below cannot fail.
	if gc, err := mapGatewayConfig(next); err == nil {
		if err := a.gw.Apply(gc); err != nil {
			a.log.Warn("gateway config rejected; keeping previous", logx.Err(err))
		}
	}
	if pc, err := mapPollingConfig(next); err == nil {
		a.polling.Apply(pc)
	}
	if bc, err := mapBurstConfig(next); err == nil {
		a.burst.Apply(bc)
	}
	if rc, err := mapRunnerConfig(next); err == nil {
		a.engine.Apply(c, rc)
	}
	if sc, err := mapSchedulerConfig(next); err == nil {
		a.sched.Apply(c, sc)
	}
	if nc, err := mapNotifierConfig(next); err == nil {
		wasOn := a.notif.Enabled()
		a.notif.Apply(nc)
		switch {
		case wasOn && !nc.Enabled:
			sctx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(sctx)
			cancel()
			a.log.Info("notifier disabled via config")
		case !wasOn && nc.Enabled:
			a.notif.Start(c)
			a.log.Info("notifier enabled via config")
		}
	}
	if rc, err := mapRelayConfig(next, a.campaigns.Location()); err == nil {
		a.relay.Apply(rc)
	}
	if oc, err := mapOpsConfig(next); err == nil {
		a.ops.Reconfigure(c, oc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in reverse dependency order. Each step is
// bounded; a step that overruns is logged and left behind.
func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason))
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "runner", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// Never extend the caller's deadline.
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
