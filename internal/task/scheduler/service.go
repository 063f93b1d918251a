package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"courtbot/internal/booking"
	"courtbot/internal/campaign"
	"courtbot/internal/task/engine"
	logx "courtbot/pkg/logx"
)

const reconcileJobName = "reconcile"

type job struct {
	id      string
	kind    booking.Kind
	spec    string
	version uint64
	entryID cron.EntryID
	state   *engine.RunState
	armedAt time.Time
}

// tickJob is the cron payload. Its fields identify the arena slot it was
// armed for.
type tickJob struct {
	s   *Service
	id  string
	ver uint64
}

func (j tickJob) Run() { j.s.trigger(j.id, j.ver) }

type Option func(*Service)

func WithNotifier(n booking.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notify = n
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron

	// Arena: at most one job per target id.
	jobs        map[string]*job
	verSeq      uint64
	quarantined map[string]string
	reconcileID cron.EntryID
	reconcileSt *engine.RunState
	manualSt    map[string]*engine.RunState
	lastSweep   time.Time

	store   Campaigns
	exec    Executors
	runner  Runner
	log     logx.Logger
	notify  booking.Notifier
	metrics Metrics
	now     func() time.Time

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(cfg Config, store Campaigns, exec Executors, runner Runner, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         cfg.withDefaults(),
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:        map[string]*job{},
		quarantined: map[string]string{},
		reconcileSt: &engine.RunState{},
		manualSt:    map[string]*engine.RunState{},
		store:       store,
		exec:        exec,
		runner:      runner,
		log:         log,
		notify:      booking.NopNotifier(),
		metrics:     nopMetrics{},
		now:         time.Now,
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	store.OnChange(s.onStoreChange)
	return s
}

// Validate checks that the schedules in cfg parse.
func Validate(cfg Config) error {
	cfg = cfg.withDefaults()
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, raw := range map[string]string{
		"poll_schedule":   cfg.PollSchedule,
		"burst_schedule":  cfg.BurstSchedule,
		"reconcile_every": cfg.ReconcileEvery,
	} {
		ps, err := ParseSchedule(raw)
		if err != nil {
			return fmt.Errorf("scheduler.%s: %w", name, err)
		}
		if ps.Kind == SpecCron {
			if _, err := p.Parse(ps.Cron); err != nil {
				return fmt.Errorf("scheduler.%s: %w", name, err)
			}
		}
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Start creates the cron instance, arms the standing reconcile and runs a
// first reconcile pass.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	if err := s.armReconcileLocked(); err != nil {
		s.c = nil
		s.mu.Unlock()
		return err
	}
	s.c.Start()
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("lead_window_days", s.cfg.LeadWindowDays))
	return s.Reconcile(ctx)
}

// Stop halts triggering and drops every job.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	n := len(s.jobs)
	s.jobs = map[string]*job{}
	s.reconcileID = 0
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.metrics.SetArmedJobs(0)
	s.log.Info("scheduler stopped", logx.Int("jobs_dropped", n), logx.Duration("took", time.Since(start)))
}

// Apply swaps policy. A timezone change rebuilds cron; a schedule change
// re-arms every job; any change runs a reconcile.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	tzChanged := strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone)
	if tzChanged {
		s.loc = loadLocation(cfg.Timezone, s.log)
	}
	s.mu.Unlock()

	if !running || prev == cfg {
		return
	}
	if tzChanged {
		s.Stop(ctx)
		if err := s.Start(ctx); err != nil {
			s.log.Error("scheduler restart failed", logx.Err(err))
		}
		return
	}
	if prev.ReconcileEvery != cfg.ReconcileEvery {
		s.mu.Lock()
		if err := s.armReconcileLocked(); err != nil {
			s.log.Error("reconcile schedule rejected", logx.Err(err))
		}
		s.mu.Unlock()
	}
	if prev.PollSchedule != cfg.PollSchedule || prev.BurstSchedule != cfg.BurstSchedule {
		s.rearmAll()
	}
	if err := s.Reconcile(ctx); err != nil {
		s.log.Warn("reconcile after config change failed", logx.Err(err))
	}
}

// Reconcile expires stale targets and brings the arena in line with the
// store: eligible targets armed, the rest disarmed.
func (s *Service) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	running := s.c != nil
	cfg := s.cfg
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	if _, err := s.store.ExpireByDate(ctx); err != nil {
		s.log.Warn("expire by date failed", logx.Err(err))
	}
	if cfg.PruneBeyondLeadWindow {
		if _, err := s.store.ExpireByLeadWindow(ctx, cfg.LeadWindowDays); err != nil {
			s.log.Warn("expire by lead window failed", logx.Err(err))
		}
	}

	targets := s.store.List()
	live := make(map[string]bool, len(targets))
	armed, disarmed := 0, 0
	for _, t := range targets {
		live[t.ID] = true
		eligible := s.eligible(t)
		s.mu.Lock()
		_, isArmed := s.jobs[t.ID]
		_, quarantined := s.quarantined[t.ID]
		s.mu.Unlock()

		switch {
		case eligible && !isArmed && !quarantined:
			if err := s.Arm(t); err != nil {
				s.log.Warn("arm failed", logx.String("target", t.ID), logx.Err(err))
				continue
			}
			armed++
		case !eligible && isArmed:
			if s.Disarm(t.ID) {
				disarmed++
			}
		}
	}

	s.mu.Lock()
	var orphans []string
	for id := range s.jobs {
		if !live[id] {
			orphans = append(orphans, id)
		}
	}
	s.lastSweep = s.now()
	s.mu.Unlock()
	for _, id := range orphans {
		if s.Disarm(id) {
			disarmed++
		}
	}

	s.log.Debug("reconciled", logx.Int("targets", len(targets)), logx.Int("armed", armed), logx.Int("disarmed", disarmed))
	return nil
}

// Reload re-reads the store from persistence, clears quarantines and
// reconciles.
func (s *Service) Reload(ctx context.Context) error {
	if err := s.store.Load(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.quarantined = map[string]string{}
	s.mu.Unlock()
	return s.Reconcile(ctx)
}

func (s *Service) Enable(ctx context.Context) error {
	if err := s.store.SetEnabled(ctx, true); err != nil {
		return err
	}
	if err := s.Reconcile(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}

// Disable stops future firings; armed jobs stay so Enable resumes at once.
func (s *Service) Disable(ctx context.Context) error {
	return s.store.SetEnabled(ctx, false)
}

// Arm (re)places the job for t. Any existing job for the id is cancelled
// first.
func (s *Service) Arm(t booking.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return ErrNotRunning
	}

	var raw string
	var spread bool
	switch t.Kind {
	case booking.KindPolling:
		raw, spread = s.cfg.PollSchedule, true
	case booking.KindBurst:
		raw = s.cfg.BurstSchedule
	default:
		return fmt.Errorf("target %s: unknown kind %q", t.ID, t.Kind)
	}
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	sched, err := s.compile(ps, spread, s.now().In(s.loc), t.ID)
	if err != nil {
		return err
	}

	s.disarmLocked(t.ID)
	s.verSeq++
	j := &job{
		id:      t.ID,
		kind:    t.Kind,
		spec:    ps.String(),
		version: s.verSeq,
		state:   &engine.RunState{},
		armedAt: s.now(),
	}
	j.entryID = s.c.Schedule(sched, tickJob{s: s, id: t.ID, ver: j.version})
	s.jobs[t.ID] = j

	if err := s.checkArmedLocked(t.ID); err != nil {
		s.quarantineLocked(t, err)
		return err
	}
	s.metrics.SetArmedJobs(len(s.jobs))
	s.log.Debug("job armed", logx.String("target", t.ID), logx.String("kind", string(t.Kind)), logx.String("spec", j.spec), logx.Uint64("version", j.version))
	return nil
}

// Disarm cancels the job for id. Pending triggers for it become stale.
func (s *Service) Disarm(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.disarmLocked(id)
	if ok {
		s.metrics.SetArmedJobs(len(s.jobs))
		s.log.Debug("job disarmed", logx.String("target", id))
	}
	return ok
}

func (s *Service) disarmLocked(id string) bool {
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	if s.c != nil && j.entryID != 0 {
		s.c.Remove(j.entryID)
	}
	delete(s.jobs, id)
	return true
}

// checkArmedLocked verifies cron holds exactly one trigger for id.
func (s *Service) checkArmedLocked(id string) error {
	n := 0
	for _, e := range s.c.Entries() {
		if tj, ok := e.Job.(tickJob); ok && tj.id == id {
			n++
		}
	}
	if n == 1 {
		return nil
	}
	return &booking.InternalInvariantViolation{TargetID: id, Detail: fmt.Sprintf("%d triggers armed, want 1", n)}
}

// quarantineLocked pulls every trigger for the target and keeps it
// unarmed until the next reload.
func (s *Service) quarantineLocked(t booking.Target, cause error) {
	for _, e := range s.c.Entries() {
		if tj, ok := e.Job.(tickJob); ok && tj.id == t.ID {
			s.c.Remove(e.ID)
		}
	}
	delete(s.jobs, t.ID)
	s.quarantined[t.ID] = cause.Error()
	s.metrics.SetArmedJobs(len(s.jobs))
	s.log.Error("target quarantined", logx.String("target", t.ID), logx.Err(cause))
	s.notify.Notify(booking.Event{Kind: booking.EventSchedulingFault, At: s.now(), Target: t, Reason: cause.Error()})
}

func (s *Service) rearmAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		t, ok := s.store.Get(id)
		if !ok {
			s.Disarm(id)
			continue
		}
		if err := s.Arm(t); err != nil {
			s.log.Warn("re-arm failed", logx.String("target", id), logx.Err(err))
		}
	}
}

// eligible is 0 <= daysUntil <= lead window, in the court timezone.
func (s *Service) eligible(t booking.Target) bool {
	s.mu.Lock()
	loc, lead := s.loc, s.cfg.LeadWindowDays
	s.mu.Unlock()
	days, err := t.DaysUntil(s.now(), loc)
	if err != nil {
		return false
	}
	return days >= 0 && days <= lead
}

func (s *Service) onStoreChange(c campaign.Change) {
	switch c.Kind {
	case campaign.ChangeAdded:
		if !s.store.Enabled() || !s.eligible(c.Target) {
			return
		}
		if err := s.Arm(c.Target); err != nil && !errors.Is(err, ErrNotRunning) {
			s.log.Warn("arm on add failed", logx.String("target", c.Target.ID), logx.Err(err))
		}
	case campaign.ChangeRemoved:
		s.Disarm(c.Target.ID)
		s.mu.Lock()
		delete(s.quarantined, c.Target.ID)
		delete(s.manualSt, c.Target.ID)
		s.mu.Unlock()
	}
}

// trigger runs on the cron goroutine. It only hands the tick to the runner.
func (s *Service) trigger(id string, ver uint64) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.version != ver {
		s.mu.Unlock()
		s.log.Debug("stale trigger ignored", logx.String("target", id), logx.Uint64("version", ver))
		return
	}
	kind, state := j.kind, j.state
	timeout := s.timeoutLocked(kind)
	s.mu.Unlock()

	s.enqueue(id, kind, ver, timeout, state)
}

// FireNow runs one tick for id through the same gate as a trigger.
func (s *Service) FireNow(ctx context.Context, id string) error {
	t, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", booking.ErrNotFound, id)
	}
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	var state *engine.RunState
	if j, ok := s.jobs[id]; ok {
		state = j.state
	} else {
		state = s.manualSt[id]
		if state == nil {
			state = &engine.RunState{}
			s.manualSt[id] = state
		}
	}
	timeout := s.timeoutLocked(t.Kind)
	s.mu.Unlock()

	return s.enqueue(id, t.Kind, 0, timeout, state)
}

func (s *Service) enqueue(id string, kind booking.Kind, ver uint64, timeout time.Duration, state *engine.RunState) error {
	name := "tick:" + string(kind) + ":" + id
	err := s.runner.Enqueue(engine.Task{
		Name:    name,
		Timeout: timeout,
		Overlap: engine.OverlapSkipIfRunning,
		State:   state,
		Run:     func(ctx context.Context) error { return s.runTick(ctx, id, ver) },
	})
	s.reportEnqueueError(string(kind), name, err)
	return err
}

// runTick re-checks everything at execution time: the switch may have been
// flipped, the target removed, or the job replaced since the trigger.
// ver 0 marks a manual fire and skips the version check.
func (s *Service) runTick(ctx context.Context, id string, ver uint64) error {
	if !s.store.Enabled() {
		s.log.Debug("tick skipped, disabled", logx.String("target", id))
		return nil
	}
	t, ok := s.store.Get(id)
	if !ok {
		s.Disarm(id)
		return nil
	}
	if ver != 0 {
		s.mu.Lock()
		j, ok := s.jobs[id]
		current := ok && j.version == ver
		s.mu.Unlock()
		if !current {
			return nil
		}
	}

	var exec Executor
	switch t.Kind {
	case booking.KindPolling:
		exec = s.exec.Polling
	case booking.KindBurst:
		exec = s.exec.Burst
	default:
		return fmt.Errorf("target %s: unknown kind %q", t.ID, t.Kind)
	}
	if exec == nil {
		return fmt.Errorf("no executor for kind %q", t.Kind)
	}

	err := exec.Execute(ctx, t)
	var unrec *booking.UnrecordedBookingError
	switch {
	case err == nil:
		s.metrics.ObserveTick(string(t.Kind), "ok")
	case errors.Is(err, booking.ErrTickSkipped):
		s.log.Debug("tick skipped", logx.String("target", t.ID), logx.Err(err))
		s.metrics.ObserveTick(string(t.Kind), "skipped")
		return nil
	case errors.As(err, &unrec):
		// Ticking again would book a second court.
		s.mu.Lock()
		s.quarantineLocked(t, err)
		s.mu.Unlock()
		s.metrics.ObserveTick(string(t.Kind), "error")
	default:
		s.metrics.ObserveTick(string(t.Kind), "error")
	}
	return err
}

func (s *Service) timeoutLocked(k booking.Kind) time.Duration {
	if k == booking.KindBurst {
		return s.cfg.BurstTimeout
	}
	return s.cfg.PollTimeout
}

func (s *Service) armReconcileLocked() error {
	ps, err := ParseSchedule(s.cfg.ReconcileEvery)
	if err != nil {
		return fmt.Errorf("reconcile_every: %w", err)
	}
	sched, err := s.compile(ps, false, s.now(), reconcileJobName)
	if err != nil {
		return fmt.Errorf("reconcile_every: %w", err)
	}
	if s.reconcileID != 0 {
		s.c.Remove(s.reconcileID)
	}
	s.reconcileID = s.c.Schedule(sched, cron.FuncJob(func() {
		err := s.runner.Enqueue(engine.Task{
			Name:    reconcileJobName,
			Timeout: time.Minute,
			Overlap: engine.OverlapSkipIfRunning,
			State:   s.reconcileSt,
			Run:     s.Reconcile,
		})
		s.reportEnqueueError(reconcileJobName, reconcileJobName, err)
	}))
	return nil
}

// Jobs lists armed jobs ordered by next fire time.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	c := s.c
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{TargetID: j.id, Kind: j.kind, Spec: j.spec, ArmedAt: j.armedAt, Busy: j.state.Busy()}
		if c != nil && j.entryID != 0 {
			e := c.Entry(j.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].Next.Equal(out[k].Next) {
			return out[i].Next.Before(out[k].Next)
		}
		return out[i].TargetID < out[k].TargetID
	})
	return out
}

func (s *Service) Snapshot() Snapshot {
	jobs := s.Jobs()
	s.mu.Lock()
	defer s.mu.Unlock()
	q := make(map[string]string, len(s.quarantined))
	for k, v := range s.quarantined {
		q[k] = v
	}
	return Snapshot{
		Running:     s.c != nil,
		Enabled:     s.store.Enabled(),
		Timezone:    s.loc.String(),
		LeadWindow:  s.cfg.LeadWindowDays,
		Jobs:        jobs,
		Quarantined: q,
		LastSweep:   s.lastSweep,
	}
}

// loadLocation defaults to UTC, the same zone the campaign store uses for
// an unset courts.timezone, so expiry and eligibility agree on "today".
func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
