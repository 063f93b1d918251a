package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"courtbot/internal/booking"
	logx "courtbot/pkg/logx"
)

type BurstConfig struct {
	Duration       time.Duration
	Interval       time.Duration
	AttemptTimeout time.Duration
}

func (c BurstConfig) withDefaults() BurstConfig {
	if c.Duration <= 0 {
		c.Duration = 20 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	return c
}

// Budget is the longest a burst can run, the last attempt included.
func (c BurstConfig) Budget() time.Duration {
	c = c.withDefaults()
	return c.Duration + c.AttemptTimeout
}

// Session is the state of one in-flight burst.
type Session struct {
	TargetID  string    `json:"target_id"`
	CourtID   int       `json:"court_id"`
	StartedAt time.Time `json:"started_at"`
	Attempts  int       `json:"attempts"`
	Succeeded bool      `json:"succeeded"`
}

// session is the live record behind a Session; the burst goroutine writes
// it while /status reads it.
type session struct {
	mu sync.Mutex
	s  Session
}

func (ss *session) attempt() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.s.Attempts++
	return ss.s.Attempts
}

func (ss *session) succeed() {
	ss.mu.Lock()
	ss.s.Succeeded = true
	ss.mu.Unlock()
}

func (ss *session) snapshot() Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s
}

// Burst races one fixed court with repeated direct booking attempts.
// At most one session per target id runs at a time.
type Burst struct {
	mu  sync.RWMutex
	cfg BurstConfig

	gw       booking.Gateway
	store    Campaigns
	notify   booking.Notifier
	log      logx.Logger
	clock    booking.Clock
	metrics  Metrics
	sessions *xsync.Map[string, *session]
}

type BurstOption func(*Burst)

func WithBurstClock(c booking.Clock) BurstOption {
	return func(b *Burst) {
		if c != nil {
			b.clock = c
		}
	}
}

func WithBurstMetrics(m Metrics) BurstOption {
	return func(b *Burst) {
		if m != nil {
			b.metrics = m
		}
	}
}

func NewBurst(cfg BurstConfig, gw booking.Gateway, store Campaigns, notify booking.Notifier, log logx.Logger, opts ...BurstOption) *Burst {
	if notify == nil {
		notify = booking.NopNotifier()
	}
	b := &Burst{
		cfg:      cfg.withDefaults(),
		gw:       gw,
		store:    store,
		notify:   notify,
		log:      log,
		clock:    booking.SystemClock{},
		metrics:  nopMetrics{},
		sessions: xsync.NewMap[string, *session](),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Apply takes effect from the next burst; running sessions keep theirs.
func (b *Burst) Apply(cfg BurstConfig) {
	b.mu.Lock()
	b.cfg = cfg.withDefaults()
	b.mu.Unlock()
}

func (b *Burst) config() BurstConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// Sessions lists running bursts.
func (b *Burst) Sessions() []Session {
	var out []Session
	b.sessions.Range(func(_ string, s *session) bool {
		out = append(out, s.snapshot())
		return true
	})
	return out
}

func (b *Burst) Active(id string) bool {
	_, ok := b.sessions.Load(id)
	return ok
}

// Execute runs one burst. It returns ErrBurstActive without doing anything
// when a session for t already exists. No attempt starts at or after
// start+Duration, however long earlier attempts took.
func (b *Burst) Execute(ctx context.Context, t booking.Target) error {
	if t.Kind != booking.KindBurst {
		return fmt.Errorf("burst executor got %s target %s", t.Kind, t.ID)
	}

	start := b.clock.Now()
	sess := &session{s: Session{TargetID: t.ID, CourtID: t.CourtID, StartedAt: start}}
	if _, loaded := b.sessions.LoadOrStore(t.ID, sess); loaded {
		b.log.Debug("burst skipped, session active", logx.String("target", t.ID))
		return ErrBurstActive
	}
	defer b.sessions.Delete(t.ID)

	cfg := b.config()
	log := b.log.With(logx.String("target", t.ID), logx.Int("court", t.CourtID))
	end := start.Add(cfg.Duration)
	req := booking.RequestFor(t, t.CourtID)
	log.Info("burst started", logx.Duration("duration", cfg.Duration), logx.Duration("interval", cfg.Interval))

	attempts := 0
	for {
		if _, ok := b.store.Get(t.ID); !ok {
			log.Debug("burst stopped, target gone", logx.Int("attempts", attempts))
			return nil
		}

		attemptAt := b.clock.Now()
		attempts = sess.attempt()
		actx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		res, err := b.gw.AttemptBooking(actx, req)
		cancel()
		b.metrics.ObserveAttempt(string(booking.KindBurst), classify(err))

		if err == nil {
			sess.succeed()
			log.Info("court booked", logx.Int("attempts", attempts), logx.Int64("reservation", res.ReservationID))
			if _, rerr := complete(ctx, b.store, b.notify, t, res, t.CourtID, b.clock.Now()); rerr != nil {
				log.Error("booked but target removal failed", logx.Err(rerr))
				return rerr
			}
			return nil
		}
		log.Debug("burst attempt failed", logx.Int("attempt", attempts), logx.Err(err))

		if booking.IsAuth(err) {
			b.notify.Notify(booking.Event{Kind: booking.EventReservationFailure, At: b.clock.Now(), Target: t, CourtID: t.CourtID, Reason: "auth: " + err.Error()})
			return nil
		}

		// Only wait when another attempt can still start before the end.
		next := attemptAt.Add(cfg.Interval)
		if !next.Before(end) || !b.clock.Now().Before(end) {
			break
		}
		if err := b.clock.Sleep(ctx, next.Sub(b.clock.Now())); err != nil {
			log.Debug("burst cancelled", logx.Int("attempts", attempts), logx.Err(err))
			break
		}
		if !b.clock.Now().Before(end) {
			break
		}
	}

	log.Info("burst exhausted", logx.Int("attempts", attempts))
	b.notify.Notify(booking.Event{Kind: booking.EventBurstExhausted, At: b.clock.Now(), Target: t, CourtID: t.CourtID, Attempts: attempts})
	return nil
}
