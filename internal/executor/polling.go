package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"courtbot/internal/booking"
	"courtbot/internal/conflict"
	logx "courtbot/pkg/logx"
)

type PollingConfig struct {
	QueryTimeout   time.Duration
	AttemptTimeout time.Duration
}

func (c PollingConfig) withDefaults() PollingConfig {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 15 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 15 * time.Second
	}
	return c
}

// Polling queries the day's bookings once per tick and tries every free
// court in ascending order until one booking sticks.
type Polling struct {
	mu      sync.RWMutex
	cfg     PollingConfig
	gw      booking.Gateway
	store   Campaigns
	notify  booking.Notifier
	log     logx.Logger
	clock   booking.Clock
	metrics Metrics
}

type PollingOption func(*Polling)

func WithPollingClock(c booking.Clock) PollingOption {
	return func(p *Polling) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithPollingMetrics(m Metrics) PollingOption {
	return func(p *Polling) {
		if m != nil {
			p.metrics = m
		}
	}
}

func NewPolling(cfg PollingConfig, gw booking.Gateway, store Campaigns, notify booking.Notifier, log logx.Logger, opts ...PollingOption) *Polling {
	if notify == nil {
		notify = booking.NopNotifier()
	}
	p := &Polling{
		cfg:     cfg.withDefaults(),
		gw:      gw,
		store:   store,
		notify:  notify,
		log:     log,
		clock:   booking.SystemClock{},
		metrics: nopMetrics{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Polling) Apply(cfg PollingConfig) {
	p.mu.Lock()
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()
}

func (p *Polling) config() PollingConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Execute runs one polling tick. Per-court failures are collected, never
// returned; the error return is for ticks that could not run at all.
func (p *Polling) Execute(ctx context.Context, t booking.Target) error {
	if t.Kind != booking.KindPolling {
		return fmt.Errorf("polling executor got %s target %s", t.Kind, t.ID)
	}
	cfg := p.config()
	log := p.log.With(logx.String("target", t.ID))

	want, err := t.Window(p.store.Location())
	if err != nil {
		return err
	}

	qctx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	records, err := p.gw.QueryBookings(qctx, t.Date)
	cancel()
	if err != nil {
		p.metrics.ObserveAttempt(string(booking.KindPolling), classify(err))
		log.Debug("booking query failed", logx.Err(err))
		p.fail(t, 0, err)
		return nil
	}

	free := conflict.FindFreeCourts(records, p.store.Courts(), want)
	if len(free) == 0 {
		log.Debug("no free court", logx.Int("records", len(records)))
		return nil
	}
	log.Debug("free courts", logx.Any("courts", free))

	failures := map[int]error{}
	for _, court := range free {
		if ctx.Err() != nil {
			break
		}
		// A racing tick may have finished the campaign already.
		if _, ok := p.store.Get(t.ID); !ok {
			return nil
		}

		actx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		res, err := p.gw.AttemptBooking(actx, booking.RequestFor(t, court))
		cancel()
		p.metrics.ObserveAttempt(string(booking.KindPolling), classify(err))

		if err == nil {
			log.Info("court booked", logx.Int("court", court), logx.Int64("reservation", res.ReservationID))
			if _, rerr := complete(ctx, p.store, p.notify, t, res, court, p.clock.Now()); rerr != nil {
				log.Error("booked but target removal failed", logx.Err(rerr))
				return rerr
			}
			return nil
		}
		log.Debug("attempt failed", logx.Int("court", court), logx.Err(err))
		if booking.IsAuth(err) {
			p.fail(t, court, err)
			return nil
		}
		failures[court] = err
	}

	if len(failures) > 0 {
		p.fail(t, 0, summarize(failures))
	}
	return nil
}

func (p *Polling) fail(t booking.Target, court int, err error) {
	reason := err.Error()
	if booking.IsAuth(err) {
		reason = "auth: " + reason
	}
	p.notify.Notify(booking.Event{Kind: booking.EventReservationFailure, At: p.clock.Now(), Target: t, CourtID: court, Reason: reason})
}

type summaryError string

func (e summaryError) Error() string { return string(e) }

func summarize(failures map[int]error) error {
	courts := make([]int, 0, len(failures))
	for c := range failures {
		courts = append(courts, c)
	}
	sort.Ints(courts)
	parts := make([]string, 0, len(courts))
	for _, c := range courts {
		parts = append(parts, fmt.Sprintf("court %d: %s", c, classify(failures[c])))
	}
	return summaryError(strings.Join(parts, ", "))
}
