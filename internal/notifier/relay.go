package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"courtbot/internal/booking"
	"courtbot/internal/eventbus"
	kit "courtbot/internal/transport"
	logx "courtbot/pkg/logx"
	"courtbot/pkg/tgui"
)

const channelBooking = "booking"

// Publisher is the booking.Notifier handed to the core. It only publishes
// on the bus, so it never blocks a mutation or a tick.
func Publisher(bus eventbus.Bus) booking.Notifier {
	return booking.NotifierFunc(func(e booking.Event) {
		bus.Publish(eventbus.Event{Type: eventbus.TopicBooking, Time: e.At, Data: e})
	})
}

// Sender is what the relay needs from Service.
type Sender interface {
	Notify(ctx context.Context, n kit.Notification) error
}

type RelayConfig struct {
	Targets  []kit.ChatTarget
	Location *time.Location
	// Mute lists event kinds that are not forwarded.
	Mute []booking.EventKind
}

// Relay forwards booking events from the bus to every configured chat.
type Relay struct {
	events <-chan eventbus.Event
	unsub  func()
	sender Sender
	log    logx.Logger

	mu  sync.RWMutex
	cfg RelayConfig
}

// NewRelay subscribes immediately, so events published before Run are kept
// up to the buffer size.
func NewRelay(cfg RelayConfig, bus eventbus.Bus, sender Sender, log logx.Logger) *Relay {
	ch, unsub := bus.Subscribe(256)
	r := &Relay{events: ch, unsub: unsub, sender: sender, log: log}
	r.Apply(cfg)
	return r
}

// Apply swaps recipients, location and mutes for subsequent events.
func (r *Relay) Apply(cfg RelayConfig) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Run consumes events until ctx ends, then unsubscribes.
func (r *Relay) Run(ctx context.Context) error {
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.TopicBooking {
				continue
			}
			e, ok := ev.Data.(booking.Event)
			if !ok {
				continue
			}
			r.forward(ctx, e)
		}
	}
}

func muted(cfg RelayConfig, k booking.EventKind) bool {
	for _, m := range cfg.Mute {
		if m == k {
			return true
		}
	}
	return false
}

func (r *Relay) forward(ctx context.Context, e booking.Event) {
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()
	if muted(cfg, e.Kind) {
		return
	}
	text, prio, ok := Format(e, cfg.Location)
	if !ok {
		return
	}
	for _, to := range cfg.Targets {
		err := r.sender.Notify(ctx, kit.Notification{
			Channel:  channelBooking,
			Priority: prio,
			Target:   to,
			Text:     text,
			Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
		})
		if err != nil && !errors.Is(err, ErrDisabled) {
			r.log.Warn("relay notify failed", logx.String("kind", string(e.Kind)), logx.Int64("chat", to.ChatID), logx.Err(err))
		}
	}
}

// Format renders e for chat. ok is false for events that have nothing to
// tell the operator, such as the removal that follows a booking.
func Format(e booking.Event, loc *time.Location) (text string, priority int, ok bool) {
	var l tgui.Lines
	priority = kit.PriorityInfo

	switch e.Kind {
	case booking.EventTargetAdded:
		l.Add(tgui.B("Target added"))
		targetLines(&l, e.Target)
	case booking.EventTargetRemoved:
		if e.Reason == booking.ReasonBooked {
			return "", 0, false
		}
		l.Add(tgui.B("Target removed"))
		targetLines(&l, e.Target)
		if e.Reason != "" {
			l.KV("Reason", e.Reason)
		}
	case booking.EventReservationSuccess:
		l.Add(tgui.B(fmt.Sprintf("Court %d booked", e.CourtID)))
		targetLines(&l, e.Target)
		if e.Reason != "" {
			// Booked, but the target is still stored and now quarantined.
			priority = kit.PriorityError
			l.KV("Warning", tgui.TruncRunes(e.Reason, 600))
			l.Add(tgui.I("Remove the target, then /reload."))
		}
	case booking.EventReservationFailure:
		priority = kit.PriorityWarn
		if strings.HasPrefix(e.Reason, "auth") {
			priority = kit.PriorityError
		}
		l.Add(tgui.B("Booking attempt failed"))
		targetLines(&l, e.Target)
		if e.CourtID > 0 {
			l.KV("Court", fmt.Sprint(e.CourtID))
		}
		l.KV("Reason", tgui.TruncRunes(e.Reason, 600))
	case booking.EventCampaignExpired:
		l.Add(tgui.B(fmt.Sprintf("%d target(s) expired", e.Count)))
		if e.Reason != "" {
			l.KV("Reason", e.Reason)
		}
	case booking.EventBurstExhausted:
		priority = kit.PriorityWarn
		l.Add(tgui.B("Burst ended without a booking"))
		targetLines(&l, e.Target)
		l.KV("Attempts", fmt.Sprint(e.Attempts))
	case booking.EventSchedulingFault:
		priority = kit.PriorityError
		l.Add(tgui.B("Scheduling stopped for target"))
		targetLines(&l, e.Target)
		l.KV("Detail", e.Reason)
		l.Add(tgui.I("Use /reload after fixing the cause."))
	default:
		return "", 0, false
	}
	if !e.At.IsZero() {
		l.Add(tgui.I(e.At.In(loc).Format("2006-01-02 15:04:05 MST")))
	}
	return l.String(), priority, true
}

func targetLines(l *tgui.Lines, t booking.Target) {
	if t.ID == "" {
		return
	}
	l.Add(tgui.Code(t.ShortID()), tgui.Esc(fmt.Sprintf("%s %s +%dm (%s)", t.Date, t.Start, t.DurationMin, t.Kind)))
	if t.Kind == booking.KindBurst {
		l.KV("Court", fmt.Sprint(t.CourtID))
	}
}
