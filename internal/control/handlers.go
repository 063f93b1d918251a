package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"courtbot/internal/booking"
	"courtbot/internal/conflict"
	"courtbot/internal/transport/telegram/router"
	"courtbot/pkg/tgui"
)

func (s *Service) handleTargets(ctx context.Context, req *router.Request) error {
	list := s.d.Store.List()
	if len(list) == 0 {
		return req.Reply(ctx, "no targets")
	}
	var l tgui.Lines
	l.Add(tgui.B(fmt.Sprintf("%d target(s)", len(list))))
	for _, t := range list {
		line := tgui.JoinH(" ", tgui.Code(t.ShortID()), tgui.Esc(string(t.Kind)), tgui.Esc(t.Date+" "+t.Start), tgui.Esc(fmt.Sprintf("+%dm", t.DurationMin)))
		if t.Kind == booking.KindBurst {
			line = tgui.JoinH(" ", line, tgui.Esc(fmt.Sprintf("court %d", t.CourtID)))
		}
		l.Add(line)
	}
	return req.Reply(ctx, l.String())
}

func (s *Service) handlePoll(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 3 {
		return router.Userf("usage: /poll <YYYY-MM-DD> <HH:MM> <minutes>")
	}
	dur, err := parseMinutes(req.Args[2])
	if err != nil {
		return err
	}
	t := booking.Target{Kind: booking.KindPolling, Date: req.Args[0], Start: req.Args[1], DurationMin: dur}
	return s.add(ctx, req, t)
}

func (s *Service) handleBurst(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 4 {
		return router.Userf("usage: /burst <YYYY-MM-DD> <HH:MM> <minutes> <court>")
	}
	dur, err := parseMinutes(req.Args[2])
	if err != nil {
		return err
	}
	court, err := strconv.Atoi(strings.TrimSpace(req.Args[3]))
	if err != nil {
		return router.Userf("court %q is not a number", req.Args[3])
	}
	t := booking.Target{Kind: booking.KindBurst, Date: req.Args[0], Start: req.Args[1], DurationMin: dur, CourtID: court}
	return s.add(ctx, req, t)
}

func (s *Service) add(ctx context.Context, req *router.Request, t booking.Target) error {
	added, err := s.d.Store.Add(ctx, t)
	s.audit(ctx, req, "add_"+string(t.Kind), added.ID, t.String(), err)
	if err != nil {
		var ve *booking.ValidationError
		if errors.As(err, &ve) {
			return router.Userf("%s", ve.Error())
		}
		return err
	}
	var l tgui.Lines
	l.Add(tgui.Esc("added"), tgui.Code(added.ShortID()))
	l.KV("kind", string(added.Kind))
	l.KV("slot", fmt.Sprintf("%s %s +%dm", added.Date, added.Start, added.DurationMin))
	if added.Kind == booking.KindBurst {
		l.KV("court", strconv.Itoa(added.CourtID))
	}
	return req.Reply(ctx, l.String())
}

func (s *Service) handleRemove(ctx context.Context, req *router.Request) error {
	t, err := s.resolve(req, "/remove")
	if err != nil {
		return err
	}
	ok, err := s.d.Store.Remove(ctx, t.ID, booking.ReasonOperator)
	s.audit(ctx, req, "remove", t.ID, t.String(), err)
	if err != nil {
		return err
	}
	if !ok {
		return router.Userf("target %s already gone", t.ShortID())
	}
	return req.Reply(ctx, tgui.JoinH(" ", tgui.Esc("removed"), tgui.Code(t.ShortID())).String())
}

func (s *Service) handleEnable(ctx context.Context, req *router.Request) error {
	err := s.d.Scheduler.Enable(ctx)
	s.audit(ctx, req, "enable", "", "", err)
	if err != nil {
		return err
	}
	return req.Reply(ctx, "campaigns enabled")
}

func (s *Service) handleDisable(ctx context.Context, req *router.Request) error {
	err := s.d.Scheduler.Disable(ctx)
	s.audit(ctx, req, "disable", "", "", err)
	if err != nil {
		return err
	}
	return req.Reply(ctx, "campaigns disabled")
}

func (s *Service) handleReload(ctx context.Context, req *router.Request) error {
	err := s.d.Scheduler.Reload(ctx)
	s.audit(ctx, req, "reload", "", "", err)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("reloaded, %d target(s)", len(s.d.Store.List())))
}

func (s *Service) handleFire(ctx context.Context, req *router.Request) error {
	t, err := s.resolve(req, "/fire")
	if err != nil {
		return err
	}
	err = s.d.Scheduler.FireNow(ctx, t.ID)
	s.audit(ctx, req, "fire", t.ID, t.String(), err)
	if err != nil {
		return err
	}
	return req.Reply(ctx, tgui.JoinH(" ", tgui.Esc("tick queued for"), tgui.Code(t.ShortID())).String())
}

func (s *Service) handleStatus(ctx context.Context, req *router.Request) error {
	snap := s.d.Scheduler.Snapshot()
	now := s.d.Now()

	var l tgui.Lines
	l.Add(tgui.B("courtbot " + s.d.Version))
	l.KV("scheduler", onOff(snap.Running, "running", "stopped"))
	l.KV("campaigns", onOff(snap.Enabled, "enabled", "disabled"))
	l.KV("timezone", snap.Timezone)
	l.KV("lead window", fmt.Sprintf("%d day(s)", snap.LeadWindow))
	l.KV("targets", strconv.Itoa(len(s.d.Store.List())))
	l.KV("armed jobs", strconv.Itoa(len(snap.Jobs)))
	if !snap.LastSweep.IsZero() {
		l.KV("last sweep", snap.LastSweep.In(s.d.Store.Location()).Format("2006-01-02 15:04:05"))
	}
	if s.d.Runner != nil {
		rs := s.d.Runner.Snapshot()
		l.KV("runner", fmt.Sprintf("%d worker(s), queue %d/%d, in flight %d", rs.Workers, rs.QueueLen, rs.QueueCap, rs.InFlight))
		if rs.DroppedQueueFull+rs.DroppedStale+rs.Skipped > 0 {
			l.KV("dropped", fmt.Sprintf("full=%d stale=%d skipped=%d", rs.DroppedQueueFull, rs.DroppedStale, rs.Skipped))
		}
	}

	if len(snap.Jobs) > 0 {
		l.Blank().Add(tgui.B("jobs"))
		for _, j := range snap.Jobs {
			next := "-"
			if !j.Next.IsZero() {
				next = "in " + j.Next.Sub(now).Truncate(time.Second).String()
			}
			busy := ""
			if j.Busy {
				busy = " busy"
			}
			l.Add(tgui.Code(shortID(j.TargetID)), tgui.Esc(fmt.Sprintf("%s %s next %s%s", j.Kind, j.Spec, next, busy)))
		}
	}
	if len(snap.Quarantined) > 0 {
		ids := make([]string, 0, len(snap.Quarantined))
		for id := range snap.Quarantined {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		l.Blank().Add(tgui.B("quarantined"))
		for _, id := range ids {
			l.Add(tgui.Code(shortID(id)), tgui.Esc(snap.Quarantined[id]))
		}
	}
	if s.d.Bursts != nil {
		if sess := s.d.Bursts.Sessions(); len(sess) > 0 {
			l.Blank().Add(tgui.B("bursts"))
			for _, b := range sess {
				l.Add(tgui.Code(shortID(b.TargetID)), tgui.Esc(fmt.Sprintf("court %d, %d attempt(s), %s", b.CourtID, b.Attempts, now.Sub(b.StartedAt).Truncate(time.Millisecond))))
			}
		}
	}
	return req.Reply(ctx, l.String())
}

func (s *Service) handleFree(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 3 {
		return router.Userf("usage: /free <YYYY-MM-DD> <HH:MM> <minutes>")
	}
	dur, err := parseMinutes(req.Args[2])
	if err != nil {
		return err
	}
	probe := booking.Target{Kind: booking.KindPolling, Date: req.Args[0], Start: req.Args[1], DurationMin: dur}
	if err := probe.Validate(booking.CourtRange{}); err != nil {
		return router.Userf("%s", err.Error())
	}
	want, err := probe.Window(s.d.Store.Location())
	if err != nil {
		return router.Userf("%s", err.Error())
	}
	records, err := s.d.Prober.QueryBookings(ctx, probe.Date)
	if err != nil {
		return err
	}
	free := conflict.FindFreeCourts(records, s.d.Store.Courts(), want)
	slot := fmt.Sprintf("%s %s +%dm", probe.Date, probe.Start, dur)
	if len(free) == 0 {
		return req.Reply(ctx, tgui.Esc("no free court for "+slot).String())
	}
	ids := make([]string, len(free))
	for i, c := range free {
		ids[i] = strconv.Itoa(c)
	}
	var l tgui.Lines
	l.Add(tgui.B("free courts"), tgui.Esc("for "+slot))
	l.Add(tgui.Esc(strings.Join(ids, ", ")))
	return req.Reply(ctx, l.String())
}

func (s *Service) resolve(req *router.Request, cmd string) (booking.Target, error) {
	if len(req.Args) != 1 {
		return booking.Target{}, router.Userf("usage: %s <id or prefix>", cmd)
	}
	t, err := s.d.Store.Resolve(req.Args[0], MinPrefix)
	if err != nil {
		return booking.Target{}, router.Userf("%s", err.Error())
	}
	return t, nil
}

func parseMinutes(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, router.Userf("duration %q must be a positive number of minutes", s)
	}
	return n, nil
}

func onOff(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
