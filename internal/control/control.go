// Package control is the operator command surface. It drives the core only
// through the campaign store, the scheduler and a read-only gateway probe.
package control

import (
	"context"
	"time"

	"courtbot/internal/booking"
	"courtbot/internal/executor"
	"courtbot/internal/storage"
	"courtbot/internal/task/engine"
	"courtbot/internal/task/scheduler"
	"courtbot/internal/transport/telegram/router"
	logx "courtbot/pkg/logx"
)

// MinPrefix is the shortest id prefix accepted for /remove and /fire.
const MinPrefix = 6

type Campaigns interface {
	Add(ctx context.Context, t booking.Target) (booking.Target, error)
	Remove(ctx context.Context, id, reason string) (bool, error)
	List() []booking.Target
	Resolve(ref string, minPrefix int) (booking.Target, error)
	Location() *time.Location
	Courts() booking.CourtRange
}

type Scheduler interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Reload(ctx context.Context) error
	FireNow(ctx context.Context, id string) error
	Snapshot() scheduler.Snapshot
}

// Prober lists a day's reservations without booking anything.
type Prober interface {
	QueryBookings(ctx context.Context, date string) ([]booking.ReservationRecord, error)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Bursts interface {
	Sessions() []executor.Session
}

type Runner interface {
	Snapshot() engine.Snapshot
}

type Deps struct {
	Store     Campaigns
	Scheduler Scheduler
	Prober    Prober
	Audit     Auditor // optional
	Bursts    Bursts  // optional
	Runner    Runner  // optional
	Now       func() time.Time
	Version   string
}

type Service struct {
	d   Deps
	log logx.Logger
}

func New(d Deps, log logx.Logger) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{d: d, log: log}
}

// Commands returns the chat command set for the router.
func (s *Service) Commands() []router.Command {
	return []router.Command{
		{Name: "targets", Aliases: []string{"list", "ls"}, Description: "list reservation targets", Usage: "/targets", Access: router.AccessOwnerOnly, Handle: s.handleTargets},
		{Name: "poll", Description: "add a polling target (any free court)", Usage: "/poll <YYYY-MM-DD> <HH:MM> <minutes>", Access: router.AccessOwnerOnly, Handle: s.handlePoll},
		{Name: "burst", Description: "add a burst target (one court)", Usage: "/burst <YYYY-MM-DD> <HH:MM> <minutes> <court>", Access: router.AccessOwnerOnly, Handle: s.handleBurst},
		{Name: "remove", Aliases: []string{"rm"}, Description: "remove a target", Usage: "/remove <id or prefix>", Access: router.AccessOwnerOnly, Handle: s.handleRemove},
		{Name: "enable", Description: "resume all campaigns", Usage: "/enable", Access: router.AccessOwnerOnly, Handle: s.handleEnable},
		{Name: "disable", Description: "pause all campaigns", Usage: "/disable", Access: router.AccessOwnerOnly, Handle: s.handleDisable},
		{Name: "reload", Description: "reload targets from storage and re-arm jobs", Usage: "/reload", Access: router.AccessOwnerOnly, Handle: s.handleReload},
		{Name: "status", Description: "scheduler and runner state", Usage: "/status", Access: router.AccessOwnerOnly, Handle: s.handleStatus},
		{Name: "fire", Description: "run one tick for a target now", Usage: "/fire <id or prefix>", Access: router.AccessOwnerOnly, Timeout: 10 * time.Second, Handle: s.handleFire},
		{Name: "free", Description: "show free courts for a slot", Usage: "/free <YYYY-MM-DD> <HH:MM> <minutes>", Access: router.AccessOwnerOnly, Timeout: 30 * time.Second, Handle: s.handleFree},
	}
}

// audit records an operator action. Failures are logged, never returned.
func (s *Service) audit(ctx context.Context, req *router.Request, action, targetID, detail string, err error) {
	if s.d.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:            s.d.Now(),
		RequestID:     req.ReqID,
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Source:        "chat",
		Action:        action,
		TargetID:      targetID,
		Detail:        detail,
	}
	if err != nil {
		e.Error = err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if aerr := s.d.Audit.AppendAudit(actx, e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}
