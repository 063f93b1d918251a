// Package campaign owns the set of reservation targets.
//
// Store is the only writer of target membership. Every mutation builds the
// next snapshot, persists it, and only then swaps it in, so a failed save
// leaves memory equal to the last durable state.
package campaign

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"courtbot/internal/booking"
	logx "courtbot/pkg/logx"
)

// Snapshot is the unit of persistence.
type Snapshot struct {
	Enabled bool             `json:"enabled"`
	Targets []booking.Target `json:"targets"`
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{Enabled: s.Enabled, Targets: make([]booking.Target, len(s.Targets))}
	copy(out.Targets, s.Targets)
	return out
}

// Persistence saves whole snapshots, all or nothing.
type Persistence interface {
	LoadAll(ctx context.Context) (Snapshot, error)
	SaveAll(ctx context.Context, snap Snapshot) error
}

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeEnabled  ChangeKind = "enabled"
	ChangeReloaded ChangeKind = "reloaded"
)

// Change is delivered to OnChange hooks after a commit.
type Change struct {
	Kind   ChangeKind
	Target booking.Target
	Reason string
}

type Config struct {
	Courts   booking.CourtRange
	Location *time.Location
}

type Option func(*Store)

func WithNotifier(n booking.Notifier) Option {
	return func(s *Store) {
		if n != nil {
			s.notify = n
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithNow overrides the clock used by the expiry passes.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDFunc(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

type Store struct {
	mu    sync.Mutex
	cur   Snapshot
	index map[string]int

	cfg     Config
	persist Persistence
	notify  booking.Notifier
	log     logx.Logger
	now     func() time.Time
	newID   func() string

	hookMu sync.RWMutex
	hooks  []func(Change)
}

func New(cfg Config, p Persistence, opts ...Option) *Store {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Store{
		cfg:     cfg,
		persist: p,
		notify:  booking.NopNotifier(),
		log:     logx.Nop(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		index:   map[string]int{},
		cur:     Snapshot{Enabled: true},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnChange registers fn; it runs outside the store lock.
func (s *Store) OnChange(fn func(Change)) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

func (s *Store) Location() *time.Location { return s.cfg.Location }

func (s *Store) Courts() booking.CourtRange { return s.cfg.Courts }

// Load replaces memory with the persisted snapshot.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.persist.LoadAll(ctx)
	if err != nil {
		return &booking.PersistenceError{Op: "load", Err: err}
	}
	s.mu.Lock()
	s.swap(snap.clone())
	n := len(s.cur.Targets)
	s.mu.Unlock()

	s.log.Info("campaigns loaded", logx.Int("targets", n), logx.Bool("enabled", snap.Enabled))
	s.fire(Change{Kind: ChangeReloaded})
	return nil
}

func (s *Store) Add(ctx context.Context, t booking.Target) (booking.Target, error) {
	t.Date = strings.TrimSpace(t.Date)
	t.Start = strings.TrimSpace(t.Start)
	if err := t.Validate(s.cfg.Courts); err != nil {
		return booking.Target{}, err
	}

	s.mu.Lock()
	if t.ID == "" {
		t.ID = s.newID()
	}
	if _, dup := s.index[t.ID]; dup {
		s.mu.Unlock()
		return booking.Target{}, &booking.ValidationError{Problems: []string{fmt.Sprintf("id %s already exists", t.ID)}}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	next := s.cur.clone()
	next.Targets = append(next.Targets, t)
	if err := s.commit(ctx, "add", next); err != nil {
		s.mu.Unlock()
		return booking.Target{}, err
	}
	s.mu.Unlock()

	s.log.Info("target added", logx.String("target", t.ID), logx.String("kind", string(t.Kind)), logx.String("date", t.Date))
	s.notify.Notify(booking.Event{Kind: booking.EventTargetAdded, At: s.now(), Target: t})
	s.fire(Change{Kind: ChangeAdded, Target: t})
	return t, nil
}

// Remove is idempotent: a second call for the same id returns false and
// does not touch persistence.
func (s *Store) Remove(ctx context.Context, id, reason string) (bool, error) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	removed := s.cur.Targets[i]
	next := s.cur.clone()
	next.Targets = append(next.Targets[:i], next.Targets[i+1:]...)
	if err := s.commit(ctx, "remove", next); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()

	s.log.Info("target removed", logx.String("target", id), logx.String("reason", reason))
	s.notify.Notify(booking.Event{Kind: booking.EventTargetRemoved, At: s.now(), Target: removed, Reason: reason})
	s.fire(Change{Kind: ChangeRemoved, Target: removed, Reason: reason})
	return true, nil
}

// List returns a copy ordered by date, start, id.
func (s *Store) List() []booking.Target {
	s.mu.Lock()
	out := make([]booking.Target, len(s.cur.Targets))
	copy(out, s.cur.Targets)
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Get(id string) (booking.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return booking.Target{}, false
	}
	return s.cur.Targets[i], true
}

// Resolve matches a full id or an unambiguous prefix of at least minPrefix chars.
func (s *Store) Resolve(ref string, minPrefix int) (booking.Target, error) {
	ref = strings.TrimSpace(ref)
	if t, ok := s.Get(ref); ok {
		return t, nil
	}
	if len(ref) < minPrefix {
		return booking.Target{}, fmt.Errorf("%w: %q (use at least %d characters)", booking.ErrNotFound, ref, minPrefix)
	}
	var hits []booking.Target
	for _, t := range s.List() {
		if strings.HasPrefix(t.ID, ref) {
			hits = append(hits, t)
		}
	}
	switch len(hits) {
	case 0:
		return booking.Target{}, fmt.Errorf("%w: %q", booking.ErrNotFound, ref)
	case 1:
		return hits[0], nil
	default:
		return booking.Target{}, fmt.Errorf("prefix %q matches %d targets", ref, len(hits))
	}
}

func (s *Store) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Enabled
}

// SetEnabled flips the master switch without touching targets.
func (s *Store) SetEnabled(ctx context.Context, on bool) error {
	s.mu.Lock()
	if s.cur.Enabled == on {
		s.mu.Unlock()
		return nil
	}
	next := s.cur.clone()
	next.Enabled = on
	if err := s.commit(ctx, "set_enabled", next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.log.Info("master switch changed", logx.Bool("enabled", on))
	s.fire(Change{Kind: ChangeEnabled})
	return nil
}

// ExpireByDate drops targets whose date is before today.
func (s *Store) ExpireByDate(ctx context.Context) (int, error) {
	return s.expire(ctx, "expire_by_date", "expired", func(days int) bool { return days < 0 })
}

// ExpireByLeadWindow drops targets more than days days ahead.
func (s *Store) ExpireByLeadWindow(ctx context.Context, days int) (int, error) {
	return s.expire(ctx, "expire_by_lead_window", "beyond lead window", func(d int) bool { return d > days })
}

func (s *Store) expire(ctx context.Context, op, reason string, drop func(days int) bool) (int, error) {
	now := s.now()

	s.mu.Lock()
	next := Snapshot{Enabled: s.cur.Enabled}
	var gone []booking.Target
	for _, t := range s.cur.Targets {
		days, err := t.DaysUntil(now, s.cfg.Location)
		if err == nil && drop(days) {
			gone = append(gone, t)
			continue
		}
		next.Targets = append(next.Targets, t)
	}
	if len(gone) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	if err := s.commit(ctx, op, next); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()

	s.log.Info("campaigns expired", logx.String("op", op), logx.Int("count", len(gone)))
	s.notify.Notify(booking.Event{Kind: booking.EventCampaignExpired, At: now, Count: len(gone), Reason: reason})
	for _, t := range gone {
		s.fire(Change{Kind: ChangeRemoved, Target: t, Reason: reason})
	}
	return len(gone), nil
}

// commit must run under s.mu.
func (s *Store) commit(ctx context.Context, op string, next Snapshot) error {
	if err := s.persist.SaveAll(ctx, next); err != nil {
		s.log.Error("persist failed, change discarded", logx.String("op", op), logx.Err(err))
		return &booking.PersistenceError{Op: op, Err: err}
	}
	s.swap(next)
	return nil
}

func (s *Store) swap(next Snapshot) {
	s.cur = next
	s.index = make(map[string]int, len(next.Targets))
	for i, t := range next.Targets {
		s.index[t.ID] = i
	}
}

func (s *Store) fire(c Change) {
	s.hookMu.RLock()
	hooks := append([]func(Change){}, s.hooks...)
	s.hookMu.RUnlock()
	for _, h := range hooks {
		h(c)
	}
}
