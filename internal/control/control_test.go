package control

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"courtbot/internal/booking"
	"courtbot/internal/campaign"
	"courtbot/internal/executor"
	"courtbot/internal/storage"
	"courtbot/internal/task/scheduler"
	kit "courtbot/internal/transport"
	"courtbot/internal/transport/telegram/router"
	logx "courtbot/pkg/logx"
)

const owner = 42

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                    { return nil }
func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (a *fakeAdapter) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1]
}

type fakeScheduler struct {
	mu      sync.Mutex
	enabled bool
	reloads int
	fired   []string
	fireErr error
}

func (f *fakeScheduler) Enable(context.Context) error {
	f.mu.Lock()
	f.enabled = true
	f.mu.Unlock()
	return nil
}

func (f *fakeScheduler) Disable(context.Context) error {
	f.mu.Lock()
	f.enabled = false
	f.mu.Unlock()
	return nil
}

func (f *fakeScheduler) Reload(context.Context) error {
	f.mu.Lock()
	f.reloads++
	f.mu.Unlock()
	return nil
}

func (f *fakeScheduler) FireNow(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fireErr != nil {
		return f.fireErr
	}
	f.fired = append(f.fired, id)
	return nil
}

func (f *fakeScheduler) Snapshot() scheduler.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scheduler.Snapshot{
		Running:     true,
		Enabled:     f.enabled,
		Timezone:    "UTC",
		LeadWindow:  7,
		Jobs:        []scheduler.JobInfo{{TargetID: "abcdef123456", Kind: booking.KindPolling, Spec: "@every 1m"}},
		Quarantined: map[string]string{"deadbeef0000": "bad window"},
	}
}

type fakeProber struct {
	records []booking.ReservationRecord
	err     error
}

func (p fakeProber) QueryBookings(context.Context, string) ([]booking.ReservationRecord, error) {
	return p.records, p.err
}

type auditLog struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *auditLog) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func (a *auditLog) all() []storage.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]storage.AuditEntry(nil), a.entries...)
}

type fakeBursts []executor.Session

func (b fakeBursts) Sessions() []executor.Session { return b }

type harness struct {
	r     *router.Router
	out   *fakeAdapter
	store *campaign.Store
	sched *fakeScheduler
	audit *auditLog
}

func newHarness(t *testing.T, prober Prober) *harness {
	t.Helper()
	ids := []string{"abcdef123456", "abcdef999999", "0123456789ab"}
	var n int
	store := campaign.New(campaign.Config{Courts: booking.CourtRange{First: 1, Last: 4}, Location: time.UTC},
		campaign.NewMemory(campaign.Snapshot{Enabled: true}),
		campaign.WithIDFunc(func() string { id := ids[n%len(ids)]; n++; return id }))
	h := &harness{out: &fakeAdapter{}, store: store, sched: &fakeScheduler{enabled: true}, audit: &auditLog{}}
	if prober == nil {
		prober = fakeProber{}
	}
	svc := New(Deps{
		Store:     store,
		Scheduler: h.sched,
		Prober:    prober,
		Audit:     h.audit,
		Bursts:    fakeBursts{{TargetID: "0123456789ab", CourtID: 2, Attempts: 3, StartedAt: time.Now()}},
		Version:   "test",
	}, logx.Nop())
	h.r = router.New(h.out, logx.Nop(), []int64{owner})
	h.r.SetCommands(context.Background(), svc.Commands())
	return h
}

func (h *harness) send(from int64, text string) string {
	h.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 7, FromID: from, FromUsername: "op", Text: text}})
	return h.out.last()
}

func TestPollAndBurstAddTargets(t *testing.T) {
	h := newHarness(t, nil)

	if got := h.send(owner, "/poll 2025-12-01 18:00 60"); !strings.Contains(got, "added") || !strings.Contains(got, "abcdef12") {
		t.Fatalf("poll reply = %q", got)
	}
	if got := h.send(owner, "/burst 2025-12-02 07:00 90 3"); !strings.Contains(got, "<b>court</b>: 3") {
		t.Fatalf("burst reply = %q", got)
	}
	list := h.store.List()
	if len(list) != 2 {
		t.Fatalf("targets = %+v", list)
	}
	if list[1].Kind != booking.KindBurst || list[1].CourtID != 3 || list[1].DurationMin != 90 {
		t.Fatalf("burst target = %+v", list[1])
	}

	entries := h.audit.all()
	if len(entries) != 2 || entries[0].Action != "add_polling" || entries[0].Source != "chat" || entries[0].ActorID != owner || entries[0].RequestID == "" {
		t.Fatalf("audit = %+v", entries)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"missing args", "/poll 2025-12-01", "usage: /poll"},
		{"bad duration", "/poll 2025-12-01 18:00 zero", "positive number of minutes"},
		{"bad date", "/poll 2025-13-45 18:00 60", "calendar date"},
		{"court out of range", "/burst 2025-12-01 18:00 60 9", "outside range 1..4"},
		{"court not a number", "/burst 2025-12-01 18:00 60 x", "not a number"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if got := h.send(owner, tc.text); !strings.Contains(got, tc.want) {
				t.Fatalf("reply = %q, want %q", got, tc.want)
			}
			if len(h.store.List()) != 0 {
				t.Fatalf("nothing should be stored")
			}
		})
	}
}

func TestRemoveByPrefix(t *testing.T) {
	h := newHarness(t, nil)
	h.send(owner, "/poll 2025-12-01 18:00 60")
	h.send(owner, "/poll 2025-12-01 19:00 60")

	if got := h.send(owner, "/remove abc"); !strings.Contains(got, "at least 6") {
		t.Fatalf("short prefix reply = %q", got)
	}
	if got := h.send(owner, "/remove abcdef"); !strings.Contains(got, "matches 2 targets") {
		t.Fatalf("ambiguous reply = %q", got)
	}
	if got := h.send(owner, "/remove abcdef1"); !strings.Contains(got, "removed") {
		t.Fatalf("remove reply = %q", got)
	}
	if _, ok := h.store.Get("abcdef123456"); ok {
		t.Fatalf("target still present")
	}
	if len(h.store.List()) != 1 {
		t.Fatalf("only one target should be removed")
	}
}

func TestEnableDisableReload(t *testing.T) {
	h := newHarness(t, nil)

	if got := h.send(owner, "/disable"); got != "campaigns disabled" || h.sched.enabled {
		t.Fatalf("disable reply = %q", got)
	}
	if got := h.send(owner, "/enable"); got != "campaigns enabled" || !h.sched.enabled {
		t.Fatalf("enable reply = %q", got)
	}
	if got := h.send(owner, "/reload"); !strings.HasPrefix(got, "reloaded") || h.sched.reloads != 1 {
		t.Fatalf("reload reply = %q", got)
	}
}

func TestFire(t *testing.T) {
	h := newHarness(t, nil)
	h.send(owner, "/poll 2025-12-01 18:00 60")

	if got := h.send(owner, "/fire abcdef12"); !strings.Contains(got, "tick queued") {
		t.Fatalf("fire reply = %q", got)
	}
	if len(h.sched.fired) != 1 || h.sched.fired[0] != "abcdef123456" {
		t.Fatalf("fired = %v", h.sched.fired)
	}

	h.sched.fireErr = scheduler.ErrNotRunning
	if got := h.send(owner, "/fire abcdef12"); !strings.HasPrefix(got, "failed:") {
		t.Fatalf("fire error reply = %q", got)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, nil)

	got := h.send(owner, "/status")
	for _, want := range []string{"courtbot test", "running", "enabled", "<code>abcdef12</code>", "bad window", "court 2, 3 attempt(s)"} {
		if !strings.Contains(got, want) {
			t.Fatalf("status %q missing %q", got, want)
		}
	}
}

func TestFree(t *testing.T) {
	h := newHarness(t, fakeProber{records: []booking.ReservationRecord{
		{ReservationID: 1, CourtID: 1, Start: "2025-12-01T18:00:00Z", End: "2025-12-01T19:00:00Z"},
		{ReservationID: 2, CourtID: 3, Start: "2025-12-01T18:30:00Z", End: "2025-12-01T19:30:00Z"},
	}})

	if got := h.send(owner, "/free 2025-12-01 18:00 60"); !strings.Contains(got, "2, 4") {
		t.Fatalf("free reply = %q", got)
	}
	if len(h.store.List()) != 0 || len(h.audit.all()) != 0 {
		t.Fatalf("/free must not change state")
	}
}

func TestFreeGatewayError(t *testing.T) {
	h := newHarness(t, fakeProber{err: errors.New("boom")})
	if got := h.send(owner, "/free 2025-12-01 18:00 60"); got != "failed: boom" {
		t.Fatalf("reply = %q", got)
	}
}

func TestCommandsAreOwnerOnly(t *testing.T) {
	h := newHarness(t, nil)

	if got := h.send(99, "/poll 2025-12-01 18:00 60"); got != "unauthorized" {
		t.Fatalf("reply = %q", got)
	}
	if len(h.store.List()) != 0 {
		t.Fatalf("stranger added a target")
	}
}
