package scheduler

import (
	"context"
	"errors"
	"time"

	"courtbot/internal/booking"
	"courtbot/internal/campaign"
	"courtbot/internal/task/engine"
)

var (
	ErrNotRunning  = errors.New("scheduler not running")
	errUnknownSpec = errors.New("unsupported schedule kind")
)

// Config is the scheduling policy. Zero values fall back to defaults.
type Config struct {
	Timezone       string // IANA name; courts and target dates live here
	LeadWindowDays int

	PollSchedule  string
	BurstSchedule string
	PollTimeout   time.Duration
	BurstTimeout  time.Duration

	ReconcileEvery        string
	PruneBeyondLeadWindow bool
}

func (c Config) withDefaults() Config {
	if c.LeadWindowDays < 0 {
		c.LeadWindowDays = 0
	}
	if c.PollSchedule == "" {
		c.PollSchedule = "5m"
	}
	if c.BurstSchedule == "" {
		c.BurstSchedule = "1m"
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Minute
	}
	if c.BurstTimeout <= 0 {
		c.BurstTimeout = 2 * time.Minute
	}
	if c.ReconcileEvery == "" {
		c.ReconcileEvery = "1h"
	}
	return c
}

// Executor runs one tick for one target.
type Executor interface {
	Execute(ctx context.Context, t booking.Target) error
}

type ExecutorFunc func(ctx context.Context, t booking.Target) error

func (f ExecutorFunc) Execute(ctx context.Context, t booking.Target) error { return f(ctx, t) }

// Executors holds one executor per target kind.
type Executors struct {
	Polling Executor
	Burst   Executor
}

// Campaigns is what the scheduler needs from the campaign store.
type Campaigns interface {
	List() []booking.Target
	Get(id string) (booking.Target, bool)
	Enabled() bool
	SetEnabled(ctx context.Context, on bool) error
	Load(ctx context.Context) error
	ExpireByDate(ctx context.Context) (int, error)
	ExpireByLeadWindow(ctx context.Context, days int) (int, error)
	OnChange(fn func(campaign.Change))
}

// Runner executes ticks; *engine.Service satisfies it.
type Runner interface {
	Enqueue(t engine.Task) error
}

// Metrics receives scheduling signals.
type Metrics interface {
	SetArmedJobs(n int)
	ObserveTick(kind, result string)
}

type nopMetrics struct{}

func (nopMetrics) SetArmedJobs(int)            {}
func (nopMetrics) ObserveTick(string, string) {}

// JobInfo describes one armed job.
type JobInfo struct {
	TargetID string
	Kind     booking.Kind
	Spec     string
	ArmedAt  time.Time
	Next     time.Time
	Prev     time.Time
	Busy     bool
}

type Snapshot struct {
	Running     bool
	Enabled     bool
	Timezone    string
	LeadWindow  int
	Jobs        []JobInfo
	Quarantined map[string]string
	LastSweep   time.Time
}

// TickTimeout is the context deadline a tick of kind k runs under.
func (c Config) TickTimeout(k booking.Kind) time.Duration {
	c = c.withDefaults()
	if k == booking.KindBurst {
		return c.BurstTimeout
	}
	return c.PollTimeout
}
