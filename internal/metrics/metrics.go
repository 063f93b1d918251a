// Package metrics exposes courtbot counters and gauges to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"courtbot/internal/booking"
	"courtbot/internal/eventbus"
	"courtbot/internal/executor"
	"courtbot/internal/gateway"
	"courtbot/internal/task/engine"
	"courtbot/internal/task/scheduler"
)

const namespace = "courtbot"

// Collector implements the metric hooks of the scheduler, the executors
// and the gateway client.
type Collector struct {
	reg *prometheus.Registry

	armedJobs   prometheus.Gauge
	ticks       *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	gwLatency   *prometheus.HistogramVec
	events      *prometheus.CounterVec
	tickLatency *prometheus.HistogramVec
	tickDrops   *prometheus.CounterVec
	targets     prometheus.Gauge
}

var (
	_ scheduler.Metrics = (*Collector)(nil)
	_ executor.Metrics  = (*Collector)(nil)
	_ gateway.Metrics   = (*Collector)(nil)
)

// New builds a collector on its own registry together with the Go runtime
// and process collectors.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		armedJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "armed_jobs",
			Help: "Targets with an armed recurring job.",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "ticks_total",
			Help: "Scheduler ticks by target kind and result.",
		}, []string{"kind", "result"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "executor", Name: "attempts_total",
			Help: "Booking attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		gwLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "request_seconds",
			Help:    "Reservation API latency by operation and result.",
			Buckets: prometheus.ExponentialBuckets(0.025, 2, 10), // 25ms .. ~12.8s
		}, []string{"op", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Campaign lifecycle events by kind.",
		}, []string{"kind"}),
		tickLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "runner", Name: "tick_seconds",
			Help:    "Duration of ticks that ran, by result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"result"}),
		tickDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "runner", Name: "ticks_not_run_total",
			Help: "Ticks that never ran, by reason (skipped, dropped).",
		}, []string{"reason"}),
		targets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "targets",
			Help: "Targets currently held by the campaign store.",
		}),
	}
	c.reg.MustRegister(
		c.armedJobs, c.ticks, c.attempts, c.gwLatency, c.events,
		c.tickLatency, c.tickDrops, c.targets,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

// Gatherer is what the HTTP handler serves.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.reg }

func (c *Collector) SetArmedJobs(n int) { c.armedJobs.Set(float64(n)) }

func (c *Collector) ObserveTick(kind, result string) { c.ticks.WithLabelValues(kind, result).Inc() }

func (c *Collector) ObserveAttempt(kind, outcome string) {
	c.attempts.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) ObserveGateway(op, result string, d time.Duration) {
	c.gwLatency.WithLabelValues(op, result).Observe(d.Seconds())
}

func (c *Collector) SetTargets(n int) { c.targets.Set(float64(n)) }

// Run counts bus events until ctx ends.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.observe(e)
		}
	}
}

func (c *Collector) observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TopicBooking:
		if be, ok := e.Data.(booking.Event); ok {
			c.events.WithLabelValues(string(be.Kind)).Inc()
		}
	case eventbus.TopicTickFinished, eventbus.TopicTickFailed:
		if te, ok := e.Data.(engine.TaskEvent); ok {
			result := "ok"
			if e.Type == eventbus.TopicTickFailed {
				result = "error"
			}
			c.tickLatency.WithLabelValues(result).Observe(te.Duration.Seconds())
		}
	case eventbus.TopicTickSkipped:
		c.tickDrops.WithLabelValues("skipped").Inc()
	case eventbus.TopicTickDropped:
		c.tickDrops.WithLabelValues("dropped").Inc()
	}
}
