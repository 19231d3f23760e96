// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skillswap/internal/eventbus"
	"skillswap/internal/notifier"
)

const namespace = "skillswap"

// Collector counts bus events and HTTP traffic.
type Collector struct {
	sessionsCreated prometheus.Counter
	transitions     *prometheus.CounterVec
	swept           prometheus.Counter
	reminders       *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	access          *prometheus.CounterVec
	taskFailures    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// Gauges are sampled at scrape time. Nil fields are not registered.
type Gauges struct {
	ReminderTriggers func() int
	ScheduledJobs    func() int
	QueueDepth       func() int
	BusDropped       func() uint64
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer, g Gauges) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total",
			Help: "Sessions created.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_transitions_total",
			Help: "Session status transitions by target status.",
		}, []string{"to"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_swept_total",
			Help: "Sessions expired by the periodic sweep.",
		}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminders_total",
			Help: "Reminder trigger outcomes.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification delivery outcomes by kind.",
		}, []string{"kind", "outcome"}),
		access: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "access_requests_total",
			Help: "Meeting access decisions.",
		}, []string{"result", "reason"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_failures_total",
			Help: "Background task failures and panics.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.transitions,
		c.swept,
		c.reminders,
		c.notifications,
		c.access,
		c.taskFailures,
		c.httpRequests,
		c.httpLatency,
	)

	gauge := func(name, help string, fn func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn))
	}
	if g.ReminderTriggers != nil {
		gauge("reminder_triggers", "Registered weekly reminder triggers.", func() float64 { return float64(g.ReminderTriggers()) })
	}
	if g.ScheduledJobs != nil {
		gauge("scheduled_jobs", "Jobs registered with the scheduler.", func() float64 { return float64(g.ScheduledJobs()) })
	}
	if g.QueueDepth != nil {
		gauge("task_queue_depth", "Tasks waiting in the engine queue.", func() float64 { return float64(g.QueueDepth()) })
	}
	if g.BusDropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "eventbus_dropped_total",
			Help: "Event deliveries dropped on full subscribers.",
		}, func() float64 { return float64(g.BusDropped()) }))
	}
	return c
}

// Observe records one bus event.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.SessionCreated:
		c.sessionsCreated.Inc()
		return
	case eventbus.SessionTransitioned:
		if ev, ok := e.Data.(eventbus.SessionEvent); ok {
			c.transitions.WithLabelValues(ev.To).Inc()
		}
		return
	case eventbus.SessionSwept:
		c.swept.Inc()
		return
	case eventbus.ReminderFired:
		c.reminders.WithLabelValues("fired").Inc()
		return
	case eventbus.ReminderSkipped:
		c.reminders.WithLabelValues("skipped").Inc()
		return
	case eventbus.AccessGranted:
		c.access.WithLabelValues("granted", "").Inc()
		return
	case eventbus.AccessDenied:
		reason := ""
		if ev, ok := e.Data.(eventbus.AccessEvent); ok {
			reason = ev.Reason
		}
		c.access.WithLabelValues("denied", reason).Inc()
		return
	case eventbus.TaskFailed:
		c.taskFailures.WithLabelValues("error").Inc()
		return
	case eventbus.TaskPanic:
		c.taskFailures.WithLabelValues("panic").Inc()
		return
	}

	// Delivery events share the "<kind>.<outcome>" shape.
	switch ev := e.Data.(type) {
	case notifier.NotificationEvent:
		_, outcome, _ := strings.Cut(e.Type, ".")
		c.notifications.WithLabelValues(ev.Kind, outcome).Inc()
	case eventbus.ReminderEvent:
		if e.Type == eventbus.ReminderFailed {
			c.reminders.WithLabelValues("failed").Inc()
		}
	}
}

// Run consumes bus events until ctx is done.
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
			c.Observe(e)
		}
	}
}

// ObserveHTTP records one finished HTTP request.
func (c *Collector) ObserveHTTP(route, method string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
