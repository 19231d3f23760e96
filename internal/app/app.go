// Package app assembles the daemon from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"skillswap/internal/availability"
	"skillswap/internal/config"
	"skillswap/internal/eventbus"
	"skillswap/internal/httpapi"
	"skillswap/internal/metrics"
	"skillswap/internal/notifier"
	"skillswap/internal/reminder"
	"skillswap/internal/runtime/supervisor"
	"skillswap/internal/session"
	"skillswap/internal/storage"
	"skillswap/internal/swap"
	"skillswap/internal/task/engine"
	"skillswap/internal/task/scheduler"
	"skillswap/internal/transport"
	"skillswap/internal/transport/telegram"
	logx "skillswap/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine    *engine.Service
	sched     *scheduler.Service
	notif     *notifier.Service
	tg        *telegram.Sender
	reminders *reminder.Scheduler
	sessions  *session.Manager
	gate      *session.Gate
	avail     *availability.Service
	swaps     *swap.Service

	collector *metrics.Collector
	httpCfg   httpSettings
	httpSrv   *http.Server
	listener  net.Listener
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	boot := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	cfgm := config.NewManager(cfgPath, boot)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return build(cfg, cfgm)
}

func build(cfg *config.Config, cfgm *config.Manager) (*App, error) {
	logSvc, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	bus := eventbus.New()

	sc, _ := mapStorageConfig(cfg)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	engCfg, _ := mapTaskEngineConfig(cfg)
	engSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	schedCfg, _ := mapSchedulerConfig(cfg)
	schedSvc := scheduler.New(schedCfg, engSvc, log.With(logx.String("comp", "scheduler")))

	var (
		sender transport.Sender = transport.NewLogSender(log.With(logx.String("comp", "sender")))
		tg     *telegram.Sender
	)
	if tcfg, ok, _ := mapTelegramConfig(cfg); ok {
		tg, err = telegram.New(tcfg, log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		sender = tg
	}

	ncfg, _ := mapNotifierConfig(cfg)
	notifSvc := notifier.New(ncfg, sender, log.With(logx.String("comp", "notifier")), bus, store)

	rcfg, _ := mapReminderConfig(cfg)
	rem, err := reminder.New(rcfg, schedSvc, store, notifSvc, bus, log.With(logx.String("comp", "reminder")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	lcfg, _ := mapLifecycleConfig(cfg)
	mgr := session.NewManager(lcfg, store, schedSvc, rem, bus, log.With(logx.String("comp", "lifecycle")))
	gate := session.NewGate(store, bus, log.With(logx.String("comp", "gate")))
	avail := availability.New(store, log.With(logx.String("comp", "availability")))
	swaps := swap.New(store, avail, mgr, log)

	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       bus,
		store:     store,
		engine:    engSvc,
		sched:     schedSvc,
		notif:     notifSvc,
		tg:        tg,
		reminders: rem,
		sessions:  mgr,
		gate:      gate,
		avail:     avail,
		swaps:     swaps,
	}

	deps := httpapi.RouterDeps{
		Availability: avail,
		Swaps:        swaps,
		Sessions:     mgr,
		Gate:         gate,
		Health:       a.health,
		Pprof:        cfg.HTTP.Pprof,
		RateLimit:    httpapi.RateLimitConfig{Rate: cfg.HTTP.RatePerSec, Burst: cfg.HTTP.Burst},
		Log:          log,
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.collector = metrics.NewCollector(reg, metrics.Gauges{
			ReminderTriggers: rem.Registered,
			ScheduledJobs:    func() int { return len(schedSvc.Names("")) },
			QueueDepth:       func() int { return engSvc.Snapshot().QueueLen },
			BusDropped:       func() uint64 { return eventbus.Dropped(bus) },
		})
		deps.Metrics = metrics.Handler(reg)
		deps.Observer = a.collector
	}

	a.httpCfg, _ = mapHTTPConfig(cfg)
	a.httpSrv = &http.Server{
		Addr:              a.httpCfg.Addr,
		Handler:           httpapi.NewRouter(deps),
		ReadTimeout:       a.httpCfg.ReadTimeout,
		ReadHeaderTimeout: a.httpCfg.ReadTimeout,
		WriteTimeout:      a.httpCfg.WriteTimeout,
		IdleTimeout:       a.httpCfg.IdleTimeout,
	}
	return a, nil
}

// Done is closed when the app supervisor is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr is the bound HTTP address once Start returned.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *App) health(ctx context.Context) error {
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
	}
	_, err := a.store.ListSessionIDs(ctx, storage.SessionFilter{Limit: 1})
	return err
}

// Start runs background services, restores timers for active sessions and
// begins serving HTTP.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	runCtx := a.sup.Context()

	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	} else {
		a.log.Warn("scheduler disabled; expiry jobs and reminders will not fire")
	}

	// Timers live only in memory; rebuild them from storage before taking traffic.
	if _, err := a.sessions.Rehydrate(runCtx); err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}
	if err := a.sessions.RegisterSweep(); err != nil && !errors.Is(err, scheduler.ErrDisabled) {
		return fmt.Errorf("register sweep: %w", err)
	}

	if a.collector != nil {
		a.sup.Go("metrics.events", func(c context.Context) error { return a.collector.Run(c, a.bus) })
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	ln, err := net.Listen("tcp", a.httpCfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	a.listener = ln
	a.sup.Go("http.serve", func(context.Context) error {
		if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	a.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig hot-applies the sections that support it.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(rr, ",")))
	}

	a.logs.Apply(mapLogging(next))

	if engCfg, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		wasOn := a.engine.Enabled()
		a.engine.Apply(ctx, engCfg)
		switch {
		case wasOn && !engCfg.Enabled:
			a.stopWithin(ctx, 3*time.Second, a.engine.Stop)
		case !wasOn && engCfg.Enabled:
			a.engine.Start(ctx)
		}
	}

	if schedCfg, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasOn := a.sched.Enabled()
		a.sched.Apply(schedCfg)
		switch {
		case wasOn && !schedCfg.Enabled:
			a.stopWithin(ctx, 3*time.Second, a.sched.Stop)
		case !wasOn && schedCfg.Enabled:
			a.sched.Start(ctx)
		}
	}

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasOn := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasOn && !ncfg.Enabled:
			a.stopWithin(ctx, 3*time.Second, a.notif.Stop)
		case !wasOn && ncfg.Enabled:
			a.notif.Start(ctx)
		}
	}

	if tcfg, ok, err := mapTelegramConfig(next); err == nil && ok && a.tg != nil {
		a.tg.Apply(tcfg)
	} else if ok && a.tg == nil {
		a.log.Warn("telegram enabled after start; restart required")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) stopWithin(ctx context.Context, d time.Duration, stop func(context.Context)) {
	c, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	stop(c)
}

// Stop shuts components down in dependency order, bounding each step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.store.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Stop taking requests first, then let in-flight jobs drain.
	step("http", a.httpCfg.ShutdownTimeout, a.httpSrv.Shutdown)
	a.sup.Cancel()
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
