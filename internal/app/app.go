// Package app wires the reminder service to storage, timers, the notifier
// and the Telegram transport, and owns process lifecycle and hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindme/internal/config"
	"remindme/internal/eventbus"
	"remindme/internal/notifier"
	"remindme/internal/observability/pprof"
	"remindme/internal/reminder"
	rtsup "remindme/internal/runtime/supervisor"
	"remindme/internal/storage"
	"remindme/internal/task/scheduler"
	kit "remindme/internal/transport"
	telegram "remindme/internal/transport/telegram/adapter"
	"remindme/internal/transport/telegram/router"
	logx "remindme/pkg/logx"
	"remindme/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store   storage.Store
	adapter kit.Adapter
	sched   *scheduler.Service
	notif   *notifier.Service
	rem     *reminder.Service
	cmdm    *router.Manager
	sd      *systemd.Notifier
	debug   *pprof.Service

	updates chan kit.Message
}

// NewApp loads the config and builds every component. Nothing runs until
// Start; the store is already open.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	// the chat log sink gets its sender once the adapter exists
	logs, root := logx.New(mapLogConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tgCfg, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logs.SetSender(ad)

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, root.With(logx.String("comp", "scheduler")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), bus)

	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rem, err := reminder.NewService(reminder.Options{
		Config:    rcfg,
		Store:     store,
		Scheduler: sched,
		Notifier:  notif,
		Bus:       bus,
		Log:       root.With(logx.String("comp", "reminder")),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cmdm := router.NewManager(root.With(logx.String("comp", "commands")), ad, ad.Username)

	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   sched,
		notif:   notif,
		rem:     rem,
		cmdm:    cmdm,
		sd:      systemd.New(root.With(logx.String("comp", "systemd"))),
		updates: make(chan kit.Message, 256),
	}
	a.debug = pprof.New(pprof.Config{}, a.health, root.With(logx.String("comp", "debug")))
	return a, nil
}

func (a *App) health() pprof.Health {
	h := pprof.Health{
		OK:          true,
		ArmedTimers: a.sched.Len(),
		NotifierOn:  a.notif.Enabled(),
	}
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			h.OK = false
			h.Error = err.Error()
		}
	}
	return h
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.notif.Start(runCtx)

	// re-arm everything stored before accepting new commands
	n, err := a.rem.Reconcile(runCtx)
	if err != nil {
		if storage.IsStorageError(err) {
			return fmt.Errorf("reconcile: %w", err)
		}
		a.log.Error("reconcile incomplete; sweep will retry", logx.Err(err))
	}

	if err := a.applySweep(a.cfgm.Get()); err != nil {
		return err
	}
	a.sched.Start(runCtx)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	a.cmdm.SetRegistry(runCtx, router.ReminderCommands(a.rem))
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c, func() bool { return a.sup.Err() == nil })
	})
	a.applyDebug(runCtx, a.cfgm.Get())

	a.sd.Ready(fmt.Sprintf("%d reminders armed", n))

	a.log.Info("app started", logx.Int("rearmed", n))
	return nil
}

// applySweep registers, replaces or removes the overdue sweep job.
func (a *App) applySweep(cfg *config.Config) error {
	spec, err := sweepSpec(cfg)
	if err != nil {
		return err
	}
	if spec == "" {
		if a.sched.Remove(sweepJobName) {
			a.log.Info("overdue sweep disabled")
		}
		return nil
	}
	return a.sched.AddSchedule(sweepJobName, spec, 0, a.rem.Sweep)
}

// applyDebug logs instead of failing; the debug server is optional.
func (a *App) applyDebug(ctx context.Context, cfg *config.Config) {
	dc, err := mapDebugConfig(cfg)
	if err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
		return
	}
	if err := a.debug.Reconfigure(ctx, dc); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// timers go first: no fire may reach the notifier after its drain starts
	errs := []error{a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })}

	// unwind background loops (dispatch, reload, watch); notifier workers run
	// on their own context and keep draining
	a.sup.Cancel()

	// the adapter goes after the notifier because notices are sent through it
	errs = append(errs,
		a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil }),
		a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil }),
		a.step(ctx, "adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) }),
		a.step(ctx, "storage", time.Second, func(context.Context) error {
			if err := a.store.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
				return err
			}
			return nil
		}),
		a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) }),
	)

	a.log.Info("stopped", logx.Uint64("bus_dropped", a.bus.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// step runs fn bounded by limit and the caller's deadline, whichever is
// sooner. A step that overruns is logged and left running; its error is
// then only logged.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
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
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
		return nil
	}
}

func joinSections(s []string) string { return strings.Join(s, ",") }
