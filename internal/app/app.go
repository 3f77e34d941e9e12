// Package app wires configuration, logging, storage, delivery and the
// poller into a running process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hwbot/internal/config"
	"hwbot/internal/eventbus"
	"hwbot/internal/failure"
	"hwbot/internal/notifier"
	"hwbot/internal/poller"
	"hwbot/internal/practicum"
	"hwbot/internal/runtime/supervisor"
	"hwbot/internal/storage"
	"hwbot/internal/transport/telegram"
	logx "hwbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif  *notifier.Service
	engine *poller.Engine
	sd     *sdNotifier

	maxTickAge time.Duration
	sup        *supervisor.Supervisor
}

// New loads the configuration, verifies the credentials once and builds
// every component. Configuration problems come back as
// failure.ErrConfiguration.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.VerifyCredentials(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	closeOnErr := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	pc, err := mapPollerConfig(cfg, time.Now())
	if err != nil {
		return closeOnErr(failure.Wrap(failure.ErrConfiguration, err, ""))
	}
	prc, err := mapPracticumConfig(cfg)
	if err != nil {
		return closeOnErr(failure.Wrap(failure.ErrConfiguration, err, ""))
	}
	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		return closeOnErr(failure.Wrap(failure.ErrConfiguration, err, ""))
	}
	sc, storeEnabled, err := mapStorageConfig(cfg)
	if err != nil {
		return closeOnErr(failure.Wrap(failure.ErrConfiguration, err, ""))
	}

	bus := eventbus.New()

	var store storage.Store
	if storeEnabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return closeOnErr(fmt.Errorf("open storage: %w", err))
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}
	closeAllOnErr := func(err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		return closeOnErr(err)
	}

	tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, APIURL: cfg.Telegram.APIURL, Timeout: nc.SendTimeout},
		log.With(logx.String("comp", "telegram")))
	if err != nil {
		return closeAllOnErr(failure.Wrap(failure.ErrConfiguration, err, ""))
	}
	notif := notifier.New(nc, tg, bus, log.With(logx.String("comp", "notifier")))

	src, err := practicum.New(prc, log.With(logx.String("comp", "practicum")))
	if err != nil {
		return closeAllOnErr(err)
	}

	eng, err := poller.New(pc, src, notif, bus, log.With(logx.String("comp", "poller")))
	if err != nil {
		return closeAllOnErr(err)
	}

	// One full interval late, plus the worst case for a tick.
	now := time.Now()
	gap := pc.Schedule.Next(pc.Schedule.Next(now)).Sub(now)
	maxTickAge := gap + prc.Timeout + nc.SendTimeout*2

	return &App{
		cfgm:       cfgm,
		log:        log.With(logx.String("comp", "app")),
		logs:       logSvc,
		bus:        bus,
		store:      store,
		notif:      notif,
		engine:     eng,
		sd:         newSDNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd"))),
		maxTickAge: maxTickAge,
	}, nil
}

func (a *App) Engine() *poller.Engine { return a.engine }

// Done is closed once the app context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if a.store != nil {
		rec := &auditRecorder{store: a.store, log: a.log.With(logx.String("comp", "audit"))}
		rec.logLastRun(ctx)
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("audit", func(c context.Context) {
			defer unsub()
			rec.run(c, events)
		})
	}

	a.sup.GoRestart("poller", a.engine.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.watchdog(c, a.engine.State, a.maxTickAge)
	})
	a.sd.Ready()

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// reloadLoop applies live-reloadable sections of a changed config: logging
// and notifier limits. Other sections need a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			var needRestart []string
			for _, s := range sections {
				switch s {
				case "logging":
					a.logs.Apply(mapLoggingConfig(newCfg))
				case "notifier":
					if nc, err := mapNotifierConfig(newCfg); err == nil {
						a.notif.Apply(nc)
					}
				default:
					needRestart = append(needRestart, s)
				}
			}
			if len(needRestart) > 0 {
				a.log.Warn("config sections changed; restart required for them to take effect",
					logx.String("sections", strings.Join(needRestart, ",")))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config applied", fields...)
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	err := a.sup.Stop(ctx)
	if err != nil {
		a.log.Warn("supervised goroutines did not stop cleanly", logx.Err(err))
	}
	st := a.engine.State()
	a.log.Info("stopped",
		logx.Uint64("ticks", st.Ticks),
		logx.Int64("cursor", st.Cursor),
		logx.String("last_outcome", string(st.LastOutcome)),
	)
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			a.log.Warn("closing storage failed", logx.Err(cerr))
		}
	}
	_ = a.logs.Close()
	return err
}
