package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/observability/pprof"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/seen"
	"relaybot/internal/storage"
	"relaybot/internal/transport/irc"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	backend storage.Backend
	seen    *seen.Store
	session *irc.Session
	loop    *relay.Loop
	sd      *systemd.Notifier
	debug   *pprof.Service

	started time.Time
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Bus exposes relay events to embedders and tests.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Start connects to IRC and launches the relay loop. A failed handshake is
// returned as is; the caller is expected to exit.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sd.Status("connecting")
	if err := a.session.Connect(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("irc connect: %w", err)
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.SessionReady, Data: a.session.Channel()})

	a.sup.Go("relay.loop", a.loop.Run)

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

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.debug != nil {
		// A failing debug server must not stop the relay.
		a.sup.Go0("debug.http", func(c context.Context) {
			if err := a.debug.Run(c); err != nil {
				a.log.Error("debug server failed", logx.Err(err))
			}
		})
	}

	if iv := a.sd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			a.sd.RunWatchdog(c, iv, func() bool { return a.session.State() == irc.StateReady })
		})
	}

	a.sd.Ready()
	a.sd.Status("relaying to " + a.session.Channel())
	a.log.Info("app started", logx.String("channel", a.session.Channel()), logx.Int("seen", a.seen.Len()))
	return nil
}

func (a *App) health() error {
	if st := a.session.State(); st != irc.StateReady {
		return fmt.Errorf("irc session %s", st)
	}
	return nil
}

type status struct {
	Session    string `json:"session"`
	Channel    string `json:"channel"`
	Seen       int    `json:"seen"`
	Goroutines int64  `json:"goroutines"`
	Uptime     string `json:"uptime"`
}

func (a *App) status() any {
	st := status{
		Session: a.session.State().String(),
		Channel: a.session.Channel(),
		Seen:    a.seen.Len(),
		Uptime:  time.Since(a.started).Truncate(time.Second).String(),
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Counters().Active
	}
	return st
}

// reloadLoop applies hot-reloaded configs. Only logging is live; other
// sections are reported as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}

			a.logs.Apply(mapLogConfig(newCfg))

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
			if restart := config.RestartRequired(sections); len(restart) > 0 {
				a.log.Warn("config sections changed; restart required for them to take effect",
					logx.String("sections", strings.Join(restart, ",")))
			}
		}
	}
}

// Stop shuts everything down in order: loop, IRC session (QUIT), goroutines, storage, logs.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	a.sup.Cancel()

	a.step(ctx, "irc", 2*time.Second, func(context.Context) error { return a.session.Close() })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.backend.Close() })

	a.log.Info("stopped", logx.Int("seen", a.seen.Len()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeResources() {
	_ = a.session.Close()
	_ = a.backend.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// step runs one shutdown step bounded by limit (and by ctx). A step that
// overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
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
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
