package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"relaybot/internal/announce"
	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/feed"
	"relaybot/internal/observability/pprof"
	"relaybot/internal/relay"
	"relaybot/internal/seen"
	"relaybot/internal/storage"
	"relaybot/internal/transport/irc"
	logx "relaybot/pkg/logx"
	"relaybot/pkg/systemd"
)

// NewApp loads the config and builds every component. Nothing touches the
// network until Start.
func NewApp(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "boot"))

	// .env next to the config, then in the working directory.
	if err := config.LoadDotEnv(filepath.Join(filepath.Dir(cfgPath), ".env"), ".env"); err != nil {
		bootLog.Warn("failed to load .env", logx.Err(err))
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	timings, err := config.ResolveTimings(cfg)
	if err != nil {
		return nil, err
	}

	// The IRC sink gets its sender once the session exists below.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)

	sc, err := mapStorageConfig(cfg, timings)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	backend, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	store := seen.New(backend)
	if err := store.Load(context.Background()); err != nil {
		// Degraded: previously announced items may be announced again.
		log.Error("failed to load seen items; starting with an empty set",
			logx.String("driver", sc.Driver), logx.String("path", sc.Path), logx.Err(err))
	} else {
		log.Info("seen items loaded", logx.String("driver", sc.Driver), logx.Int("count", store.Len()))
	}

	bus := eventbus.New()
	session := irc.New(mapIRCConfig(cfg, timings), log.With(logx.String("comp", "irc")))
	logSvc.SetSender(session)

	source := feed.New(mapFeedConfig(cfg, timings), log.With(logx.String("comp", "feed")))
	ann := announce.New(mapAnnounceConfig(cfg), store, session, bus, log.With(logx.String("comp", "announce")))
	loop := relay.New(mapRelayConfig(timings), source, ann, session, bus, log.With(logx.String("comp", "relay")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		backend: backend,
		seen:    store,
		session: session,
		loop:    loop,
		sd:      systemd.NewNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd"))),
		started: time.Now(),
	}
	if dc, ok := mapDebugConfig(cfg, timings); ok {
		a.debug = pprof.New(dc, a.health, a.status, log.With(logx.String("comp", "debug")))
	}
	return a, nil
}
