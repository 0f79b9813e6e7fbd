package app

import (
	"fmt"
	"strings"

	"relaybot/internal/announce"
	"relaybot/internal/config"
	"relaybot/internal/feed"
	"relaybot/internal/observability/pprof"
	"relaybot/internal/relay"
	"relaybot/internal/storage"
	"relaybot/internal/transport/irc"
	logx "relaybot/pkg/logx"
)

const defaultSeenPath = "./announced.json"

func mapStorageConfig(cfg *config.Config, t config.Timings) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: defaultSeenPath}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file", "json":
		if path == "" {
			path = defaultSeenPath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3", "bolt", "bbolt":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: t.StorageBusyTimeout}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapIRCConfig(cfg *config.Config, t config.Timings) irc.Config {
	c := cfg.IRC
	port := c.Port
	if port == 0 {
		port = 6667
		if c.TLS {
			port = 6697
		}
	}
	return irc.Config{
		Server:                c.Server,
		Port:                  port,
		TLS:                   c.TLS,
		TLSInsecureSkipVerify: c.TLSInsecureSkipVerify,
		Nickname:              c.Nickname,
		Username:              c.Username,
		Realname:              c.Realname,
		Password:              c.Password,
		Channel:               c.Channel,
		NickServ:              c.NickServ,
		NickServPassword:      c.NickServPassword,
		AcceptPhrases:         c.AcceptPhrases,
		Oper:                  c.Oper,
		OperPassword:          c.OperPassword,
		HandshakeTimeout:      t.HandshakeTimeout,
		WriteTimeout:          t.WriteTimeout,
	}
}

func mapFeedConfig(cfg *config.Config, t config.Timings) feed.Config {
	return feed.Config{
		URL:       cfg.Feed.URL,
		Token:     cfg.Feed.Token,
		Timeout:   t.FeedTimeout,
		UserAgent: cfg.Feed.UserAgent,
		Breaker: feed.BreakerConfig{
			Trip:      cfg.Feed.BreakerTripFailures,
			BaseDelay: t.FeedBreakerBaseDelay,
			MaxDelay:  t.FeedBreakerMaxDelay,
		},
	}
}

func mapAnnounceConfig(cfg *config.Config) announce.Config {
	return announce.Config{
		Channel:        cfg.IRC.Channel,
		SendRatePerSec: cfg.IRC.SendRatePerSec,
		SendBurst:      cfg.IRC.SendBurst,
	}
}

func mapRelayConfig(t config.Timings) relay.Config {
	return relay.Config{
		PollInterval:     t.PollInterval,
		MinFetchInterval: t.MinFetchInterval,
		LivenessInterval: t.LivenessInterval,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		IRC: logx.IRCConfig{
			Enabled:    l.IRC.Enabled,
			Target:     l.IRC.Target,
			MinLevel:   l.IRC.MinLevel,
			RatePerSec: l.IRC.RatePerSec,
		},
	}
}

func mapDebugConfig(cfg *config.Config, t config.Timings) (pprof.Config, bool) {
	d := cfg.Debug
	return pprof.Config{
		Addr:          config.DebugAddr(d),
		Prefix:        strings.TrimSpace(d.Prefix),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   t.DebugReadTimeout,
		IdleTimeout:   t.DebugIdleTimeout,
	}, d.Enabled
}
