package config

import (
	"reflect"
	"strings"

	logx "relaybot/pkg/logx"
)

// LiveSections can be applied without restarting the bot.
var LiveSections = map[string]bool{"logging": true}

// SummarizeConfigChange lists the changed top-level sections and returns log
// fields describing the new values. Secrets are only reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	o, n := oldCfg.IRC, newCfg.IRC
	if o.Server != n.Server || o.Port != n.Port || o.TLS != n.TLS || o.TLSInsecureSkipVerify != n.TLSInsecureSkipVerify ||
		o.Nickname != n.Nickname || o.Username != n.Username || o.Realname != n.Realname ||
		o.Channel != n.Channel || o.NickServ != n.NickServ || !reflect.DeepEqual(o.AcceptPhrases, n.AcceptPhrases) ||
		o.Oper != n.Oper || o.HandshakeTimeout != n.HandshakeTimeout || o.WriteTimeout != n.WriteTimeout ||
		o.SendRatePerSec != n.SendRatePerSec || o.SendBurst != n.SendBurst ||
		o.Password != n.Password || o.NickServPassword != n.NickServPassword || o.OperPassword != n.OperPassword {
		changed = append(changed, "irc")
		attrs = append(attrs,
			logx.String("irc.server", n.Server),
			logx.Int("irc.port", n.Port),
			logx.String("irc.channel", n.Channel),
			logx.String("irc.nickname", n.Nickname),
			logx.Bool("irc.password_set", n.Password != ""),
			logx.Bool("irc.nickserv_password_set", n.NickServPassword != ""),
		)
	}

	if oldCfg.Feed.URL != newCfg.Feed.URL || oldCfg.Feed.Timeout != newCfg.Feed.Timeout ||
		oldCfg.Feed.UserAgent != newCfg.Feed.UserAgent || oldCfg.Feed.Token != newCfg.Feed.Token ||
		oldCfg.Feed.BreakerTripFailures != newCfg.Feed.BreakerTripFailures ||
		oldCfg.Feed.BreakerBaseDelay != newCfg.Feed.BreakerBaseDelay || oldCfg.Feed.BreakerMaxDelay != newCfg.Feed.BreakerMaxDelay {
		changed = append(changed, "feed")
		attrs = append(attrs,
			logx.String("feed.url", newCfg.Feed.URL),
			logx.Bool("feed.token_set", strings.TrimSpace(newCfg.Feed.Token) != ""),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.poll_interval", newCfg.Relay.PollInterval),
			logx.String("relay.min_fetch_interval", newCfg.Relay.MinFetchInterval),
			logx.String("relay.liveness_interval", newCfg.Relay.LivenessInterval),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs,
				logx.String("storage.driver", newCfg.Storage.Driver),
				logx.String("storage.path", newCfg.Storage.Path),
			)
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.irc_enabled", newCfg.Logging.IRC.Enabled),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	return changed, attrs
}

// RestartRequired returns the sections in changed that are not applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
