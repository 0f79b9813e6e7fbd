package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Timings holds every duration of the config, parsed and defaulted.
type Timings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	FeedTimeout      time.Duration

	FeedBreakerBaseDelay time.Duration
	FeedBreakerMaxDelay  time.Duration

	PollInterval     time.Duration
	MinFetchInterval time.Duration
	LivenessInterval time.Duration

	StorageBusyTimeout time.Duration

	DebugReadTimeout time.Duration
	DebugIdleTimeout time.Duration
}

func ResolveTimings(cfg *Config) (Timings, error) {
	var (
		t   Timings
		err error
	)
	if cfg == nil {
		cfg = &Config{}
	}
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"irc.handshake_timeout", cfg.IRC.HandshakeTimeout, 60 * time.Second, &t.HandshakeTimeout},
		{"irc.write_timeout", cfg.IRC.WriteTimeout, 10 * time.Second, &t.WriteTimeout},
		{"feed.timeout", cfg.Feed.Timeout, 15 * time.Second, &t.FeedTimeout},
		{"feed.breaker_base_delay", cfg.Feed.BreakerBaseDelay, time.Minute, &t.FeedBreakerBaseDelay},
		{"feed.breaker_max_delay", cfg.Feed.BreakerMaxDelay, 10 * time.Minute, &t.FeedBreakerMaxDelay},
		{"relay.poll_interval", cfg.Relay.PollInterval, 2 * time.Second, &t.PollInterval},
		{"relay.min_fetch_interval", cfg.Relay.MinFetchInterval, 30 * time.Second, &t.MinFetchInterval},
		{"relay.liveness_interval", cfg.Relay.LivenessInterval, 60 * time.Second, &t.LivenessInterval},
		{"debug.read_timeout", cfg.Debug.ReadTimeout, 5 * time.Second, &t.DebugReadTimeout},
		{"debug.idle_timeout", cfg.Debug.IdleTimeout, 120 * time.Second, &t.DebugIdleTimeout},
	}
	for _, f := range fields {
		if *f.dst, err = ParseDurationOrDefault(f.path, f.raw, f.def); err != nil {
			return Timings{}, err
		}
	}
	if cfg.Storage != nil {
		if t.StorageBusyTimeout, err = ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second); err != nil {
			return Timings{}, err
		}
	} else {
		t.StorageBusyTimeout = time.Second
	}
	return t, nil
}
