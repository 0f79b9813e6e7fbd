package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJSON = `{
  "irc": {"server": "irc.example.net", "nickname": "relaybot", "channel": "#announce", "nickserv_password": "filepw"},
  "feed": {"url": "https://tracker.example/api/torrents"},
  "relay": {},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "irc": {"enabled": false}},
  "systemd": {"notify": false}
}`

const validYAML = `
irc:
  server: irc.example.net
  port: 6697
  tls: true
  nickname: relaybot
  channel: "#announce"
feed:
  url: https://tracker.example/api/torrents
  timeout: 5s
relay:
  poll_interval: 1s
  min_fetch_interval: 20s
storage:
  driver: sqlite
  path: ./seen.db
logging:
  level: debug
  console: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadJSONAndYAML(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want func(t *testing.T, c *Config)
	}{
		{
			name: "json",
			file: "config.json",
			body: validJSON,
			want: func(t *testing.T, c *Config) {
				if c.IRC.NickServPassword != "filepw" || c.Storage != nil {
					t.Fatalf("unexpected config: %+v", c)
				}
			},
		},
		{
			name: "yaml",
			file: "config.yaml",
			body: validYAML,
			want: func(t *testing.T, c *Config) {
				if !c.IRC.TLS || c.IRC.Port != 6697 || c.Storage == nil || c.Storage.Driver != "sqlite" {
					t.Fatalf("unexpected config: %+v", c)
				}
				tm, err := ResolveTimings(c)
				if err != nil {
					t.Fatal(err)
				}
				if tm.PollInterval != time.Second || tm.MinFetchInterval != 20*time.Second || tm.FeedTimeout != 5*time.Second {
					t.Fatalf("timings = %+v", tm)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(writeFile(t, tt.file, tt.body))
			cfg, err := m.Load(context.Background())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if m.Get() != cfg {
				t.Fatal("Load did not commit")
			}
			tt.want(t, cfg)
		})
	}
}

func TestParseIsStrict(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown json field", file: "c.json", body: `{"irc": {"server": "x", "bogus": 1}}`},
		{name: "trailing data", file: "c.json", body: validJSON + `{}`},
		{name: "unknown yaml field", file: "c.yml", body: "feed:\n  url: http://x\n  extra: true\n"},
		{name: "bad yaml", file: "c.yaml", body: "irc: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(writeFile(t, tt.file, tt.body)).Parse(); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvNickServPassword, "envpw")
	t.Setenv(EnvFeedToken, "envtoken")
	t.Setenv(EnvIRCPassword, "")

	cfg, err := NewManager(writeFile(t, "config.json", validJSON)).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.IRC.NickServPassword != "envpw" {
		t.Fatalf("nickserv password = %q, want env value", cfg.IRC.NickServPassword)
	}
	if cfg.Feed.Token != "envtoken" {
		t.Fatalf("feed token = %q", cfg.Feed.Token)
	}
	if cfg.IRC.Password != "" {
		t.Fatalf("empty env var must not override, got %q", cfg.IRC.Password)
	}
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, ".env", EnvOperPassword+"=fromdotenv\n")
	t.Setenv(EnvOperPassword, "")
	os.Unsetenv(EnvOperPassword)

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(EnvOperPassword); got != "fromdotenv" {
		t.Fatalf("%s = %q", EnvOperPassword, got)
	}
}

func baseConfig() *Config {
	return &Config{
		IRC:  IRCConfig{Server: "irc.example.net", Nickname: "relaybot", Channel: "#announce"},
		Feed: FeedConfig{URL: "https://tracker.example/api"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "ip server", mutate: func(c *Config) { c.IRC.Server = "10.0.0.1" }},
		{name: "missing server", mutate: func(c *Config) { c.IRC.Server = "" }, wantErr: "irc.server"},
		{name: "channel without hash", mutate: func(c *Config) { c.IRC.Channel = "announce" }, wantErr: "irc.channel"},
		{name: "channel with space", mutate: func(c *Config) { c.IRC.Channel = "#a b" }, wantErr: "irc.channel"},
		{name: "nick with space", mutate: func(c *Config) { c.IRC.Nickname = "relay bot" }, wantErr: "irc.nickname"},
		{name: "bad port", mutate: func(c *Config) { c.IRC.Port = 70000 }, wantErr: "irc.port"},
		{name: "bad url", mutate: func(c *Config) { c.Feed.URL = "not a url" }, wantErr: "feed.url"},
		{name: "bad duration", mutate: func(c *Config) { c.Relay.PollInterval = "soon" }, wantErr: "relay.poll_interval"},
		{name: "min below poll", mutate: func(c *Config) { c.Relay.PollInterval = "10s"; c.Relay.MinFetchInterval = "5s" }, wantErr: "min_fetch_interval"},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, wantErr: "storage.driver"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, wantErr: "storage.path"},
		{name: "irc log without target", mutate: func(c *Config) { c.Logging.IRC.Enabled = true }, wantErr: "logging.irc.target"},
		{name: "irc log to operator", mutate: func(c *Config) { c.Logging.IRC = LoggingIRCAlert{Enabled: true, Target: "operator", MinLevel: "error"} }},
		{name: "irc log into announce channel", mutate: func(c *Config) { c.Logging.IRC = LoggingIRCAlert{Enabled: true, Target: "#Announce"} }, wantErr: "logging.irc.target"},
		{name: "irc log at info", mutate: func(c *Config) { c.Logging.IRC = LoggingIRCAlert{Enabled: true, Target: "operator", MinLevel: "info"} }, wantErr: "logging.irc.min_level"},
		{name: "irc log at trace", mutate: func(c *Config) { c.Logging.IRC = LoggingIRCAlert{Enabled: true, Target: "operator", MinLevel: "trace"} }, wantErr: "logging.irc.min_level"},
		{name: "oper without password", mutate: func(c *Config) { c.IRC.Oper = true }, wantErr: "irc.oper"},
		{name: "negative breaker trip", mutate: func(c *Config) { c.Feed.BreakerTripFailures = -1 }, wantErr: "feed.breaker_trip_failures"},
		{name: "debug on loopback", mutate: func(c *Config) { c.Debug.Enabled = true }},
		{name: "debug public without token", mutate: func(c *Config) { c.Debug = DebugConfig{Enabled: true, Addr: "0.0.0.0:6060"} }, wantErr: "debug.addr"},
		{name: "debug public with token", mutate: func(c *Config) { c.Debug = DebugConfig{Enabled: true, Addr: "0.0.0.0:6060", Token: "t"} }},
		{name: "debug bad addr", mutate: func(c *Config) { c.Debug = DebugConfig{Enabled: true, Addr: "nope"} }, wantErr: "debug.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseConfig()
			tt.mutate(c)
			err := Validate(context.Background(), c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveTimingsDefaults(t *testing.T) {
	tm, err := ResolveTimings(baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	want := Timings{
		HandshakeTimeout:     60 * time.Second,
		WriteTimeout:         10 * time.Second,
		FeedTimeout:          15 * time.Second,
		FeedBreakerBaseDelay: time.Minute,
		FeedBreakerMaxDelay:  10 * time.Minute,
		PollInterval:         2 * time.Second,
		MinFetchInterval:     30 * time.Second,
		LivenessInterval:     60 * time.Second,
		StorageBusyTimeout:   time.Second,
		DebugReadTimeout:     5 * time.Second,
		DebugIdleTimeout:     120 * time.Second,
	}
	if tm != want {
		t.Fatalf("timings = %+v, want %+v", tm, want)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := baseConfig()
	newCfg := baseConfig()
	newCfg.Logging.Level = "debug"
	newCfg.IRC.NickServPassword = "secret"

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "irc,logging" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "irc" {
		t.Fatalf("RestartRequired = %v", got)
	}

	if changed, _ := SummarizeConfigChange(oldCfg, baseConfig()); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "config.json", validJSON)
	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	if err := os.WriteFile(path, []byte(strings.Replace(validJSON, `"#announce"`, `"announce"`, 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-sub:
		t.Fatalf("invalid config published: %+v", c.IRC)
	case <-time.After(300 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte(strings.Replace(validJSON, `"level": "info"`, `"level": "debug"`, 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-sub:
		if c.Logging.Level != "debug" {
			t.Fatalf("published level = %q", c.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config change not published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := NewManager(filepath.Join("..", "..", "config.example.yaml")).Load(context.Background())
	if err != nil {
		t.Fatalf("config.example.yaml: %v", err)
	}
	if cfg.IRC.Channel != "#announce" || cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("unexpected example config: %+v", cfg)
	}
}
