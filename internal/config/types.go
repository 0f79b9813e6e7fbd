package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("2s", "30s", "1m"). Secrets may be left
// empty in the file and supplied through the environment (see ApplyEnv).
type Config struct {
	IRC     IRCConfig      `json:"irc"`
	Feed    FeedConfig     `json:"feed"`
	Relay   RelayConfig    `json:"relay"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Logging LoggingConfig  `json:"logging"`
	Systemd SystemdConfig  `json:"systemd"`
	Debug   DebugConfig    `json:"debug"`
}

// IRCConfig describes the single server/channel the bot lives in.
//
// Defaults (when omitted):
//   - port: 6667 (6697 with tls)
//   - nickserv: "NickServ"
//   - accept_phrases: "Password accepted", "You are now identified"
//   - handshake_timeout: "60s"
//   - write_timeout: "10s"
//   - send_rate_per_sec: 0 (no flood limit)
type IRCConfig struct {
	Server                string `json:"server" validate:"required,hostname_rfc1123|ip"`
	Port                  int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	TLS                   bool   `json:"tls,omitempty"`
	TLSInsecureSkipVerify bool   `json:"tls_insecure_skip_verify,omitempty"`

	Nickname string `json:"nickname" validate:"required,max=30"`
	Username string `json:"username,omitempty"`
	Realname string `json:"realname,omitempty"`
	Password string `json:"password,omitempty"`

	Channel string `json:"channel" validate:"required,startswith=#"`

	NickServ         string   `json:"nickserv,omitempty"`
	NickServPassword string   `json:"nickserv_password,omitempty"`
	AcceptPhrases    []string `json:"accept_phrases,omitempty" validate:"dive,required"`

	Oper         bool   `json:"oper,omitempty"`
	OperPassword string `json:"oper_password,omitempty"`

	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
	WriteTimeout     string `json:"write_timeout,omitempty"`

	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty" validate:"gte=0"`
	SendBurst      int     `json:"send_burst,omitempty" validate:"gte=0"`
}

// FeedConfig points at the tracker API endpoint returning {"data": [...]}.
//
// breaker_trip_failures > 0 enables an optional circuit breaker: after that
// many consecutive failures fetches pause for breaker_base_delay (default
// "1m"), doubling per further failure up to breaker_max_delay (default "10m").
// Omitted or 0 keeps it off, so every fetch cycle calls the feed.
type FeedConfig struct {
	URL       string `json:"url" validate:"required,url"`
	Token     string `json:"token,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	BreakerTripFailures int    `json:"breaker_trip_failures,omitempty" validate:"gte=0"`
	BreakerBaseDelay    string `json:"breaker_base_delay,omitempty"`
	BreakerMaxDelay     string `json:"breaker_max_delay,omitempty"`
}

// RelayConfig controls the event loop cadence.
//
// Defaults: poll_interval "2s", min_fetch_interval "30s", liveness_interval "60s".
type RelayConfig struct {
	PollInterval     string `json:"poll_interval,omitempty"`
	MinFetchInterval string `json:"min_fetch_interval,omitempty"`
	LivenessInterval string `json:"liveness_interval,omitempty"`
}

// StorageConfig selects where announced item markers are kept.
// When omitted the file driver writes ./announced.json.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=file json sqlite sqlite3 bolt bbolt"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string          `json:"level"`
	Console bool            `json:"console"`
	File    LoggingFile     `json:"file"`
	IRC     LoggingIRCAlert `json:"irc"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingIRCAlert forwards WARN+ log lines to an IRC target (a nick or channel
// other than the announce channel). min_level is "warn" (default) or "error".
type LoggingIRCAlert struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// SystemdConfig enables sd_notify readiness and watchdog pings when running
// under a systemd unit with Type=notify.
type SystemdConfig struct {
	Notify bool `json:"notify"`
}

// DebugConfig controls the optional debug HTTP server (pprof, /healthz and a
// relay status page).
//
// Defaults: addr "127.0.0.1:6060", prefix "/debug/pprof/", read_timeout "5s",
// idle_timeout "120s". A non-loopback addr requires token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
