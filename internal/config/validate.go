package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

// Validate checks field constraints, durations and cross-field rules.
// It is also installed as the hot-reload validator.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %s", describe(err))
	}

	if strings.ContainsAny(cfg.IRC.Nickname, " \t\r\n") {
		return fmt.Errorf("irc.nickname must not contain whitespace")
	}
	if strings.ContainsAny(cfg.IRC.Channel, " ,\a\r\n") {
		return fmt.Errorf("irc.channel %q is not a valid channel name", cfg.IRC.Channel)
	}
	if cfg.IRC.Oper && cfg.IRC.OperPassword == "" && cfg.IRC.Password == "" {
		return fmt.Errorf("irc.oper requires irc.oper_password (or %s)", EnvOperPassword)
	}
	if li := cfg.Logging.IRC; li.Enabled {
		target := strings.TrimSpace(li.Target)
		if target == "" {
			return fmt.Errorf("logging.irc.target is required when logging.irc.enabled is true")
		}
		if strings.EqualFold(target, strings.TrimSpace(cfg.IRC.Channel)) {
			return fmt.Errorf("logging.irc.target must not be the announce channel %s", cfg.IRC.Channel)
		}
		switch strings.ToLower(strings.TrimSpace(li.MinLevel)) {
		case "", "warn", "warning", "error":
		default:
			return fmt.Errorf("logging.irc.min_level %q: only warn or error may be forwarded to IRC", li.MinLevel)
		}
	}
	if cfg.Storage != nil {
		d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
		if d != "" && d != "file" && d != "json" && strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required when storage.driver=%s", d)
		}
	}

	if d := cfg.Debug; d.Enabled && !d.AllowInsecure && strings.TrimSpace(d.Token) == "" && !IsLoopbackAddr(DebugAddr(d)) {
		return fmt.Errorf("debug.addr %q is not loopback: set debug.token (or %s) or debug.allow_insecure", DebugAddr(d), EnvDebugToken)
	}

	t, err := ResolveTimings(cfg)
	if err != nil {
		return err
	}
	if t.MinFetchInterval < t.PollInterval {
		return fmt.Errorf("relay.min_fetch_interval (%s) must be >= relay.poll_interval (%s)", t.MinFetchInterval, t.PollInterval)
	}
	return nil
}

// DebugAddr returns the configured debug listen address or its default.
func DebugAddr(d DebugConfig) string {
	if a := strings.TrimSpace(d.Addr); a != "" {
		return a
	}
	return "127.0.0.1:6060"
}

// IsLoopbackAddr reports whether a host:port address binds to loopback only.
// An empty host means all interfaces.
func IsLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// describe flattens validator errors into "field: rule" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		rule := fe.Tag()
		if p := fe.Param(); p != "" {
			rule += "=" + p
		}
		parts = append(parts, ns+": "+rule)
	}
	return strings.Join(parts, "; ")
}
