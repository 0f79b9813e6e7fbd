package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file.
const (
	EnvIRCPassword      = "RELAYBOT_IRC_PASSWORD"
	EnvNickServPassword = "RELAYBOT_NICKSERV_PASSWORD"
	EnvOperPassword     = "RELAYBOT_OPER_PASSWORD"
	EnvFeedToken        = "RELAYBOT_FEED_TOKEN"
	EnvDebugToken       = "RELAYBOT_DEBUG_TOKEN"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv fills secrets from the environment. A non-empty variable wins over
// the file value.
func ApplyEnv(cfg *Config) {
	applyEnvWith(cfg, os.Getenv)
}

func applyEnvWith(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.IRC.Password, EnvIRCPassword)
	set(&cfg.IRC.NickServPassword, EnvNickServPassword)
	set(&cfg.IRC.OperPassword, EnvOperPassword)
	set(&cfg.Feed.Token, EnvFeedToken)
	set(&cfg.Debug.Token, EnvDebugToken)
}
