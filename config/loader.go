package config

// loader.go - configuration loading from a TOML file and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	relayerr "tlsrelay/internal/errors"
)

// LoadFile overlays the TOML file at path onto cfg.  Keys absent from
// the file keep their current value; unknown keys are an error so that
// a typo does not silently fall back to a default.
func LoadFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return &relayerr.ConfigError{
			Field:   "config",
			Value:   path,
			Message: err.Error(),
		}
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return &relayerr.ConfigError{
			Field:   "config",
			Value:   path,
			Message: "unknown keys: " + strings.Join(keys, ", "),
			Hint:    "see --help for the supported settings",
		}
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the TLSRELAY_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("250ms", "10s") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.
func LoadFromEnv(cfg *Config) error {
	if v := env("HOST"); v != "" {
		cfg.Host = v
	}
	if err := envInt("PORT", "port", &cfg.Port); err != nil {
		return err
	}
	if v := env("CERT"); v != "" {
		cfg.CertFile = v
	}
	if v := env("KEY"); v != "" {
		cfg.KeyFile = v
	}
	if err := envInt("MAX_FRAME", "max-frame", &cfg.MaxFrameBytes); err != nil {
		return err
	}
	if err := envDuration("HANDSHAKE_TIMEOUT", "handshake-timeout", &cfg.HandshakeTimeout); err != nil {
		return err
	}
	if err := envDuration("GREETING_TIMEOUT", "greeting-timeout", &cfg.GreetingTimeout); err != nil {
		return err
	}
	if err := envDuration("POLL_INTERVAL", "poll-interval", &cfg.PollInterval); err != nil {
		return err
	}

	// SSH gateway
	if v := env("GATEWAY"); v != "" {
		cfg.GatewaySpec = v
	}
	if err := envInt("REMOTE_PORT", "remote-port", &cfg.RemotePort); err != nil {
		return err
	}
	if v := env("REMOTE_BIND"); v != "" {
		cfg.RemoteBindAddress = v
	}
	if err := envDuration("KEEPALIVE", "keepalive", &cfg.KeepAliveInterval); err != nil {
		return err
	}
	if v := env("SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := env("KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	return envInt("VERBOSE", "verbose", &cfg.Verbose)
}

// ConfigPathFromEnv returns TLSRELAY_CONFIG, the file used when
// --config is not given.
func ConfigPathFromEnv() string { return env("CONFIG") }

// ── helpers ──────────────────────────────────────────────────────────

func env(name string) string { return os.Getenv(EnvPrefix + name) }

func envInt(name, field string, dst *int) error {
	v := env(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return envError(name, field, v, "not an integer")
	}
	*dst = n
	return nil
}

func envBool(name string) bool {
	v := strings.ToLower(env(name))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(name, field string, dst *time.Duration) error {
	v := env(name)
	if v == "" {
		return nil
	}
	if sec, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(sec) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return envError(name, field, v, "not a duration")
	}
	*dst = d
	return nil
}

func envError(name, field, value, msg string) error {
	return &relayerr.ConfigError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("%s (from %s%s)", msg, EnvPrefix, name),
	}
}
