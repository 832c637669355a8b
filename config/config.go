// Package config defines the runtime configuration for tlsrelay and
// the validation that runs before anything is bound.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	relayerr "tlsrelay/internal/errors"
	"tlsrelay/util"
)

// Config holds every tuneable for a relay process.  The toml tags name
// the keys accepted in a --config file.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Host             string        `toml:"host"`
	Port             int           `toml:"port"`
	CertFile         string        `toml:"cert"`
	KeyFile          string        `toml:"key"`
	MaxFrameBytes    int           `toml:"max_frame"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`
	GreetingTimeout  time.Duration `toml:"greeting_timeout"`
	PollInterval     time.Duration `toml:"poll_interval"`

	// ── SSH gateway ──────────────────────────────────────────────────
	GatewaySpec       string        `toml:"gateway"` // raw user@host[:port]
	RemotePort        int           `toml:"remote_port"`
	RemoteBindAddress string        `toml:"remote_bind"`
	KeepAliveInterval time.Duration `toml:"keepalive"`
	SSHKeyPath        string        `toml:"ssh_key"`
	SSHPassword       bool          `toml:"ssh_password"` // true → prompt interactively
	UseSSHAgent       bool          `toml:"ssh_agent"`
	StrictHostKey     bool          `toml:"strict_hostkey"`
	KnownHostsPath    string        `toml:"known_hosts"`

	// Filled in from GatewaySpec by Resolve.
	GatewayEnabled bool   `toml:"-"`
	GatewayUser    string `toml:"-"`
	GatewayHost    string `toml:"-"`
	GatewayPort    int    `toml:"-"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose int `toml:"verbose"`
}

// Default returns a Config populated with the defaults from
// defaults.go.
func Default() *Config {
	return &Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		CertFile:          DefaultCertFile,
		KeyFile:           DefaultKeyFile,
		MaxFrameBytes:     DefaultMaxFrameBytes,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		GreetingTimeout:   DefaultGreetingTimeout,
		PollInterval:      DefaultPollInterval,
		KeepAliveInterval: DefaultKeepAliveInterval,
		Verbose:           DefaultVerbosity,
	}
}

// Addr returns the local bind address.
func (c *Config) Addr() string { return util.FormatAddr(c.Host, c.Port) }

// ── Gateway-spec parser ──────────────────────────────────────────────

// gatewayRe matches [user@]host[:port].
var gatewayRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseGatewaySpec extracts user, host, and port from a string such as
// "ops@bastion.example.com:2222".  Port defaults to 22.
func ParseGatewaySpec(spec string) (user, host string, port int, err error) {
	m := gatewayRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid gateway %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid gateway port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Resolve derives the computed fields and then validates the result.
func (c *Config) Resolve() error {
	c.GatewayEnabled = c.GatewaySpec != ""
	if c.GatewayEnabled {
		user, host, port, err := ParseGatewaySpec(c.GatewaySpec)
		if err != nil {
			return &relayerr.ConfigError{
				Field:   "gateway",
				Value:   c.GatewaySpec,
				Message: err.Error(),
				Hint:    "e.g. --gateway ops@bastion.example.com:22",
			}
		}
		c.GatewayUser, c.GatewayHost, c.GatewayPort = user, host, port
	}
	return c.Validate()
}

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &relayerr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "out of range 1-65535",
			Hint:    fmt.Sprintf("the default is %d", DefaultPort),
		}
	}
	if c.CertFile == "" {
		return &relayerr.ConfigError{Field: "cert", Message: "certificate path is empty"}
	}
	if c.KeyFile == "" {
		return &relayerr.ConfigError{Field: "key", Message: "key path is empty"}
	}
	if c.MaxFrameBytes < MinMaxFrameBytes {
		return &relayerr.ConfigError{
			Field:   "max-frame",
			Value:   c.MaxFrameBytes,
			Message: fmt.Sprintf("must be at least %d bytes", MinMaxFrameBytes),
		}
	}

	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"handshake-timeout", c.HandshakeTimeout},
		{"greeting-timeout", c.GreetingTimeout},
		{"keepalive", c.KeepAliveInterval},
	} {
		if d.value < 0 {
			return &relayerr.ConfigError{
				Field:   d.field,
				Value:   d.value,
				Message: "must not be negative",
				Hint:    "use 0 to disable",
			}
		}
	}
	if c.PollInterval <= 0 {
		return &relayerr.ConfigError{
			Field:   "poll-interval",
			Value:   c.PollInterval,
			Message: "must be positive",
			Hint:    fmt.Sprintf("the default is %s", DefaultPollInterval),
		}
	}

	if c.GatewayEnabled {
		if c.GatewayUser == "" {
			return &relayerr.ConfigError{
				Field:   "gateway",
				Value:   c.GatewaySpec,
				Message: "SSH user is required",
				Hint:    "use --gateway user@host[:port]",
			}
		}
		if c.RemotePort < 0 || c.RemotePort > 65535 {
			return &relayerr.ConfigError{
				Field:   "remote-port",
				Value:   c.RemotePort,
				Message: "out of range 0-65535",
				Hint:    "0 lets the gateway choose a port",
			}
		}
	} else {
		field := ""
		switch {
		case c.RemotePort != 0:
			field = "remote-port"
		case c.RemoteBindAddress != "":
			field = "remote-bind"
		}
		if field != "" {
			return &relayerr.ConfigError{
				Field:   field,
				Message: "only valid with --gateway",
				Hint:    "add --gateway user@host to expose the relay through SSH",
			}
		}
	}

	return nil
}
