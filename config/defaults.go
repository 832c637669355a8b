package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultHost binds every IPv4 interface.
	DefaultHost = "0.0.0.0"

	// DefaultPort is the relay's listening port.
	DefaultPort = 5656

	// DefaultCertFile and DefaultKeyFile are resolved against the
	// working directory.
	DefaultCertFile = "server.crt"
	DefaultKeyFile  = "server.key"

	// DefaultMaxFrameBytes bounds one inbound frame (16 MiB).
	DefaultMaxFrameBytes = 16 * 1024 * 1024

	// MinMaxFrameBytes keeps --max-frame above a typical command
	// response.
	MinMaxFrameBytes = 1024

	// DefaultHandshakeTimeout limits how long a connecting peer may
	// take to complete TLS.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultGreetingTimeout limits how long the peer may take to send
	// its prompt after the handshake.
	DefaultGreetingTimeout = 30 * time.Second

	// DefaultPollInterval is the read deadline used while waiting for
	// a response frame.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAliveInterval is the SSH keepalive interval for the
	// gateway connection.
	DefaultKeepAliveInterval = 30 * time.Second

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultVerbosity prints informational messages.
	DefaultVerbosity = 1

	// EnvPrefix is prepended to every environment variable name.
	EnvPrefix = "TLSRELAY_"
)
