package transport

import (
	"time"

	"tlsrelay/internal/metrics"
	"tlsrelay/tunnel"
	"tlsrelay/util"
)

var _ Source = (*tunnel.Gateway)(nil)

// SSHSourceOptions describes the remote side of a gateway forward.
type SSHSourceOptions struct {
	BindAddress string
	BindPort    int
	KeepAlive   time.Duration
}

// NewSSHSource returns a Source that accepts connections forwarded by
// an SSH gateway.  Nothing is dialled until Listen.
func NewSSHSource(cfg *tunnel.SSHConfig, opts SSHSourceOptions, logger *util.Logger, m *metrics.Collector) Source {
	return tunnel.NewGateway(cfg, opts.BindAddress, opts.BindPort, opts.KeepAlive, logger, m)
}
