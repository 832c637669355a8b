package core

import (
	"tlsrelay/config"
	"tlsrelay/internal/capability"
	"tlsrelay/internal/console"
	"tlsrelay/internal/metrics"
	"tlsrelay/internal/transport"
	"tlsrelay/tunnel"
	"tlsrelay/util"
)

// Build constructs the relay from a resolved configuration.  It loads
// the key pair up front, so a missing certificate fails here, before
// anything is bound.
func Build(cfg *config.Config, logger *util.Logger, con *console.Console, m *metrics.Collector) (Mode, error) {
	tlsCfg, err := transport.LoadServerConfig(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	return &ListenMode{
		Source:           buildSource(cfg, logger, m),
		TLSConfig:        tlsCfg,
		Capability:       capability.Interactive{},
		Console:          con,
		Logger:           logger,
		Metrics:          m,
		HandshakeTimeout: cfg.HandshakeTimeout,
		GreetingTimeout:  cfg.GreetingTimeout,
		PollInterval:     cfg.PollInterval,
		MaxFrame:         cfg.MaxFrameBytes,
	}, nil
}

// buildSource picks where connections come from: a local socket, or
// a remote port on an SSH gateway.
func buildSource(cfg *config.Config, logger *util.Logger, m *metrics.Collector) transport.Source {
	if !cfg.GatewayEnabled {
		return &transport.TCPSource{Host: cfg.Host, Port: cfg.Port}
	}
	return transport.NewSSHSource(&tunnel.SSHConfig{
		User:                     cfg.GatewayUser,
		Host:                     cfg.GatewayHost,
		Port:                     cfg.GatewayPort,
		KeyPath:                  cfg.SSHKeyPath,
		PromptPass:               cfg.SSHPassword,
		UseAgent:                 cfg.UseSSHAgent,
		StrictHostKey:            cfg.StrictHostKey,
		KnownHosts:               cfg.KnownHostsPath,
		ConnTimeout:              config.DefaultConnTimeout,
		AllowKeyboardInteractive: true,
	}, transport.SSHSourceOptions{
		BindAddress: cfg.RemoteBindAddress,
		BindPort:    cfg.RemotePort,
		KeepAlive:   cfg.KeepAliveInterval,
	}, logger, m)
}
