// Package tunnel exposes the relay through an SSH gateway.  Instead of
// binding a local port, the relay asks the gateway to listen on a
// remote port (tcpip-forward) and accepts the connections the gateway
// forwards back over SSH channels.
//
// There is no reconnect: if the SSH connection dies the listener
// closes and the relay stops.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	relayerr "tlsrelay/internal/errors"
	"tlsrelay/internal/metrics"
	"tlsrelay/util"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// AllowKeyboardInteractive adds keyboard-interactive with empty
	// answers as a last resort.  Public tunnel services authenticate
	// that way.
	AllowKeyboardInteractive bool
}

func (c *SSHConfig) addr() string { return util.FormatAddr(c.Host, c.Port) }

// Gateway is a connection source backed by a remote port forward.
type Gateway struct {
	config    *SSHConfig
	bindAddr  string
	bindPort  int
	keepAlive time.Duration
	logger    *util.Logger
	metrics   *metrics.Collector

	mu       sync.Mutex
	client   *ssh.Client
	listener net.Listener
	stop     chan struct{}
}

// NewGateway returns a Gateway that will ask cfg's server to listen on
// bindAddr:bindPort.  keepAlive of zero disables keepalive probes.
func NewGateway(cfg *SSHConfig, bindAddr string, bindPort int, keepAlive time.Duration,
	logger *util.Logger, m *metrics.Collector) *Gateway {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &Gateway{
		config:    cfg,
		bindAddr:  bindAddr,
		bindPort:  bindPort,
		keepAlive: keepAlive,
		logger:    logger,
		metrics:   m,
	}
}

// Listen connects to the gateway and requests the remote forward.  Any
// failure here is fatal to the relay.
func (g *Gateway) Listen(ctx context.Context) (net.Listener, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.listener != nil {
		return nil, fmt.Errorf("gateway %s: already listening", g.config.addr())
	}

	client, err := dial(ctx, g.config, g.logger)
	if err != nil {
		return nil, relayerr.Wrap("listen", g.String(), err)
	}

	ln, err := listenRemoteForward(client, g.bindAddr, g.bindPort)
	if err != nil {
		client.Close()
		return nil, relayerr.Wrap("listen", g.String(),
			relayerr.WrapSSH("forward", g.config.Host, g.config.Port, err))
	}

	g.client = client
	g.listener = ln
	g.stop = make(chan struct{})

	if g.keepAlive > 0 {
		go g.keepaliveLoop(client, ln, g.stop)
	}
	go func(stop chan struct{}) {
		// A dead SSH connection unblocks Accept.
		err := client.Wait()
		select {
		case <-stop:
		default:
			g.logger.Warn("gateway connection closed: %v", err)
		}
		ln.Close()
	}(g.stop)

	g.logger.Verbose("gateway %s forwarding %s", g.config.addr(), ln.Addr())
	return ln, nil
}

// Close cancels the forward and disconnects from the gateway.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
	if g.listener != nil {
		g.listener.Close()
		g.listener = nil
	}
	if g.client != nil {
		err := g.client.Close()
		g.client = nil
		return err
	}
	return nil
}

func (g *Gateway) String() string {
	return fmt.Sprintf("%s@%s (remote %s)", g.config.User, g.config.addr(),
		util.FormatAddr(g.bindAddr, g.bindPort))
}

// keepaliveLoop probes the SSH connection and closes the listener when
// a probe fails.
func (g *Gateway) keepaliveLoop(client *ssh.Client, ln net.Listener, stop <-chan struct{}) {
	ticker := time.NewTicker(g.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				g.logger.Error("SSH keepalive failed: %v", err)
				g.metrics.RecordError(fmt.Sprintf("keepalive: %v", err))
				ln.Close()
				return
			}
			g.logger.Debug("SSH keepalive OK")
		}
	}
}
