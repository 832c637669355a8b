package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	relayerr "tlsrelay/internal/errors"
	"tlsrelay/util"
)

// dial establishes an authenticated SSH connection to the gateway.
func dial(ctx context.Context, cfg *SSHConfig, logger *util.Logger) (*ssh.Client, error) {
	authMethods, err := BuildAuthMethods(cfg)
	if err != nil {
		return nil, relayerr.WrapSSH("auth", cfg.Host, cfg.Port, err)
	}

	hkCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, relayerr.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         cfg.ConnTimeout,
		// Tunnel services print the public address in the banner.
		BannerCallback: func(message string) error {
			logger.Info("%s", message)
			return nil
		},
	}

	addr := cfg.addr()
	logger.Debug("SSH: dialing %s as %s", addr, cfg.User)

	dialer := net.Dialer{Timeout: cfg.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, relayerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		// x/crypto/ssh has no typed error for exhausted auth methods.
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, relayerr.WrapSSH("auth", cfg.Host, cfg.Port,
				fmt.Errorf("%w: %v", relayerr.ErrAuthFailed, err))
		}
		return nil, relayerr.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	go relayServerMessages(client, logger)
	return client, nil
}

// relayServerMessages opens a shell session and copies whatever the
// server prints to the log.  Servers that refuse sessions are fine.
func relayServerMessages(client *ssh.Client, logger *util.Logger) {
	sess, err := client.NewSession()
	if err != nil {
		logger.Debug("SSH: no session for server messages: %v", err)
		return
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return
	}
	_ = sess.Shell()

	var wg sync.WaitGroup
	printStream := func(r io.Reader) {
		defer wg.Done()
		buf := util.GetBuf()
		defer util.PutBuf(buf)
		for {
			n, readErr := r.Read(*buf)
			if n > 0 {
				logger.Info("gateway: %s", string((*buf)[:n]))
			}
			if readErr != nil {
				return
			}
		}
	}

	wg.Add(2)
	go printStream(stdout)
	go printStream(stderr)
	wg.Wait()
}
