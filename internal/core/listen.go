package core

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"tlsrelay/internal/capability"
	"tlsrelay/internal/console"
	relayerr "tlsrelay/internal/errors"
	"tlsrelay/internal/metrics"
	"tlsrelay/internal/retry"
	"tlsrelay/internal/session"
	"tlsrelay/internal/transport"
	"tlsrelay/internal/wire"
	"tlsrelay/util"
)

// ListenMode accepts one TLS connection at a time and runs the
// capability on it.  The loop continues after every per-connection
// failure and ends only when ctx is cancelled or operator input runs
// out.
type ListenMode struct {
	Source     transport.Source
	TLSConfig  *tls.Config
	Capability capability.Capability
	Console    *console.Console
	Logger     *util.Logger
	Metrics    *metrics.Collector

	HandshakeTimeout time.Duration // 0 = no limit
	GreetingTimeout  time.Duration // 0 = no limit
	PollInterval     time.Duration
	MaxFrame         int

	// Ready, when set, is called with the listener address once the
	// socket is bound.
	Ready func(net.Addr)
}

// Run binds the source and serves connections sequentially.
func (m *ListenMode) Run(ctx context.Context) error {
	ln, err := m.Source.Listen(ctx)
	if err != nil {
		return err
	}
	defer m.Source.Close()
	defer ln.Close()

	m.Logger.Info("secure listener started on %s", m.Source)
	if m.Ready != nil {
		m.Ready(ln.Addr())
	}

	// Shut the listener down when the context expires.
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := m.accept(ctx, ln)
		if err != nil {
			if ctx.Err() != nil {
				m.Logger.Info("server shutting down")
				return nil
			}
			return relayerr.Wrap("accept", m.Source.String(), err)
		}

		err = m.serveConn(ctx, conn)
		switch {
		case ctx.Err() != nil:
			m.Logger.Info("server shutting down")
			return nil
		case err == relayerr.ErrConsoleClosed:
			m.Logger.Info("operator input closed; server shutting down")
			return nil
		case errors.Is(err, relayerr.ErrConsoleClosed):
			// Input failed rather than ended; no later session could
			// read from it either.
			return err
		case err != nil:
			if errors.Is(err, relayerr.ErrHandshake) {
				m.Metrics.HandshakeFailed()
			}
			m.Logger.Error("%v", err)
			m.Metrics.RecordError(err.Error())
			m.Logger.Info("waiting for new connection...")
		}
	}
}

// accept waits for the next connection.  Transient accept failures
// are logged and retried after a fixed PollInterval pause; a closed
// listener ends the wait.
func (m *ListenMode) accept(ctx context.Context, ln net.Listener) (net.Conn, error) {
	var conn net.Conn
	r := &retry.Fixed{
		Delay: m.PollInterval,
		OnRetry: func(_ int, err error, wait time.Duration) {
			m.Logger.Error("accept: %v (retrying in %s)", err, wait)
			m.Metrics.RecordError(err.Error())
		},
	}
	err := r.Do(ctx, func(int) error {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return retry.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	})
	return conn, err
}

// serveConn runs one connection through handshake, greeting and the
// capability.  The connection is always closed on return.
func (m *ListenMode) serveConn(ctx context.Context, raw net.Conn) error {
	m.Metrics.ConnectionOpened()
	defer m.Metrics.ConnectionClosed()

	sess := session.New(raw, m.Console, m.Logger, m.Metrics)
	defer sess.Close()

	// Cancellation must unblock any read on this connection, including
	// transports without deadlines.
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	m.Logger.Verbose("connection from %s", sess.Remote)

	tc, err := transport.ServerHandshake(ctx, raw, m.TLSConfig, m.HandshakeTimeout)
	if err != nil {
		return err
	}
	sess.Conn = tc
	sess.SetState(session.AwaitingGreeting)
	m.Logger.Info("secure connection received from %s", sess.Remote)

	prompt, n, err := m.readGreeting(tc)
	m.Metrics.BytesReceived(int64(n))
	switch {
	case relayerr.IsDisconnect(err) || (err == nil && prompt == ""):
		m.Logger.Warn("client connected but sent no data; closing")
		return nil
	case err != nil:
		return fmt.Errorf("greeting from %s: %w", sess.Remote, err)
	}
	sess.Prompt = prompt

	reader := wire.NewLineReader(tc)
	reader.MaxFrame = m.MaxFrame
	reader.PollInterval = m.PollInterval
	reader.OnRead = func(n int) { m.Metrics.BytesReceived(int64(n)) }
	sess.Reader = reader

	err = m.Capability.Handle(ctx, sess)
	m.Logger.Verbose("session closed: %s", sess.Summary())
	if errors.Is(err, wire.ErrFrameTooLarge) {
		return fmt.Errorf("%s: %w (limit %d bytes)", sess.Remote, err, m.MaxFrame)
	}
	return err
}

// readGreeting performs the single unframed read that yields the
// peer's prompt, bounded by GreetingTimeout where the transport
// supports deadlines.
func (m *ListenMode) readGreeting(tc *tls.Conn) (string, int, error) {
	if m.GreetingTimeout > 0 {
		tc.SetReadDeadline(time.Now().Add(m.GreetingTimeout)) //nolint:errcheck
		defer tc.SetReadDeadline(time.Time{})                 //nolint:errcheck
	}
	prompt, n, err := wire.ReadGreeting(tc)
	if relayerr.IsTimeout(err) {
		return "", n, fmt.Errorf("%w within %s", relayerr.ErrNoGreeting, m.GreetingTimeout)
	}
	return prompt, n, err
}
