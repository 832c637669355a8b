// Package session represents a single connection lifecycle, binding an
// established TLS connection with the operator console and the shared
// logger and metrics.
//
// A Session replaces process-wide mutable state: everything the
// command loop needs for one peer travels with it.
package session

import (
	"fmt"
	"net"
	"time"

	"tlsrelay/internal/console"
	"tlsrelay/internal/metrics"
	"tlsrelay/internal/wire"
	"tlsrelay/util"
)

// State is a step in the per-connection lifecycle.
type State int

const (
	AwaitingHandshake State = iota
	AwaitingGreeting
	Interactive
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingHandshake:
		return "AWAITING_HANDSHAKE"
	case AwaitingGreeting:
		return "AWAITING_GREETING"
	case Interactive:
		return "INTERACTIVE"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session encapsulates the runtime context for a single connection.
type Session struct {
	Conn    net.Conn
	Remote  string
	Prompt  string
	Reader  *wire.LineReader
	Console *console.Console
	Logger  *util.Logger
	Metrics *metrics.Collector

	state   State
	started time.Time

	commands  int
	responses int
}

// New creates a Session for conn in the AwaitingHandshake state.
func New(conn net.Conn, con *console.Console, logger *util.Logger, m *metrics.Collector) *Session {
	return &Session{
		Conn:    conn,
		Remote:  util.RemoteString(conn),
		Console: con,
		Logger:  logger,
		Metrics: m,
		started: time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// SetState moves the session to next.  Closed is terminal; later
// transitions are ignored.
func (s *Session) SetState(next State) {
	if s.state == Closed || s.state == next {
		return
	}
	if s.Logger != nil {
		s.Logger.Debug("%s: %s -> %s", s.Remote, s.state, next)
	}
	s.state = next
}

// Close closes the connection once and marks the session Closed.
func (s *Session) Close() error {
	if s.state == Closed {
		return nil
	}
	s.SetState(Closed)
	if s.Conn == nil {
		return nil
	}
	return s.Conn.Close()
}

// CountCommand records one frame of n bytes sent to the peer.
func (s *Session) CountCommand(n int) {
	s.commands++
	s.Metrics.CommandSent(n)
}

// CountResponse records one frame received from the peer.
func (s *Session) CountResponse() {
	s.responses++
	s.Metrics.ResponseReceived()
}

// Summary is a one-line account of the session for the operator log.
func (s *Session) Summary() string {
	return fmt.Sprintf("%s: %d commands, %d responses in %s",
		s.Remote, s.commands, s.responses,
		time.Since(s.started).Truncate(time.Millisecond))
}
