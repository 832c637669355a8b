package tunnel

// ssh.Client.Listen matches forwarded-tcpip channels against the exact
// bind address it sent.  Gateways often echo a different one ("0.0.0.0"
// for ""), and the library then rejects every channel.  The listener
// below sends tcpip-forward itself and accepts every forwarded channel.

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"tlsrelay/util"
)

// channelForwardMsg is the payload of "tcpip-forward" and
// "cancel-tcpip-forward" (RFC 4254 §7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// forwardReply is the success reply to "tcpip-forward" when port 0
// was requested.
type forwardReply struct {
	Port uint32
}

// forwardedTCPPayload is the "forwarded-tcpip" channel-open payload
// (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// forwardListener implements [net.Listener] over forwarded-tcpip
// channels.
type forwardListener struct {
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// Accept waits for the next forwarded connection.  Once the listener
// or the SSH connection is closed it returns net.ErrClosed.
func (l *forwardListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, net.ErrClosed
	case newCh, ok := <-l.incoming:
		if !ok {
			return nil, net.ErrClosed
		}
		ch, reqs, err := newCh.Accept()
		if err != nil {
			return nil, fmt.Errorf("channel accept: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		var raddr net.Addr = &net.TCPAddr{}
		var payload forwardedTCPPayload
		if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err == nil {
			raddr = &net.TCPAddr{
				IP:   net.ParseIP(payload.OriginAddr),
				Port: int(payload.OriginPort),
			}
		}
		return newChanConn(ch, l.Addr(), raddr), nil
	}
}

// Close cancels the remote forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		msg := channelForwardMsg{Addr: l.bindAddr, Port: l.bindPort}
		go l.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

// Addr reports the remote bind address.
func (l *forwardListener) Addr() net.Addr {
	return forwardAddr{host: l.bindAddr, port: l.bindPort}
}

type forwardAddr struct {
	host string
	port uint32
}

func (a forwardAddr) Network() string { return "ssh-forward" }
func (a forwardAddr) String() string {
	return net.JoinHostPort(a.host, strconv.Itoa(int(a.port)))
}

// chanConn adapts an [ssh.Channel] to [net.Conn].  SSH channels have
// no deadlines of their own, so a pump goroutine reads the channel and
// Read waits on it with the current read deadline.  An expired
// deadline returns os.ErrDeadlineExceeded and leaves the channel open,
// as on a TCP socket.  Write deadlines are accepted and ignored.
//
// Read is not safe for concurrent use; a deadline set while a Read is
// blocked applies from the next Read.
type chanConn struct {
	ssh.Channel
	laddr net.Addr
	raddr net.Addr

	pumpOnce  sync.Once
	closeOnce sync.Once
	chunks    chan chunk
	done      chan struct{}

	mu       sync.Mutex
	deadline time.Time

	pending []byte
	readErr error // sticky once the channel reports it
}

type chunk struct {
	data []byte
	err  error
}

func newChanConn(ch ssh.Channel, laddr, raddr net.Addr) *chanConn {
	return &chanConn{
		Channel: ch,
		laddr:   laddr,
		raddr:   raddr,
		chunks:  make(chan chunk),
		done:    make(chan struct{}),
	}
}

func (c *chanConn) pump() {
	for {
		buf := make([]byte, util.ChunkSize)
		n, err := c.Channel.Read(buf)
		select {
		case c.chunks <- chunk{data: buf[:n], err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *chanConn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	c.pumpOnce.Do(func() { go c.pump() })

	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		expired = t.C
	}

	select {
	case ck := <-c.chunks:
		if ck.err != nil {
			c.readErr = ck.err
		}
		n := copy(p, ck.data)
		c.pending = ck.data[n:]
		if n > 0 {
			return n, nil
		}
		return 0, ck.err
	case <-expired:
		return 0, os.ErrDeadlineExceeded
	case <-c.done:
		return 0, net.ErrClosed
	}
}

// Close stops the pump and closes the channel.
func (c *chanConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.Channel.Close()
}

func (c *chanConn) LocalAddr() net.Addr  { return c.laddr }
func (c *chanConn) RemoteAddr() net.Addr { return c.raddr }

func (c *chanConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *chanConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *chanConn) SetWriteDeadline(_ time.Time) error { return nil }

// listenRemoteForward registers a forwarded-tcpip handler, sends
// tcpip-forward and returns a listener for the forwarded connections.
// When bindPort is 0 the port chosen by the server is used.
func listenRemoteForward(client *ssh.Client, bindAddr string, bindPort int) (net.Listener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(bindPort)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tcpip-forward %s denied by server",
			net.JoinHostPort(bindAddr, strconv.Itoa(bindPort)))
	}

	port := uint32(bindPort)
	if port == 0 {
		var r forwardReply
		if err := ssh.Unmarshal(reply, &r); err == nil {
			port = r.Port
		}
	}

	return &forwardListener{
		client:   client,
		bindAddr: bindAddr,
		bindPort: port,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}
