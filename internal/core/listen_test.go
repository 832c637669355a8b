package core

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"tlsrelay/internal/capability"
	"tlsrelay/internal/console"
	relayerr "tlsrelay/internal/errors"
	"tlsrelay/internal/metrics"
	"tlsrelay/internal/transport"
	"tlsrelay/util"
)

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a
// polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type relayHarness struct {
	mode    *ListenMode
	out     *syncBuffer
	log     *syncBuffer
	metrics *metrics.Collector
	client  *tls.Config
	addr    chan string
	done    chan error
	cancel  context.CancelFunc
}

// startRelay runs a ListenMode on a loopback port with a fresh
// certificate and the given operator input.
func startRelay(t *testing.T, input io.Reader, tweak func(*ListenMode)) *relayHarness {
	t.Helper()

	certPEM, keyPEM, err := transport.SelfSigned([]string{"localhost", "127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(certPEM)

	h := &relayHarness{
		out:     &syncBuffer{},
		log:     &syncBuffer{},
		metrics: metrics.New(),
		client:  &tls.Config{RootCAs: pool, ServerName: "localhost"},
		addr:    make(chan string, 1),
		done:    make(chan error, 1),
	}

	logger := util.NewLogger(3)
	logger.SetOutput(h.log)
	logger.SetTimestamps(false)

	h.mode = &ListenMode{
		Source:           &transport.TCPSource{Host: "127.0.0.1", Port: 0},
		TLSConfig:        transport.NewServerConfig(pair),
		Capability:       capability.Interactive{},
		Console:          console.New(input, h.out),
		Logger:           logger,
		Metrics:          h.metrics,
		HandshakeTimeout: 2 * time.Second,
		GreetingTimeout:  2 * time.Second,
		PollInterval:     20 * time.Millisecond,
		MaxFrame:         1 << 20,
		Ready:            func(a net.Addr) { h.addr <- a.String() },
	}
	if tweak != nil {
		tweak(h.mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	h.cancel = cancel
	t.Cleanup(cancel)

	go func() { h.done <- h.mode.Run(ctx) }()

	select {
	case a := <-h.addr:
		h.addr <- a
	case err := <-h.done:
		t.Fatalf("relay exited early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not start")
	}
	return h
}

func (h *relayHarness) address() string {
	a := <-h.addr
	h.addr <- a
	return a
}

// dial connects a TLS peer and sends its greeting.
func (h *relayHarness) dial(t *testing.T, greeting string) (*tls.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", h.address(), h.client)
	if err != nil {
		t.Fatalf("tls dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	if greeting != "" {
		if _, err := conn.Write([]byte(greeting)); err != nil {
			t.Fatal(err)
		}
	}
	return conn, bufio.NewReader(conn)
}

func (h *relayHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
		return nil
	}
}

// waitFor polls until s contains want.
func waitFor(t *testing.T, what string, s func() string, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(s(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never contained %q:\n%s", what, want, s())
}

func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line))
	if err != nil {
		t.Fatalf("frame %q is not base64: %v", line, err)
	}
	return string(raw)
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) + "\n" }

func TestListenMode_WhoamiThenExit(t *testing.T) {
	h := startRelay(t, strings.NewReader("whoami\nexit\n"), nil)

	conn, r := h.dial(t, "PS> ")
	if got := readFrame(t, r); got != "whoami" {
		t.Fatalf("first command = %q", got)
	}
	conn.Write([]byte(b64("CORP\\user\n"))) //nolint:errcheck

	if got := readFrame(t, r); got != "exit" {
		t.Fatalf("second command = %q", got)
	}
	// The relay closes without waiting for a reply.
	if _, err := r.ReadByte(); err == nil {
		t.Error("connection still open after exit")
	}

	// Back at accept: a second peer is served with its own prompt.
	h.dial(t, "C:\\> ")
	if err := h.wait(t); err != nil {
		t.Fatalf("Run = %v, want nil after console EOF", err)
	}

	if got, want := h.out.String(), "PS> CORP\\user\nPS> C:\\> "; got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
	log := h.log.String()
	for _, want := range []string{
		"[INF] secure listener started on 127.0.0.1:",
		"[INF] secure connection received from 127.0.0.1:",
		"[INF] Sent 'exit' command. Closing this connection.",
		"AWAITING_GREETING -> INTERACTIVE",
		"[INF] operator input closed; server shutting down",
	} {
		if !strings.Contains(log, want) {
			t.Errorf("log missing %q:\n%s", want, log)
		}
	}
	if h.metrics.TotalConnections() != 2 || h.metrics.ActiveConnections() != 0 {
		t.Errorf("connections = %+v", h.metrics.Snapshot())
	}
	if h.metrics.CommandsSent() != 2 || h.metrics.ResponsesReceived() != 1 {
		t.Errorf("frames = %+v", h.metrics.Snapshot())
	}
}

func TestListenMode_HandshakeFailureKeepsListening(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := startRelay(t, pr, nil)

	old := h.client.Clone()
	old.MaxVersion = tls.VersionTLS12
	if c, err := tls.Dial("tcp", h.address(), old); err == nil {
		c.Close()
		t.Fatal("TLS 1.2 client was accepted")
	}
	waitFor(t, "log", h.log.String, "[ERR] tls handshake")

	h.dial(t, "PS> ")
	waitFor(t, "console", h.out.String, "PS> ")

	if h.metrics.HandshakeFailures() != 1 {
		t.Errorf("handshake failures = %d", h.metrics.HandshakeFailures())
	}
	h.cancel()
	if err := h.wait(t); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestListenMode_PlainTCPRejected(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := startRelay(t, pr, nil)

	c, err := net.Dial("tcp", h.address())
	if err != nil {
		t.Fatal(err)
	}
	c.Write([]byte("hello\n")) //nolint:errcheck
	io.ReadAll(c)              //nolint:errcheck
	c.Close()

	waitFor(t, "log", h.log.String, "waiting for new connection")
	h.dial(t, "PS> ")
	waitFor(t, "console", h.out.String, "PS> ")
}

func TestListenMode_EmptyGreeting(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := startRelay(t, pr, nil)

	conn, _ := h.dial(t, "")
	conn.Write([]byte("  \r\n")) //nolint:errcheck
	waitFor(t, "log", h.log.String, "client connected but sent no data")

	// A peer that closes without a word is handled the same way.
	conn2, _ := h.dial(t, "")
	conn2.Close()
	waitFor(t, "metrics", func() string {
		if h.metrics.TotalConnections() == 2 && h.metrics.ActiveConnections() == 0 {
			return "done"
		}
		return ""
	}, "done")

	if strings.Contains(h.out.String(), ">") {
		t.Errorf("no prompt should be shown: %q", h.out.String())
	}
	h.cancel()
	h.wait(t) //nolint:errcheck
}

func TestListenMode_GreetingTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := startRelay(t, pr, func(m *ListenMode) { m.GreetingTimeout = 100 * time.Millisecond })

	h.dial(t, "")
	waitFor(t, "log", h.log.String, "peer sent no greeting within 100ms")

	h.dial(t, "PS> ")
	waitFor(t, "console", h.out.String, "PS> ")
	h.cancel()
	h.wait(t) //nolint:errcheck
}

func TestListenMode_MalformedResponse(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := startRelay(t, pr, nil)

	conn, r := h.dial(t, "PS> ")
	waitFor(t, "console", h.out.String, "PS> ")

	go pw.Write([]byte("dir\n")) //nolint:errcheck
	if got := readFrame(t, r); got != "dir" {
		t.Fatalf("command = %q", got)
	}
	conn.Write([]byte("%%%\n")) //nolint:errcheck

	waitFor(t, "log", h.log.String, "[ERR] decode base64")
	waitFor(t, "console", h.out.String, "PS> \nPS> ")

	// The session survives: the next command still goes out.
	go pw.Write([]byte("hostname\n")) //nolint:errcheck
	if got := readFrame(t, r); got != "hostname" {
		t.Errorf("command after decode error = %q", got)
	}
	h.cancel()
	h.wait(t) //nolint:errcheck
}

func TestListenMode_SplitResponse(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := startRelay(t, pr, nil)

	conn, r := h.dial(t, "PS> ")
	go pw.Write([]byte("whoami\n")) //nolint:errcheck
	readFrame(t, r)

	frame := b64("CORP\\user\n")
	for i := 0; i < len(frame); i += 3 {
		end := min(i+3, len(frame))
		conn.Write([]byte(frame[i:end])) //nolint:errcheck
		time.Sleep(30 * time.Millisecond)
	}
	waitFor(t, "console", h.out.String, "PS> CORP\\user\nPS> ")
	h.cancel()
	h.wait(t) //nolint:errcheck
}

func TestListenMode_PeerDisconnect(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := startRelay(t, pr, nil)

	conn, r := h.dial(t, "PS> ")
	go pw.Write([]byte("whoami\n")) //nolint:errcheck
	readFrame(t, r)
	conn.Write([]byte("d2hv")) //nolint:errcheck
	conn.Close()

	waitFor(t, "log", h.log.String, "client disconnected unexpectedly")
	if strings.Contains(h.out.String(), "who") {
		t.Errorf("partial frame leaked: %q", h.out.String())
	}

	h.dial(t, "PS> ")
	waitFor(t, "console", h.out.String, "\nPS> ")
	h.cancel()
	h.wait(t) //nolint:errcheck
}

func TestListenMode_FrameTooLarge(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := startRelay(t, pr, func(m *ListenMode) { m.MaxFrame = 1024 })

	conn, r := h.dial(t, "PS> ")
	go pw.Write([]byte("type big.log\n")) //nolint:errcheck
	readFrame(t, r)
	conn.Write([]byte(strings.Repeat("QUFB", 1024) + "\n")) //nolint:errcheck

	waitFor(t, "log", h.log.String, "frame exceeds maximum length (limit 1024 bytes)")
	h.cancel()
	h.wait(t) //nolint:errcheck
}

func TestListenMode_InterruptWhileWaitingForOperator(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := startRelay(t, pr, nil)

	_, r := h.dial(t, "PS> ")
	waitFor(t, "console", h.out.String, "PS> ")

	h.cancel()
	if err := h.wait(t); err != nil {
		t.Errorf("Run = %v, want nil on interrupt", err)
	}
	if _, err := r.ReadByte(); err == nil {
		t.Error("active connection not closed on interrupt")
	}
	waitFor(t, "log", h.log.String, "server shutting down")
}

func TestListenMode_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	mode := &ListenMode{
		Source: &transport.TCPSource{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port},
		Logger: util.NewLogger(0),
	}
	err = mode.Run(context.Background())
	if err == nil {
		t.Fatal("expected bind failure")
	}
	if !strings.HasPrefix(err.Error(), "listen 127.0.0.1:") {
		t.Errorf("err = %v", err)
	}
}

// flakyListener fails Accept with a transient error a fixed number of
// times before handing out conns.
type flakyListener struct {
	net.Listener
	failures int
}

type tooManyFiles struct{}

func (tooManyFiles) Error() string   { return "accept: too many open files" }
func (tooManyFiles) Timeout() bool   { return false }
func (tooManyFiles) Temporary() bool { return true }

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures > 0 {
		l.failures--
		return nil, tooManyFiles{}
	}
	return l.Listener.Accept()
}

func TestListenMode_AcceptRetriesTransientErrors(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer inner.Close()
	ln := &flakyListener{Listener: inner, failures: 2}

	var log syncBuffer
	logger := util.NewLogger(1)
	logger.SetOutput(&log)
	m := &ListenMode{Logger: logger, Metrics: metrics.New(), PollInterval: time.Millisecond}

	go func() {
		c, err := net.Dial("tcp", inner.Addr().String())
		if err == nil {
			defer c.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := m.accept(ctx, ln)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	conn.Close()

	if got := m.Metrics.ErrorCount(); got != 2 {
		t.Errorf("errors = %d, want 2", got)
	}
	if !strings.Contains(log.String(), "too many open files (retrying in") {
		t.Errorf("log = %q", log.String())
	}
}

func TestListenMode_AcceptClosedListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ln.Close()

	m := &ListenMode{Logger: util.NewLogger(0), Metrics: metrics.New(), PollInterval: time.Millisecond}
	if _, err := m.accept(context.Background(), ln); !errors.Is(err, net.ErrClosed) {
		t.Errorf("err = %v, want net.ErrClosed", err)
	}
}

func TestListenMode_ConsoleFailureStopsRelay(t *testing.T) {
	// One operator line longer than the console accepts.
	input := strings.NewReader(strings.Repeat("a", console.MaxLine+1) + "\n")
	h := startRelay(t, input, nil)

	_, r := h.dial(t, "PS> ")
	err := h.wait(t)
	if !errors.Is(err, relayerr.ErrConsoleClosed) || !errors.Is(err, bufio.ErrTooLong) {
		t.Fatalf("Run = %v, want a console failure", err)
	}
	if _, err := r.ReadByte(); err == nil {
		t.Error("connection still open after console failure")
	}

	// The relay is gone rather than serving peers it cannot talk to.
	if c, err := net.DialTimeout("tcp", h.address(), 500*time.Millisecond); err == nil {
		c.Close()
		t.Error("listener still accepting after console failure")
	}
	if strings.Contains(h.log.String(), "waiting for new connection") {
		t.Errorf("relay went back to accept:\n%s", h.log.String())
	}
}

func TestListenMode_GreetingBytesCounted(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	h := startRelay(t, pr, nil)

	h.dial(t, "  PS>  \r\n")
	waitFor(t, "console", h.out.String, "PS> ")

	if got := h.metrics.TotalBytesIn(); got != 9 {
		t.Errorf("bytes in = %d, want 9 (untrimmed greeting)", got)
	}
	h.cancel()
	h.wait(t) //nolint:errcheck
}
