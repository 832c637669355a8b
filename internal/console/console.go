// Package console is the operator side of the relay: prompts and peer
// output go out, typed commands come in.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	relayerr "tlsrelay/internal/errors"
)

// MaxLine is the longest operator line accepted.
const MaxLine = 1024 * 1024

// Console reads operator lines on a dedicated goroutine so that a
// blocked terminal read never stops the relay from seeing an
// interrupt.  One Console lives for the whole process and is shared
// by consecutive sessions.
type Console struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan string
	err   error // set before lines is closed

	mu sync.Mutex
}

// New returns a Console over in and out.  Nil arguments default to
// os.Stdin and os.Stdout.
func New(in io.Reader, out io.Writer) *Console {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Console{in: in, out: out, lines: make(chan string)}
}

func (c *Console) start() {
	go func() {
		sc := bufio.NewScanner(c.in)
		sc.Buffer(make([]byte, 0, 4096), MaxLine)
		for sc.Scan() {
			c.lines <- strings.TrimRight(sc.Text(), "\r")
		}
		c.err = sc.Err()
		close(c.lines)
	}()
}

// ReadLine waits for the next operator line, without its line ending.
// It returns ErrConsoleClosed once input is exhausted, or the context
// error if ctx ends first.  A read failure, such as a line longer than
// MaxLine, also closes the console: the error wraps both
// ErrConsoleClosed and the cause.  A line typed while nobody is waiting is
// held until the next call.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	c.once.Do(c.start)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			if c.err != nil {
				return "", fmt.Errorf("%w: %w", relayerr.ErrConsoleClosed, c.err)
			}
			return "", relayerr.ErrConsoleClosed
		}
		return line, nil
	}
}

// Prompt shows the peer's prompt followed by a single space.
func (c *Console) Prompt(prompt string) error {
	return c.Print(prompt + " ")
}

// Print writes peer output exactly as received.
func (c *Console) Print(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, s)
	return err
}
