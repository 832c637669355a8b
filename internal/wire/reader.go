package wire

import (
	"bytes"
	"context"
	"time"

	relayerr "tlsrelay/internal/errors"
	"tlsrelay/util"
)

// DefaultMaxFrame bounds a single inbound frame.
const DefaultMaxFrame = 16 * 1024 * 1024

// Errors returned by [LineReader.ReadLine].  ErrPeerClosed is the
// disconnect signal: the session is over but nothing went wrong.
var (
	ErrPeerClosed    = relayerr.ErrPeerClosed
	ErrFrameTooLarge = relayerr.ErrFrameTooLarge
)

// deadliner is satisfied by net.Conn and *tls.Conn.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Source is the stream a LineReader pulls from.
type Source interface {
	Read(p []byte) (int, error)
}

// LineReader assembles newline-terminated frames from a stream whose
// reads may return any number of bytes, including none.
//
// When the source supports read deadlines and PollInterval is set,
// each read is bounded by the interval.  A deadline expiry is the
// "no data yet" condition: it is retried and the context is checked
// in between, so a waiting reader stays cancellable.
type LineReader struct {
	src          Source
	MaxFrame     int
	PollInterval time.Duration

	// pending holds bytes received after the last delimiter.
	pending []byte

	// OnRead, when set, is told how many bytes each socket read
	// returned.
	OnRead func(n int)
}

// NewLineReader returns a LineReader over src with the default frame
// limit and no polling.
func NewLineReader(src Source) *LineReader {
	return &LineReader{src: src, MaxFrame: DefaultMaxFrame}
}

// Buffered returns the number of bytes received but not yet returned
// as part of a frame.
func (lr *LineReader) Buffered() int { return len(lr.pending) }

// ReadLine blocks until a full frame has arrived and returns its body
// with surrounding whitespace trimmed.
//
// It returns ErrPeerClosed if the stream ends or is reset before a
// delimiter is seen; partial data is discarded in that case.  A frame
// longer than MaxFrame yields ErrFrameTooLarge.
func (lr *LineReader) ReadLine(ctx context.Context) (string, error) {
	max := lr.MaxFrame
	if max <= 0 {
		max = DefaultMaxFrame
	}

	// Resume the delimiter scan where the previous read left off.
	scanned := 0
	for {
		if i := bytes.IndexByte(lr.pending[scanned:], Delimiter); i >= 0 {
			end := scanned + i
			if end > max {
				lr.consume(end + 1)
				return "", ErrFrameTooLarge
			}
			line := string(bytes.TrimSpace(lr.pending[:end]))
			lr.consume(end + 1)
			return line, nil
		}
		scanned = len(lr.pending)

		if len(lr.pending) > max {
			lr.pending = nil
			return "", ErrFrameTooLarge
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := lr.fill()
		if n > 0 && lr.OnRead != nil {
			lr.OnRead(n)
		}
		if err == nil {
			// (0, nil) means nothing happened; io.EOF is the
			// orderly shutdown.
			continue
		}
		if n > 0 {
			// Data and error together: keep the data, handle the
			// error on the next pass if no delimiter shows up.
			if bytes.IndexByte(lr.pending[scanned:], Delimiter) >= 0 {
				continue
			}
		}
		switch {
		case relayerr.IsTimeout(err):
			continue
		case relayerr.IsDisconnect(err):
			lr.pending = nil
			return "", ErrPeerClosed
		default:
			return "", err
		}
	}
}

// fill performs one read into a pooled chunk and appends the result to
// pending.
func (lr *LineReader) fill() (int, error) {
	if d, ok := lr.src.(deadliner); ok && lr.PollInterval > 0 {
		if err := d.SetReadDeadline(time.Now().Add(lr.PollInterval)); err != nil {
			return 0, err
		}
	}

	chunk := util.GetBuf()
	defer util.PutBuf(chunk)

	n, err := lr.src.Read(*chunk)
	if n > 0 {
		lr.pending = append(lr.pending, (*chunk)[:n]...)
	}
	return n, err
}

// consume drops the first n bytes of pending, releasing the backing
// array once it is empty.
func (lr *LineReader) consume(n int) {
	if n >= len(lr.pending) {
		lr.pending = nil
		return
	}
	rest := make([]byte, len(lr.pending)-n)
	copy(rest, lr.pending[n:])
	lr.pending = rest
}
