// Package wire implements the relay's line protocol: newline-terminated
// frames whose bodies are standard base64.
//
// Outbound frames carry operator commands; inbound frames carry the
// peer's output.  The peer's first message (the greeting) is the one
// exception and is read unframed, see [ReadGreeting].
package wire

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// Delimiter terminates every frame.
const Delimiter = '\n'

// GreetingSize bounds the single unframed read that yields the prompt.
const GreetingSize = 1024

// EncodeFrame returns base64(payload) followed by the delimiter.
func EncodeFrame(payload []byte) []byte {
	n := base64.StdEncoding.EncodedLen(len(payload))
	out := make([]byte, n+1)
	base64.StdEncoding.Encode(out, payload)
	out[n] = Delimiter
	return out
}

// WriteFrame encodes payload and writes the whole frame to w.  It
// returns the number of bytes put on the wire.
func WriteFrame(w io.Writer, payload []byte) (int, error) {
	frame := EncodeFrame(payload)
	n, err := w.Write(frame)
	if err != nil {
		return n, err
	}
	if n != len(frame) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// DecodePayload base64-decodes a frame body (without its delimiter)
// and returns it as text.  Invalid UTF-8 sequences are dropped rather
// than rejected; malformed base64 is an error.
func DecodePayload(line string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line))
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	return strings.ToValidUTF8(string(raw), ""), nil
}

// IsExit reports whether a command asks the peer to end the session.
func IsExit(cmd string) bool {
	return strings.EqualFold(cmd, "exit")
}

// ReadGreeting performs one bounded read and returns it as a trimmed
// prompt string along with the number of bytes read.  An empty prompt
// means the peer sent nothing useful.
func ReadGreeting(r io.Reader) (string, int, error) {
	buf := make([]byte, GreetingSize)
	n, err := r.Read(buf)
	if n > 0 {
		return strings.TrimSpace(strings.ToValidUTF8(string(buf[:n]), "")), n, nil
	}
	return "", 0, err
}
