package capability

import (
	"context"
	"errors"

	relayerr "tlsrelay/internal/errors"
	"tlsrelay/internal/session"
	"tlsrelay/internal/wire"
)

// Interactive relays operator commands to the peer one at a time and
// prints each decoded response before prompting again.
type Interactive struct{}

// Handle runs the command loop.  It returns nil when the operator sends
// exit or the peer disconnects.  Console closure and context
// cancellation are returned unchanged so the listener can stop.
func (Interactive) Handle(ctx context.Context, sess *session.Session) error {
	sess.SetState(session.Interactive)
	con := sess.Console
	log := sess.Logger

	if err := con.Prompt(sess.Prompt); err != nil {
		return err
	}

	for {
		cmd, err := con.ReadLine(ctx)
		if err != nil {
			return err
		}
		if cmd == "" {
			if err := con.Prompt(sess.Prompt); err != nil {
				return err
			}
			continue
		}

		n, err := wire.WriteFrame(sess.Conn, []byte(cmd))
		if err != nil {
			// Cancellation closes the connection, which looks like a
			// disconnect from here.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if relayerr.IsDisconnect(err) {
				log.Warn("client disconnected unexpectedly")
				return nil
			}
			return relayerr.Wrap("write", sess.Remote, err)
		}
		sess.CountCommand(n)

		if wire.IsExit(cmd) {
			log.Info("Sent 'exit' command. Closing this connection.")
			return nil
		}

		line, err := sess.Reader.ReadLine(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, wire.ErrPeerClosed):
			con.Print("\n") //nolint:errcheck
			log.Warn("client disconnected unexpectedly")
			return nil
		case err != nil:
			return err
		}
		sess.CountResponse()

		out, err := wire.DecodePayload(line)
		if err != nil {
			sess.Metrics.DecodeFailed()
			con.Print("\n") //nolint:errcheck
			log.Error("%v", err)
		} else if err := con.Print(out); err != nil {
			return err
		}

		if err := con.Prompt(sess.Prompt); err != nil {
			return err
		}
	}
}
