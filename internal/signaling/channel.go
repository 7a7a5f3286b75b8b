// Package signaling delivers exactly one negotiation record in each direction
// between two hosts. Every backend follows the same one-shot contract: a send
// opens a fresh connection, writes one record and closes; a listener accepts
// exactly one inbound record and then releases its socket.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/1ureka/p2pcall/internal/negotiation"
)

// maxRecordSize caps how much a listener reads from one connection.
const maxRecordSize = 1 << 20

// Inbound is a raw record as it arrived, with the sender's host.
type Inbound struct {
	Body string
	From string
}

// Channel is a signaling backend.
type Channel interface {
	// Send delivers rec to host:port. The connect step is bounded; exceeding
	// it yields negotiation.ErrSignalingTimeout, any other failure
	// negotiation.ErrSignalingIO.
	Send(ctx context.Context, rec negotiation.Record, host string, port int) error

	// Listen binds port without accepting yet.
	Listen(ctx context.Context, port int) (Listener, error)
}

// Listener is a bound, single-use inbound endpoint.
type Listener interface {
	// Receive blocks until one sender has delivered a record, or ctx ends.
	// The listener is closed when Receive returns, whatever the outcome.
	Receive(ctx context.Context) (Inbound, error)

	Close() error
}

// ReceiveOnce binds port, accepts exactly one record and closes the socket.
func ReceiveOnce(ctx context.Context, ch Channel, port int) (Inbound, error) {
	l, err := ch.Listen(ctx, port)
	if err != nil {
		return Inbound{}, err
	}
	defer l.Close()
	return l.Receive(ctx)
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// connectError maps a failed connect to the taxonomy. dialCtx is the bounded
// context the connect ran under, parent the caller's.
func connectError(parent, dialCtx context.Context, addr string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: connect to %s: %w", negotiation.ErrSignalingIO, addr, parent.Err())
	}
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: connect to %s: %w", negotiation.ErrSignalingTimeout, addr, err)
	}
	return fmt.Errorf("%w: connect to %s: %w", negotiation.ErrSignalingIO, addr, err)
}

// receiveError maps a failed accept or read. A bounded wait that expires is a
// timeout; anything else, including cancellation, is an I/O failure.
func receiveError(ctx context.Context, step, addr string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s on %s: %w", negotiation.ErrSignalingTimeout, step, addr, ctx.Err())
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return fmt.Errorf("%w: %s on %s: %w", negotiation.ErrSignalingIO, step, addr, err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
