package signaling

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/util"
)

// TCPChannel is the default backend: one plain TCP connection per record, the
// body written verbatim and terminated by the sender closing its write side.
type TCPChannel struct {
	connectTimeout time.Duration
	listenHost     string

	// dial is swapped in tests to simulate an unreachable peer.
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewTCPChannel returns a channel whose connects are bounded by
// connectTimeout. Listeners bind on all interfaces.
func NewTCPChannel(connectTimeout time.Duration) *TCPChannel {
	d := &net.Dialer{}
	return &TCPChannel{
		connectTimeout: connectTimeout,
		dial:           d.DialContext,
	}
}

// WithListenHost restricts listeners to one local address (e.g. 127.0.0.1).
func (c *TCPChannel) WithListenHost(host string) *TCPChannel {
	c.listenHost = host
	return c
}

// Send opens a connection to host:port, writes the record and closes.
func (c *TCPChannel) Send(ctx context.Context, rec negotiation.Record, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	start := time.Now()
	conn, err := c.dial(dialCtx, "tcp", addr)
	if err != nil {
		return connectError(ctx, dialCtx, addr, err)
	}
	defer conn.Close()
	util.LogDebug("signaling: connected to %s in %s", addr, time.Since(start).Round(time.Millisecond))

	data := rec.Wire()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("%w: write %s to %s: %w", negotiation.ErrSignalingIO, rec.Kind(), addr, err)
	}

	// Half-close so the reader sees end-of-stream even before Close.
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return fmt.Errorf("%w: close write side to %s: %w", negotiation.ErrSignalingIO, addr, err)
		}
	}

	util.LogDebug("signaling: sent %s (%d bytes) to %s", rec.Kind(), len(data), addr)
	return nil
}

// Listen binds port on the configured host.
func (c *TCPChannel) Listen(ctx context.Context, port int) (Listener, error) {
	addr := net.JoinHostPort(c.listenHost, strconv.Itoa(port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %w", negotiation.ErrSignalingIO, addr, err)
	}

	util.LogDebug("signaling: listening on %s", ln.Addr())
	return &tcpListener{ln: ln}, nil
}

// ---------------------------------------------------------------------------
// Listener
// ---------------------------------------------------------------------------

type tcpListener struct {
	ln        net.Listener
	closeOnce sync.Once
	closeErr  error
}

// Receive accepts one connection and reads it to end-of-stream.
func (l *tcpListener) Receive(ctx context.Context) (Inbound, error) {
	defer l.Close()
	addr := l.ln.Addr().String()

	// Close the listener (and the accepted conn) when ctx is done so that
	// Accept/Read return an error.
	var guard connGuard
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
			guard.cancel()
		case <-done:
		}
	}()

	c, err := l.ln.Accept()
	if err != nil {
		return Inbound{}, receiveError(ctx, "accept", addr, err)
	}
	defer c.Close()
	if !guard.track(c) {
		return Inbound{}, receiveError(ctx, "accept", addr, ctx.Err())
	}

	// Exactly one connection per listener.
	l.Close()

	from := util.SplitHost(c.RemoteAddr().String())
	util.LogDebug("signaling: accepted %s on %s", c.RemoteAddr(), addr)

	data, err := io.ReadAll(io.LimitReader(c, maxRecordSize+1))
	if err != nil {
		return Inbound{}, receiveError(ctx, "read", addr, err)
	}
	if len(data) > maxRecordSize {
		return Inbound{}, fmt.Errorf("%w: record from %s exceeds %d bytes", negotiation.ErrSignalingIO, from, maxRecordSize)
	}

	return Inbound{Body: string(data), From: from}, nil
}

func (l *tcpListener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ln.Close()
	})
	return l.closeErr
}

// connGuard closes the accepted connection on cancellation, including when
// cancellation wins the race against Accept returning.
type connGuard struct {
	mu        sync.Mutex
	conn      net.Conn
	cancelled bool
}

func (g *connGuard) cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = true
	if g.conn != nil {
		g.conn.Close()
	}
}

// track records c, or closes it and returns false if cancel already ran.
func (g *connGuard) track(c net.Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelled {
		c.Close()
		return false
	}
	g.conn = c
	return true
}
