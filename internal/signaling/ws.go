package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/util"
)

// wsPath is the route both sides agree on.
const wsPath = "/signal"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSChannel carries each record as a single text message over a short-lived
// WebSocket connection. It keeps the one-shot contract of TCPChannel and
// suits networks where only HTTP traffic is allowed between the hosts.
type WSChannel struct {
	connectTimeout time.Duration
	listenHost     string
}

// NewWSChannel returns a WebSocket channel whose dial and handshake are
// bounded by connectTimeout.
func NewWSChannel(connectTimeout time.Duration) *WSChannel {
	return &WSChannel{connectTimeout: connectTimeout}
}

// WithListenHost restricts listeners to one local address.
func (c *WSChannel) WithListenHost(host string) *WSChannel {
	c.listenHost = host
	return c
}

// Send dials ws://host:port/signal, writes the record and closes normally.
func (c *WSChannel) Send(ctx context.Context, rec negotiation.Record, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	url := "ws://" + addr + wsPath

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.connectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return connectError(ctx, dialCtx, addr, err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, rec.Wire()); err != nil {
		return fmt.Errorf("%w: write %s to %s: %w", negotiation.ErrSignalingIO, rec.Kind(), addr, err)
	}

	// Best effort: the record is already delivered.
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	util.LogDebug("signaling: sent %s over WebSocket to %s", rec.Kind(), url)
	return nil
}

// Listen starts an HTTP server on port that upgrades the first request on
// /signal and refuses the rest.
func (c *WSChannel) Listen(ctx context.Context, port int) (Listener, error) {
	addr := net.JoinHostPort(c.listenHost, strconv.Itoa(port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %w", negotiation.ErrSignalingIO, addr, err)
	}

	l := &wsListener{
		ln:     ln,
		connCh: make(chan *websocket.Conn, 1),
	}

	r := chi.NewRouter()
	r.Get(wsPath, l.handleWS)
	l.srv = &http.Server{Handler: r, ReadHeaderTimeout: c.connectTimeout}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogDebug("signaling: WebSocket server on %s stopped: %v", addr, err)
		}
	}()

	util.LogDebug("signaling: WebSocket listening on %s%s", ln.Addr(), wsPath)
	return l, nil
}

// ---------------------------------------------------------------------------
// Listener
// ---------------------------------------------------------------------------

type wsListener struct {
	ln     net.Listener
	srv    *http.Server
	connCh chan *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func (l *wsListener) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only accept the first sender.
	select {
	case l.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "record already received"))
		conn.Close()
	}
}

// Receive waits for the first upgraded connection and reads one message.
func (l *wsListener) Receive(ctx context.Context) (Inbound, error) {
	defer l.Close()
	addr := l.ln.Addr().String()

	var conn *websocket.Conn
	select {
	case conn = <-l.connCh:
	case <-ctx.Done():
		return Inbound{}, receiveError(ctx, "accept", addr, ctx.Err())
	}
	defer conn.Close()

	// Stop accepting further senders; the hijacked conn stays open.
	l.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(maxRecordSize)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Inbound{}, receiveError(ctx, "read", addr, err)
	}

	return Inbound{Body: string(data), From: util.SplitHost(conn.RemoteAddr().String())}, nil
}

func (l *wsListener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.srv.Close()
		select {
		case conn := <-l.connCh:
			conn.Close()
		default:
		}
	})
	return l.closeErr
}
