package signaling

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/1ureka/p2pcall/internal/negotiation"
)

// freePort asks the kernel for an unused loopback port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func record(t *testing.T, kind negotiation.Kind, body string) negotiation.Record {
	t.Helper()
	rec, err := negotiation.FromLocal(kind, body)
	if err != nil {
		t.Fatalf("FromLocal: %v", err)
	}
	return rec
}

func loopbackTCP() *TCPChannel {
	return NewTCPChannel(5 * time.Second).WithListenHost("127.0.0.1")
}

type result struct {
	in  Inbound
	err error
}

func receiveAsync(ctx context.Context, l Listener) <-chan result {
	ch := make(chan result, 1)
	go func() {
		in, err := l.Receive(ctx)
		ch <- result{in, err}
	}()
	return ch
}

// TestTCPRoundTrip verifies that a sent record arrives verbatim, followed only
// by the sender's newline, together with the sender's host.
func TestTCPRoundTrip(t *testing.T) {
	ch := loopbackTCP()
	port := freePort(t)
	ctx := context.Background()

	body := "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

	l, err := ch.Listen(ctx, port)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	got := receiveAsync(ctx, l)

	if err := ch.Send(ctx, record(t, negotiation.KindOffer, body), "127.0.0.1", port); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("Receive: %v", r.err)
		}
		if r.in.Body != body+"\n" {
			t.Errorf("Body mismatch: got %q, want %q", r.in.Body, body+"\n")
		}
		if r.in.From != "127.0.0.1" {
			t.Errorf("From mismatch: got %q, want 127.0.0.1", r.in.From)
		}
		rec, err := negotiation.FromWire(r.in.Body, negotiation.KindOffer)
		if err != nil {
			t.Fatalf("FromWire: %v", err)
		}
		if rec.Body() != body {
			t.Errorf("FromWire body mismatch: got %q, want %q", rec.Body(), body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Receive did not return")
	}
}

// TestTCPReceiveBlocksUntilConnection verifies that Receive neither returns
// early nor times out while nobody connects.
func TestTCPReceiveBlocksUntilConnection(t *testing.T) {
	ch := loopbackTCP()
	port := freePort(t)
	ctx := context.Background()

	l, err := ch.Listen(ctx, port)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	got := receiveAsync(ctx, l)

	select {
	case r := <-got:
		t.Fatalf("Receive returned early: %+v", r)
	case <-time.After(700 * time.Millisecond):
	}

	if err := ch.Send(ctx, record(t, negotiation.KindAnswer, "LATE"), "127.0.0.1", port); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case r := <-got:
		if r.err != nil || r.in.Body != "LATE\n" {
			t.Fatalf("Receive: got %q, %v", r.in.Body, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Receive did not return after connection")
	}
}

// TestTCPSendTimeout verifies that a connect that never completes fails with
// ErrSignalingTimeout at the bound instead of hanging.
func TestTCPSendTimeout(t *testing.T) {
	ch := NewTCPChannel(300 * time.Millisecond)
	ch.dial = func(ctx context.Context, _, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	start := time.Now()
	err := ch.Send(context.Background(), record(t, negotiation.KindOffer, "OFFER"), "10.255.255.1", 10001)
	elapsed := time.Since(start)

	if !errors.Is(err, negotiation.ErrSignalingTimeout) {
		t.Fatalf("got %v, want ErrSignalingTimeout", err)
	}
	if elapsed < 250*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("timeout took %s, want about 300ms", elapsed)
	}
}

// TestTCPSendUnreachableBounded dials a non-routable address with the real
// dialer. Depending on the host network it fails by timeout or immediately;
// either way it must be a classified error within the bound.
func TestTCPSendUnreachableBounded(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the real network stack")
	}
	ch := NewTCPChannel(5 * time.Second)

	start := time.Now()
	err := ch.Send(context.Background(), record(t, negotiation.KindOffer, "OFFER"), "10.255.255.1", 10001)
	elapsed := time.Since(start)

	if !errors.Is(err, negotiation.ErrSignalingTimeout) && !errors.Is(err, negotiation.ErrSignalingIO) {
		t.Fatalf("got %v, want a signaling error", err)
	}
	if elapsed > 6*time.Second {
		t.Errorf("Send took %s, want at most 5s plus slack", elapsed)
	}
}

func TestTCPSendRefused(t *testing.T) {
	ch := loopbackTCP()
	port := freePort(t)

	err := ch.Send(context.Background(), record(t, negotiation.KindOffer, "OFFER"), "127.0.0.1", port)
	if !errors.Is(err, negotiation.ErrSignalingIO) {
		t.Fatalf("got %v, want ErrSignalingIO", err)
	}
}

// TestTCPConcurrentListenersSamePort verifies the exactly-one-accept rule: a
// second listener cannot share the port while the first is bound, and after
// the first completes a new listener only sees its own connection.
func TestTCPConcurrentListenersSamePort(t *testing.T) {
	ch := loopbackTCP()
	port := freePort(t)
	ctx := context.Background()

	first, err := ch.Listen(ctx, port)
	if err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	if _, err := ch.Listen(ctx, port); !errors.Is(err, negotiation.ErrSignalingIO) {
		t.Fatalf("second Listen while bound: got %v, want ErrSignalingIO", err)
	}

	firstGot := receiveAsync(ctx, first)
	if err := ch.Send(ctx, record(t, negotiation.KindOffer, "FIRST"), "127.0.0.1", port); err != nil {
		t.Fatalf("Send FIRST: %v", err)
	}
	r := <-firstGot
	if r.err != nil || r.in.Body != "FIRST\n" {
		t.Fatalf("first Receive: got %q, %v", r.in.Body, r.err)
	}

	second, err := ch.Listen(ctx, port)
	if err != nil {
		t.Fatalf("Listen after first completed: %v", err)
	}
	secondGot := receiveAsync(ctx, second)

	select {
	case r := <-secondGot:
		t.Fatalf("second Receive observed a connection it did not get: %+v", r)
	case <-time.After(300 * time.Millisecond):
	}

	if err := ch.Send(ctx, record(t, negotiation.KindOffer, "SECOND"), "127.0.0.1", port); err != nil {
		t.Fatalf("Send SECOND: %v", err)
	}
	r = <-secondGot
	if r.err != nil || r.in.Body != "SECOND\n" {
		t.Fatalf("second Receive: got %q, %v", r.in.Body, r.err)
	}
}

// TestTCPListenerClosedAfterReceive verifies the socket is released after the
// first connection, so later senders are refused.
func TestTCPListenerClosedAfterReceive(t *testing.T) {
	ch := loopbackTCP()
	port := freePort(t)
	ctx := context.Background()

	got := make(chan result, 1)
	go func() {
		in, err := ReceiveOnce(ctx, ch, port)
		got <- result{in, err}
	}()

	// Give ReceiveOnce time to bind.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := ch.Send(ctx, record(t, negotiation.KindOffer, "ONLY"), "127.0.0.1", port)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Send never reached the listener: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if r := <-got; r.err != nil {
		t.Fatalf("ReceiveOnce: %v", r.err)
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	if err == nil {
		conn.Close()
		t.Fatal("listener still accepting after ReceiveOnce returned")
	}
}

// TestTCPReceiveCancel verifies that cancelling ctx closes the listening
// socket from outside the blocked call.
func TestTCPReceiveCancel(t *testing.T) {
	ch := loopbackTCP()
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())

	l, err := ch.Listen(ctx, port)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	got := receiveAsync(ctx, l)

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case r := <-got:
		if !errors.Is(r.err, negotiation.ErrSignalingIO) || !errors.Is(r.err, context.Canceled) {
			t.Fatalf("got %v, want ErrSignalingIO wrapping context.Canceled", r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not unblock on cancel")
	}

	// Port is free again.
	l2, err := ch.Listen(context.Background(), port)
	if err != nil {
		t.Fatalf("re-Listen after cancel: %v", err)
	}
	l2.Close()
}

func TestTCPReceiveBoundedWait(t *testing.T) {
	ch := loopbackTCP()
	port := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := ReceiveOnce(ctx, ch, port)
	if !errors.Is(err, negotiation.ErrSignalingTimeout) {
		t.Fatalf("got %v, want ErrSignalingTimeout", err)
	}
}

// TestConnGuardCancelBeforeTrack covers cancellation landing between Accept
// returning and the connection being recorded.
func TestConnGuardCancelBeforeTrack(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	var g connGuard
	g.cancel()
	if g.track(local) {
		t.Fatal("track succeeded after cancel")
	}

	remote.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := remote.Read(make([]byte, 1)); err == nil || isTimeout(err) {
		t.Fatalf("connection left open after late cancel: %v", err)
	}
}

func TestConnGuardCancelAfterTrack(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	var g connGuard
	if !g.track(local) {
		t.Fatal("track failed before cancel")
	}
	g.cancel()

	remote.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := remote.Read(make([]byte, 1)); err == nil || isTimeout(err) {
		t.Fatalf("connection left open after cancel: %v", err)
	}
}

// TestTCPReceiveCancelDuringRead verifies that a sender holding its
// connection open cannot keep Receive blocked past cancellation.
func TestTCPReceiveCancelDuringRead(t *testing.T) {
	ch := loopbackTCP()
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := ch.Listen(ctx, port)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	got := receiveAsync(ctx, l)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte("PARTIAL"))

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case r := <-got:
		if !errors.Is(r.err, negotiation.ErrSignalingIO) {
			t.Fatalf("got %v, want ErrSignalingIO", r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive stayed blocked on an open connection after cancel")
	}
}
