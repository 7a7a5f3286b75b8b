package call

import (
	"context"
	"fmt"

	"github.com/1ureka/p2pcall/internal/media"
	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

// runCaller: offer -> bind answer port -> send offer -> receive answer ->
// apply answer -> media.
func (s *Session) runCaller(ctx context.Context) error {
	peer := s.Peer()

	// ── 1. Local offer ─────────────────────────────────────────────────
	must(s.machine.Begin())
	if err := s.engine.CreateLocalDescription(negotiation.KindOffer, nil); err != nil {
		return fmt.Errorf("%w: create offer: %w", negotiation.ErrNegotiationRejected, err)
	}
	offer, err := s.awaitGathered(ctx)
	if err != nil {
		return err
	}
	must(s.machine.LocalReady(offer))

	// ── 2. Exchange ────────────────────────────────────────────────────
	// The answer port is bound before the offer leaves, so a fast Receiver
	// cannot answer into a closed port.
	must(s.machine.SignalingStarted())
	ln, err := s.channel.Listen(ctx, s.cfg.ListenPort())
	if err != nil {
		return err
	}
	defer ln.Close()

	util.LogInfo("[%s] sending offer to %s:%d", s.name, peer, s.cfg.SendPort())
	if err := s.channel.Send(ctx, offer, peer, s.cfg.SendPort()); err != nil {
		return err
	}

	util.LogInfo("[%s] waiting for answer on port %d", s.name, s.cfg.ListenPort())
	in, err := s.receive(ctx, ln)
	if err != nil {
		return err
	}
	if in.From != peer {
		util.LogWarning("[%s] answer came from %s, expected %s", s.name, in.From, peer)
	}
	answer, err := negotiation.FromWire(in.Body, negotiation.KindAnswer)
	if err != nil {
		return err
	}

	// ── 3. Remote answer ───────────────────────────────────────────────
	if err := s.engine.ApplyRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: apply answer: %w", negotiation.ErrNegotiationRejected, err)
	}
	if err := s.awaitRemoteApplied(ctx); err != nil {
		return err
	}
	must(s.machine.RemoteApplied(answer))

	return s.activate()
}

// runReceiver: receive offer -> apply offer and create answer -> send answer
// to the offer's sender -> media.
func (s *Session) runReceiver(ctx context.Context) error {
	// ── 1. Inbound offer ───────────────────────────────────────────────
	ln, err := s.channel.Listen(ctx, s.cfg.ListenPort())
	if err != nil {
		return err
	}
	util.LogInfo("[%s] waiting for an offer on port %d", s.name, s.cfg.ListenPort())
	in, err := s.receive(ctx, ln)
	if err != nil {
		return err
	}
	offer, err := negotiation.FromWire(in.Body, negotiation.KindOffer)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.peer = in.From
	s.mu.Unlock()
	util.LogInfo("[%s] offer received from %s", s.name, in.From)

	// ── 2. Local answer ────────────────────────────────────────────────
	must(s.machine.Begin())
	if err := s.engine.CreateLocalDescription(negotiation.KindAnswer, &offer); err != nil {
		return fmt.Errorf("%w: create answer: %w", negotiation.ErrNegotiationRejected, err)
	}
	if err := s.awaitRemoteApplied(ctx); err != nil {
		return err
	}
	answer, err := s.awaitGathered(ctx)
	if err != nil {
		return err
	}
	must(s.machine.LocalReady(answer))

	// ── 3. Send answer back to the offer's sender ──────────────────────
	must(s.machine.SignalingStarted())
	util.LogInfo("[%s] sending answer to %s:%d", s.name, in.From, s.cfg.SendPort())
	if err := s.channel.Send(ctx, answer, in.From, s.cfg.SendPort()); err != nil {
		return err
	}
	must(s.machine.RemoteApplied(offer))

	return s.activate()
}

func (s *Session) activate() error {
	must(s.machine.Activate())
	if err := s.engine.StartLocalMediaCapture(); err != nil {
		return fmt.Errorf("%w: start capture: %w", negotiation.ErrNegotiationRejected, err)
	}
	util.LogSuccess("[%s] call with %s is active", s.name, s.Peer())
	return nil
}

// receive waits for the single inbound record, bounded by AcceptTimeout when
// one is configured.
func (s *Session) receive(ctx context.Context, ln signaling.Listener) (signaling.Inbound, error) {
	if s.cfg.AcceptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.AcceptTimeout)
		defer cancel()
	}
	return ln.Receive(ctx)
}

// ---------------------------------------------------------------------------
// Event queue
// ---------------------------------------------------------------------------

// post is the engine's Sink. It never blocks the engine.
func (s *Session) post(ev media.Event) {
	select {
	case s.events <- ev:
	default:
		util.LogWarning("[%s] event queue full, dropped %s", s.name, ev.Kind)
	}
}

func (s *Session) next(ctx context.Context) (media.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-ctx.Done():
		return media.Event{}, ctx.Err()
	}
}

// handle records ev in session state.
func (s *Session) handle(ev media.Event) {
	switch ev.Kind {
	case media.EventLocalDescription:
		util.LogDebug("[%s] local %s created, gathering candidates", s.name, ev.Record.Kind())
	case media.EventGatheringComplete:
		s.gathered = &ev
	case media.EventRemoteApplied:
		s.applied = &ev
	case media.EventConnectionState:
		s.lastState = ev.State
		util.LogDebug("[%s] media connection %s", s.name, ev.State)
	}
}

// awaitGathered processes events until gathering completes and returns the
// final local record.
func (s *Session) awaitGathered(ctx context.Context) (negotiation.Record, error) {
	for s.gathered == nil {
		ev, err := s.next(ctx)
		if err != nil {
			return negotiation.Record{}, fmt.Errorf("waiting for candidate gathering: %w", err)
		}
		s.handle(ev)
	}
	if s.gathered.Err != nil {
		return negotiation.Record{}, fmt.Errorf("%w: gathering: %w", negotiation.ErrNegotiationRejected, s.gathered.Err)
	}
	return s.gathered.Record, nil
}

// awaitRemoteApplied processes events until the engine confirms the remote
// description.
func (s *Session) awaitRemoteApplied(ctx context.Context) error {
	for s.applied == nil {
		ev, err := s.next(ctx)
		if err != nil {
			return fmt.Errorf("waiting for remote description: %w", err)
		}
		s.handle(ev)
	}
	if s.applied.Err != nil {
		return fmt.Errorf("%w: %w", negotiation.ErrNegotiationRejected, s.applied.Err)
	}
	return nil
}
