// Package call drives one call attempt, from local negotiation through the
// signaling exchange to active media, for either role.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	petname "github.com/dustinkirkland/golang-petname"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/media"
	"github.com/1ureka/p2pcall/internal/negotiation"
	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

// ErrSessionClosed is returned by Run and Hold once Close has been called,
// and is the failure cause of an attempt aborted by Close.
var ErrSessionClosed = errors.New("call session closed")

var errAlreadyStarted = errors.New("call session already started")

// eventQueueSize bounds undelivered engine events. A call produces a handful
// of negotiation events plus connection state changes.
const eventQueueSize = 64

// Session is one call attempt. It owns its state machine and media engine;
// nothing is shared between sessions.
//
// Engine events are queued and consumed only by the goroutine running Run or
// Hold, which is also the only caller of engine mutations.
type Session struct {
	name    string
	cfg     config.Config
	channel signaling.Channel
	machine *negotiation.Machine
	engine  media.Engine
	events  chan media.Event

	// Owned by the Run/Hold goroutine.
	gathered  *media.Event
	applied   *media.Event
	lastState media.ConnectionState

	ctx    context.Context
	cancel context.CancelFunc
	active sync.WaitGroup

	mu      sync.Mutex
	peer    string
	started bool
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

// NewSession validates cfg and creates the engine with the session queue as
// its sink.
func NewSession(cfg config.Config, ch signaling.Channel, newEngine media.Factory) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	name := cfg.SessionName
	if name == "" {
		name = petname.Generate(2, "-")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		name:    name,
		cfg:     cfg,
		channel: ch,
		machine: negotiation.NewMachine(cfg.Role),
		events:  make(chan media.Event, eventQueueSize),
		ctx:     ctx,
		cancel:  cancel,
		peer:    cfg.PeerHost,
	}

	s.machine.OnTransition(func(from, to negotiation.Phase) {
		util.LogDebug("[%s] %s -> %s", s.name, from, to)
	})

	engine, err := newEngine(s.post)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create media engine: %w", err)
	}
	s.engine = engine

	return s, nil
}

// ---------------------------------------------------------------------------
// Observers
// ---------------------------------------------------------------------------

func (s *Session) Name() string { return s.name }

func (s *Session) Role() negotiation.Role { return s.machine.Role() }

// Machine exposes the state machine for inspection.
func (s *Session) Machine() *negotiation.Machine { return s.machine }

func (s *Session) Phase() negotiation.Phase { return s.machine.Phase() }

// Peer is the other party's host: configured for a Caller, learned from the
// offer for a Receiver.
func (s *Session) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Run performs the attempt for the session's role and returns once media is
// active or the attempt has failed. On failure the machine is in FAILED and
// the returned error carries the cause; engine resources stay until Close.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	ctx, release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if s.machine.Role() == negotiation.RoleCaller {
		err = s.runCaller(ctx)
	} else {
		err = s.runReceiver(ctx)
	}

	if err != nil {
		if !s.machine.Phase().Terminal() {
			must(s.machine.Fail(err))
		}
		util.LogError("[%s] call attempt failed: %v", s.name, err)
		return err
	}
	return nil
}

// Hold keeps an active call until connectivity is lost or ctx ends, and
// reports the phase the call is left in. A lost connection returns FAILED
// with an error wrapping negotiation.ErrConnectivityLost.
func (s *Session) Hold(ctx context.Context) (negotiation.Phase, error) {
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return s.machine.Phase(), err
	}
	defer release()

	if phase := s.machine.Phase(); phase != negotiation.PhaseMediaActive {
		return phase, fmt.Errorf("%w: hold requires %s, session is %s",
			negotiation.ErrInvalidPhase, negotiation.PhaseMediaActive, phase)
	}

	// The connection may have dropped between Run and Hold.
	if s.lastState.Lost() {
		return s.connectivityLost()
	}

	if tr, ok := s.engine.(media.Traffic); ok {
		util.StartStatsReporter(ctx, tr.Traffic)
	}
	if tk, ok := s.engine.(media.Tracks); ok {
		util.LogInfo("call: media active with %d remote track(s)", tk.RemoteTracks())
	}

	for {
		ev, err := s.next(ctx)
		if err != nil {
			return s.machine.Phase(), nil
		}
		s.handle(ev)
		if ev.Kind == media.EventConnectionState && ev.State.Lost() {
			return s.connectivityLost()
		}
	}
}

// Close aborts a running attempt, moves the machine to CLOSED and releases
// the engine. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		// Cancelling closes any listening socket and wakes blocked waits.
		s.cancel()
		s.active.Wait()

		switch phase := s.machine.Phase(); {
		case phase == negotiation.PhaseClosed:
		case phase == negotiation.PhaseMediaActive || phase == negotiation.PhaseFailed:
			must(s.machine.Close())
		default:
			must(s.machine.Fail(ErrSessionClosed))
			must(s.machine.Close())
		}

		s.closeErr = s.engine.ReleaseAllResources()
		util.LogDebug("[%s] session closed", s.name)
	})
	return s.closeErr
}

// enter registers a Run or Hold so that Close can cancel it and wait.
func (s *Session) enter(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrSessionClosed
	}
	s.active.Add(1)

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
		s.active.Done()
	}, nil
}

func (s *Session) connectivityLost() (negotiation.Phase, error) {
	must(s.machine.Fail(fmt.Errorf("media connection %s", s.lastState)))
	util.LogWarning("[%s] connection to %s lost (%s)", s.name, s.Peer(), s.lastState)
	return s.machine.Phase(), s.machine.Err()
}

// must panics on a rejected transition. The flows only attempt legal ones,
// so a rejection is a bug in this package.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
