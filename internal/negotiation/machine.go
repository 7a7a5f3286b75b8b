package negotiation

import (
	"fmt"
	"strings"
	"sync"
)

// Role fixes which side of the exchange a session plays.
type Role uint8

const (
	RoleCaller Role = iota + 1
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleReceiver:
		return "receiver"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole accepts "caller" or "receiver" in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "caller":
		return RoleCaller, nil
	case "receiver":
		return RoleReceiver, nil
	default:
		return 0, fmt.Errorf("invalid role %q: must be 'caller' or 'receiver'", s)
	}
}

// LocalKind is the record kind this role produces.
func (r Role) LocalKind() Kind {
	if r == RoleCaller {
		return KindOffer
	}
	return KindAnswer
}

// RemoteKind is the record kind this role consumes.
func (r Role) RemoteKind() Kind {
	if r == RoleCaller {
		return KindAnswer
	}
	return KindOffer
}

// Phase is a step of a call attempt.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseLocalNegotiationPending
	PhaseLocalNegotiationReady
	PhaseSignalingInFlight
	PhaseRemoteApplied
	PhaseMediaActive
	PhaseFailed
	PhaseClosed
)

var phaseNames = [...]string{
	PhaseIdle:                    "IDLE",
	PhaseLocalNegotiationPending: "LOCAL_NEGOTIATION_PENDING",
	PhaseLocalNegotiationReady:   "LOCAL_NEGOTIATION_READY",
	PhaseSignalingInFlight:       "SIGNALING_IN_FLIGHT",
	PhaseRemoteApplied:           "REMOTE_APPLIED",
	PhaseMediaActive:             "MEDIA_ACTIVE",
	PhaseFailed:                  "FAILED",
	PhaseClosed:                  "CLOSED",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Terminal reports whether no forward transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseFailed || p == PhaseClosed
}

// AllPhases lists every phase in declaration order.
func AllPhases() []Phase {
	return []Phase{
		PhaseIdle,
		PhaseLocalNegotiationPending,
		PhaseLocalNegotiationReady,
		PhaseSignalingInFlight,
		PhaseRemoteApplied,
		PhaseMediaActive,
		PhaseFailed,
		PhaseClosed,
	}
}

// Machine tracks one call attempt. A single task drives it; the mutex only
// lets other goroutines observe the phase while that task runs.
type Machine struct {
	role Role

	mu     sync.RWMutex
	phase  Phase
	local  Record
	remote Record
	cause  error

	onTransition func(from, to Phase)
}

// NewMachine returns a machine in PhaseIdle.
func NewMachine(role Role) *Machine {
	return &Machine{role: role, phase: PhaseIdle}
}

// OnTransition registers a hook invoked after every transition, outside the
// lock. Register it before driving the machine.
func (m *Machine) OnTransition(fn func(from, to Phase)) {
	m.mu.Lock()
	m.onTransition = fn
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// Begin starts local negotiation.
func (m *Machine) Begin() error {
	return m.advance(PhaseIdle, PhaseLocalNegotiationPending, nil)
}

// LocalReady records the fully gathered local description. It is the only
// gate on putting a record on the wire.
func (m *Machine) LocalReady(rec Record) error {
	return m.advance(PhaseLocalNegotiationPending, PhaseLocalNegotiationReady, func() error {
		if rec.Kind() != m.role.LocalKind() {
			return fmt.Errorf("%w: %s produces %s, got %s", ErrInvalidPhase, m.role, m.role.LocalKind(), rec.Kind())
		}
		m.local = rec
		return nil
	})
}

// SignalingStarted marks the send as initiated.
func (m *Machine) SignalingStarted() error {
	return m.advance(PhaseLocalNegotiationReady, PhaseSignalingInFlight, nil)
}

// RemoteApplied records the peer's description once the engine took it.
func (m *Machine) RemoteApplied(rec Record) error {
	return m.advance(PhaseSignalingInFlight, PhaseRemoteApplied, func() error {
		if rec.Kind() != m.role.RemoteKind() {
			return fmt.Errorf("%w: %s consumes %s, got %s", ErrInvalidPhase, m.role, m.role.RemoteKind(), rec.Kind())
		}
		if m.local.IsZero() {
			return fmt.Errorf("%w: remote record before local record", ErrInvalidPhase)
		}
		m.remote = rec
		return nil
	})
}

// Activate opens the gate for media capture.
func (m *Machine) Activate() error {
	return m.advance(PhaseRemoteApplied, PhaseMediaActive, nil)
}

// Fail ends the attempt. From MediaActive a nil or unclassified cause is
// recorded as lost connectivity; a cause already carrying one of the package
// errors keeps its classification.
func (m *Machine) Fail(cause error) error {
	m.mu.Lock()
	from := m.phase
	if from.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot fail from %s", ErrInvalidPhase, from)
	}
	if from == PhaseMediaActive {
		switch {
		case cause == nil:
			cause = ErrConnectivityLost
		case !classified(cause):
			cause = fmt.Errorf("%w: %w", ErrConnectivityLost, cause)
		}
	}
	m.phase = PhaseFailed
	m.cause = cause
	hook := m.onTransition
	m.mu.Unlock()

	if hook != nil {
		hook(from, PhaseFailed)
	}
	return nil
}

// Close tears the attempt down after it succeeded or failed.
func (m *Machine) Close() error {
	m.mu.Lock()
	from := m.phase
	if from != PhaseMediaActive && from != PhaseFailed {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot close from %s", ErrInvalidPhase, from)
	}
	m.phase = PhaseClosed
	hook := m.onTransition
	m.mu.Unlock()

	if hook != nil {
		hook(from, PhaseClosed)
	}
	return nil
}

// advance moves from -> to when the machine is in from, running apply under
// the lock before committing.
func (m *Machine) advance(from, to Phase, apply func() error) error {
	m.mu.Lock()
	if m.phase != from {
		cur := m.phase
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s attempted in %s", ErrInvalidPhase, from, to, cur)
	}
	if apply != nil {
		if err := apply(); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.phase = to
	hook := m.onTransition
	m.mu.Unlock()

	if hook != nil {
		hook(from, to)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Observers
// ---------------------------------------------------------------------------

func (m *Machine) Role() Role { return m.role }

func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Local returns the local record and whether it has been set.
func (m *Machine) Local() (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.local, !m.local.IsZero()
}

// Remote returns the remote record and whether it has been set.
func (m *Machine) Remote() (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remote, !m.remote.IsZero()
}

// Err returns the cause recorded by Fail, or nil.
func (m *Machine) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cause
}
