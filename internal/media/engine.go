// Package media is the boundary between a call and the real-time media stack.
// An Engine produces and consumes negotiation records and reports progress
// as Events; it never calls back into the call synchronously.
package media

import (
	"github.com/1ureka/p2pcall/internal/negotiation"
)

// Engine is what a call needs from the media stack. Methods return only
// immediate failures; completions arrive later as Events on the Sink the
// engine was built with.
type Engine interface {
	// CreateLocalDescription starts producing the local record of kind. For
	// an answer, offer is the received offer: the engine applies it first and
	// reports that with EventRemoteApplied.
	CreateLocalDescription(kind negotiation.Kind, offer *negotiation.Record) error

	// ApplyRemoteDescription hands the peer's record to the engine.
	ApplyRemoteDescription(rec negotiation.Record) error

	// StartLocalMediaCapture begins sending local audio and video.
	StartLocalMediaCapture() error

	// ReleaseAllResources stops everything. Calling it again is a no-op.
	ReleaseAllResources() error
}

// Traffic is implemented by engines that can report transport byte counters.
type Traffic interface {
	Traffic() (sent, recv uint64)
}

// Tracks is implemented by engines that count the tracks received from the peer.
type Tracks interface {
	RemoteTracks() int
}

// EventKind identifies an Event.
type EventKind int

const (
	// EventLocalDescription: the local description exists; Record holds it
	// before candidate gathering.
	EventLocalDescription EventKind = iota + 1
	// EventGatheringComplete: Record holds the final local description, the
	// one that is sent to the peer.
	EventGatheringComplete
	// EventRemoteApplied: the remote description was applied, or Err says
	// why not.
	EventRemoteApplied
	// EventConnectionState: the media connection moved to State.
	EventConnectionState
)

func (k EventKind) String() string {
	switch k {
	case EventLocalDescription:
		return "local-description"
	case EventGatheringComplete:
		return "gathering-complete"
	case EventRemoteApplied:
		return "remote-applied"
	case EventConnectionState:
		return "connection-state"
	default:
		return "unknown"
	}
}

// Event is a notification from an Engine.
type Event struct {
	Kind   EventKind
	Record negotiation.Record
	State  ConnectionState
	Err    error
}

// Sink receives events. Engines may call it from any goroutine; it must not
// block.
type Sink func(Event)

// ConnectionState of the media connection.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Lost reports whether the state means media can no longer flow.
func (s ConnectionState) Lost() bool {
	return s == StateDisconnected || s == StateFailed || s == StateClosed
}

// Factory builds an Engine that reports to sink.
type Factory func(sink Sink) (Engine, error)
