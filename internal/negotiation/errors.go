package negotiation

import "errors"

// Failure taxonomy shared by every layer of a call attempt. Callers wrap these
// with context via fmt.Errorf("%w: ...") and test them with errors.Is.
var (
	// ErrMalformedRecord reports an empty or unreadable negotiation payload.
	ErrMalformedRecord = errors.New("malformed negotiation record")

	// ErrSignalingTimeout reports a signaling connect that exceeded its bound.
	ErrSignalingTimeout = errors.New("signaling connect timed out")

	// ErrSignalingIO reports a bind, accept, read or write failure.
	ErrSignalingIO = errors.New("signaling I/O failure")

	// ErrInvalidPhase reports a state machine contract violation. It means the
	// orchestrator is broken, not that the network misbehaved.
	ErrInvalidPhase = errors.New("invalid negotiation phase")

	// ErrNegotiationRejected reports that the media engine refused a local or
	// remote description.
	ErrNegotiationRejected = errors.New("negotiation rejected by media engine")

	// ErrConnectivityLost reports a disconnect after media was active.
	ErrConnectivityLost = errors.New("connectivity lost")
)

var taxonomy = []error{
	ErrMalformedRecord,
	ErrSignalingTimeout,
	ErrSignalingIO,
	ErrInvalidPhase,
	ErrNegotiationRejected,
	ErrConnectivityLost,
}

// classified reports whether err already wraps one of the errors above.
func classified(err error) bool {
	for _, target := range taxonomy {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
