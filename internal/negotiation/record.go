// Package negotiation defines the offer/answer records exchanged during call
// setup and the per-call state machine that orders their production and use.
package negotiation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind tells whether a record proposes (offer) or accepts (answer) a session.
type Kind uint8

const (
	KindOffer Kind = iota + 1
	KindAnswer
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// lineTerminator is appended by the sender and stripped by FromWire.
const lineTerminator = "\n"

// Record is an immutable negotiation payload. The body is owned by the media
// engine and is never parsed here.
type Record struct {
	kind Kind
	body string
}

// FromLocal wraps a description produced by the local media engine.
func FromLocal(kind Kind, engineOutput string) (Record, error) {
	if err := checkKind(kind); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(engineOutput) == "" {
		return Record{}, fmt.Errorf("%w: engine produced an empty %s", ErrMalformedRecord, kind)
	}
	return Record{kind: kind, body: engineOutput}, nil
}

// FromWire rebuilds a record from raw transport text. Only the single trailing
// line terminator added by the sender is removed; the rest is kept verbatim.
func FromWire(raw string, expected Kind) (Record, error) {
	if err := checkKind(expected); err != nil {
		return Record{}, err
	}

	body := strings.TrimSuffix(raw, lineTerminator)
	if strings.TrimSpace(body) == "" {
		return Record{}, fmt.Errorf("%w: empty %s payload", ErrMalformedRecord, expected)
	}
	if !utf8.ValidString(body) {
		return Record{}, fmt.Errorf("%w: %s payload is not valid UTF-8", ErrMalformedRecord, expected)
	}

	return Record{kind: expected, body: body}, nil
}

func checkKind(k Kind) error {
	if k != KindOffer && k != KindAnswer {
		return fmt.Errorf("%w: unknown record %s", ErrMalformedRecord, k)
	}
	return nil
}

// Kind returns the record's role in the exchange.
func (r Record) Kind() Kind { return r.kind }

// Body returns the opaque description text.
func (r Record) Body() string { return r.body }

// IsZero reports whether r was never constructed.
func (r Record) IsZero() bool { return r.kind == 0 }

// Wire returns the bytes a sender puts on the connection.
func (r Record) Wire() []byte {
	return []byte(r.body + lineTerminator)
}
